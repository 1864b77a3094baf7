package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/cfg"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/database/dbtest"
)

type recordingInvalidator struct {
	mu      sync.Mutex
	changed []string
}

func (r *recordingInvalidator) ChapterChanged(ctx context.Context, slug string, chapterID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, slug)
	return nil
}

func TestPublishScheduledTask(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	s := dbtest.Series(t, db, "blame", "Blame!")
	chapters := database.NewChapterRepository(db)

	now := time.Now().UTC()
	due := &database.Chapter{SeriesID: s.ID, Number: 1, Published: now.Add(-time.Minute)}
	later := &database.Chapter{SeriesID: s.ID, Number: 2, Published: now.Add(time.Hour)}
	old := &database.Chapter{SeriesID: s.ID, Number: 3, Published: now.Add(-time.Hour)}
	for _, c := range []*database.Chapter{due, later, old} {
		if err := chapters.Create(ctx, c); err != nil {
			t.Fatalf("Failed to create chapter: %v", err)
		}
	}

	inv := &recordingInvalidator{}
	task := NewPublishScheduledTask(now.Add(-5*time.Minute), now, db, inv)
	if err := task.Execute(ctx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(inv.changed) != 1 || inv.changed[0] != "blame" {
		t.Errorf("Expected one invalidation for blame, got %v", inv.changed)
	}
	if task.Base().Type != TaskTypePublishScheduled {
		t.Errorf("Expected type %s, got %s", TaskTypePublishScheduled, task.Base().Type)
	}
}

func TestPurgeUploadsTask(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	s := dbtest.Series(t, db, "blame", "Blame!")
	c := dbtest.Chapter(t, db, s, nil, 1)

	blobs, err := blob.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	uploads := database.NewUploadRepository(db)

	now := time.Now().UTC()
	stale := &database.Upload{ID: "stale", ChapterID: c.ID, Path: blob.UploadPath("stale"), Size: 3, Created: now.Add(-2 * time.Hour)}
	fresh := &database.Upload{ID: "fresh", ChapterID: c.ID, Path: blob.UploadPath("fresh"), Size: 3, Created: now}
	for _, u := range []*database.Upload{stale, fresh} {
		if err := blobs.Put(ctx, u.Path, strings.NewReader("zip"), 3); err != nil {
			t.Fatalf("Failed to store upload: %v", err)
		}
		if err := uploads.Create(ctx, u); err != nil {
			t.Fatalf("Failed to create upload: %v", err)
		}
	}

	if err := NewPurgeUploadsTask(now.Add(-UploadTTL), db, blobs).Execute(ctx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if _, err := uploads.Get(ctx, "stale"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected stale upload to be purged, got %v", err)
	}
	if _, err := blobs.Stat(ctx, stale.Path); !errors.Is(err, blob.ErrNotExist) {
		t.Errorf("Expected stale blob to be removed, got %v", err)
	}
	if _, err := uploads.Get(ctx, "fresh"); err != nil {
		t.Errorf("Expected fresh upload to survive, got %v", err)
	}
}

type failingTask struct {
	Task
	mu    sync.Mutex
	calls int
}

func (f *failingTask) Execute(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("boom")
}

func TestSchedulerRetries(t *testing.T) {
	cfg.Set(&cfg.Cfg{WorkerCount: 1, SchedulerInterval: 3600})
	db := dbtest.Open(t)
	blobs, _ := blob.NewFileStorage(t.TempDir())

	s := NewScheduler(db, blobs, &recordingInvalidator{})
	task := &failingTask{Task: NewTask(TaskTypePurgeUploads, "test")}
	task.MaxRetries = 1

	s.executeTask(0, task)
	if task.Retries != 1 {
		t.Errorf("Expected 1 retry, got %d", task.Retries)
	}
	if _, ok := task.Retry(); ok {
		t.Error("Expected no retries left")
	}
	s.Stop()
}

func TestTaskRetryBackoff(t *testing.T) {
	task := NewTask(TaskTypePurgeUploads, "test")
	task.MaxRetries = 7

	expected := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, want := range expected {
		delay, ok := task.Retry()
		if !ok {
			t.Fatalf("Expected retry %d to be allowed", i+1)
		}
		if delay != want*time.Second {
			t.Errorf("Retry %d: expected delay %v, got %v", i+1, want*time.Second, delay)
		}
	}
	if _, ok := task.Retry(); ok {
		t.Error("Expected retries to be exhausted")
	}
	if task.Retries != 7 {
		t.Errorf("Expected 7 retries, got %d", task.Retries)
	}
}

func TestSchedulerEnqueue(t *testing.T) {
	cfg.Set(&cfg.Cfg{WorkerCount: 1, SchedulerInterval: 3600})
	db := dbtest.Open(t)
	blobs, _ := blob.NewFileStorage(t.TempDir())
	inv := &recordingInvalidator{}

	s := NewScheduler(db, blobs, inv)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	s.enqueueStartupTasks()
	if len(s.taskQueue) != 1 {
		t.Fatalf("Expected purge task at startup, got %d tasks", len(s.taskQueue))
	}
	<-s.taskQueue

	s.now = func() time.Time { return start.Add(time.Minute) }
	s.enqueueTasks()
	if len(s.taskQueue) != 2 {
		t.Fatalf("Expected publish and purge tasks, got %d", len(s.taskQueue))
	}
	publish, ok := (<-s.taskQueue).(*PublishScheduledTask)
	if !ok {
		t.Fatal("Expected PublishScheduledTask first")
	}
	if !publish.From.Equal(start) || !publish.To.Equal(start.Add(time.Minute)) {
		t.Errorf("Expected window (%v, %v], got (%v, %v]", start, start.Add(time.Minute), publish.From, publish.To)
	}
	if !s.lastTick.Equal(start.Add(time.Minute)) {
		t.Errorf("Expected last tick to advance, got %v", s.lastTick)
	}
	s.Stop()
}
