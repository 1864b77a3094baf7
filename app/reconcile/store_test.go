package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/database/dbtest"
)

type staticSites []int64

func (s staticSites) IDs() []int64 { return s }

type recordingInvalidator struct {
	series   []string
	chapters []int64
}

func (r *recordingInvalidator) SeriesChanged(ctx context.Context, slug string) error {
	r.series = append(r.series, slug)
	return nil
}

func (r *recordingInvalidator) ChapterChanged(ctx context.Context, slug string, chapterID int64) error {
	r.chapters = append(r.chapters, chapterID)
	return nil
}

type fixture struct {
	db    *database.DB
	blobs *blob.FileStorage
	store *Store
	inv   *recordingInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	blobs, err := blob.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	inv := &recordingInvalidator{}
	return &fixture{db: db, blobs: blobs, store: NewStore(db, blobs, staticSites{1}, inv), inv: inv}
}

// addPage stores a page image for c and returns its path.
func (f *fixture) addPage(t *testing.T, slug string, c *database.Chapter) string {
	t.Helper()
	ctx := context.Background()
	image := blob.PagePath(slug, c.VolumeKey(), c.NumberString(), blob.Fingerprint([]byte("page")), ".png")
	if err := f.blobs.Put(ctx, image, strings.NewReader("page"), 4); err != nil {
		t.Fatal(err)
	}
	if err := database.NewPageRepository(f.db).Create(ctx, &database.Page{ChapterID: c.ID, Number: 1, Image: image}); err != nil {
		t.Fatal(err)
	}
	return image
}

func (f *fixture) rename(t *testing.T, id int64, slug string) {
	t.Helper()
	ctx := context.Background()
	repo := database.NewSeriesRepository(f.db)
	old, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	updated := *old
	updated.Slug = slug
	if err := f.store.UpdateSeries(ctx, old, &updated); err != nil {
		t.Fatalf("Failed to rename %s to %s: %v", old.Slug, slug, err)
	}
}

func (f *fixture) redirects(t *testing.T) map[string]string {
	t.Helper()
	list, err := database.NewRedirectRepository(f.db).List(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	result := make(map[string]string, len(list))
	for _, rd := range list {
		result[rd.OldPath] = rd.NewPath
	}
	return result
}

func TestUpdateSeriesSlugChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := dbtest.Series(t, f.db, "old-slug", "Series")
	c := dbtest.Chapter(t, f.db, s, nil, 1)
	image := f.addPage(t, "old-slug", c)
	if err := database.NewChapterRepository(f.db).SetCover(ctx, c.ID, image); err != nil {
		t.Fatal(err)
	}

	f.rename(t, s.ID, "new-slug")
	f.rename(t, s.ID, "another-slug")

	redirects := f.redirects(t)
	if len(redirects) != 2 ||
		redirects["/reader/new-slug/"] != "/reader/another-slug/" ||
		redirects["/reader/old-slug/"] != "/reader/another-slug/" {
		t.Errorf("Unexpected redirects after two renames: %v", redirects)
	}

	f.rename(t, s.ID, "old-slug")

	redirects = f.redirects(t)
	if len(redirects) != 2 ||
		redirects["/reader/another-slug/"] != "/reader/old-slug/" ||
		redirects["/reader/new-slug/"] != "/reader/old-slug/" {
		t.Errorf("Unexpected redirects after renaming back: %v", redirects)
	}
	if _, ok := redirects["/reader/old-slug/"]; ok {
		t.Error("Expected no redirect away from the current slug")
	}

	pages, err := database.NewPageRepository(f.db).ByChapter(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(pages[0].Image, "series/old-slug/0/1/") {
		t.Errorf("Expected page image under the current slug, got %s", pages[0].Image)
	}
	if _, err := f.blobs.Stat(ctx, pages[0].Image); err != nil {
		t.Errorf("Expected page blob at %s, got %v", pages[0].Image, err)
	}
	chapter, err := database.NewChapterRepository(f.db).Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if chapter.Cover != pages[0].Image {
		t.Errorf("Expected chapter cover to follow page 1 to %s, got %s", pages[0].Image, chapter.Cover)
	}
	if leftovers, _ := f.blobs.List(ctx, "series/another-slug"); len(leftovers) != 0 {
		t.Errorf("Expected previous directory to be empty, got %v", leftovers)
	}
}

func TestUpdateSeriesExtraWorkFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := dbtest.Series(t, f.db, "old-slug", "Series")
	c := dbtest.Chapter(t, f.db, s, nil, 1)
	image := f.addPage(t, "old-slug", c)

	old, err := database.NewSeriesRepository(f.db).Get(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	updated := *old
	updated.Slug = "new-slug"

	failure := errors.New("relation write failed")
	err = f.store.UpdateSeries(ctx, old, &updated, func(ctx context.Context, tx *sql.Tx) error {
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Expected the extra work error, got %v", err)
	}

	current, err := database.NewSeriesRepository(f.db).Get(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if current.Slug != "old-slug" {
		t.Errorf("Expected slug to stay old-slug, got %s", current.Slug)
	}
	if redirects := f.redirects(t); len(redirects) != 0 {
		t.Errorf("Expected no redirects, got %v", redirects)
	}
	if _, err := f.blobs.Stat(ctx, image); err != nil {
		t.Errorf("Expected page blob to stay at %s, got %v", image, err)
	}
	pages, err := database.NewPageRepository(f.db).ByChapter(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if pages[0].Image != image {
		t.Errorf("Expected page path %s, got %s", image, pages[0].Image)
	}
}

func TestUpdateSeriesSameSlug(t *testing.T) {
	f := newFixture(t)
	s := dbtest.Series(t, f.db, "slug", "Series")
	c := dbtest.Chapter(t, f.db, s, nil, 1)
	image := f.addPage(t, "slug", c)

	f.rename(t, s.ID, "slug")
	f.rename(t, s.ID, "slug")

	if redirects := f.redirects(t); len(redirects) != 0 {
		t.Errorf("Expected no redirects, got %v", redirects)
	}
	if _, err := f.blobs.Stat(context.Background(), image); err != nil {
		t.Errorf("Expected page blob to stay in place, got %v", err)
	}
}

func TestUpdateSeriesConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := dbtest.Series(t, f.db, "first", "First")
	dbtest.Series(t, f.db, "second", "Second")
	c := dbtest.Chapter(t, f.db, s, nil, 1)
	image := f.addPage(t, "first", c)

	updated := *s
	updated.Slug = "second"
	err := f.store.UpdateSeries(ctx, s, &updated)
	if !errors.Is(err, database.ErrConflict) {
		t.Fatalf("Expected conflict, got %v", err)
	}
	if _, err := f.blobs.Stat(ctx, image); err != nil {
		t.Errorf("Expected media to stay in place after a failed rename, got %v", err)
	}
	if redirects := f.redirects(t); len(redirects) != 0 {
		t.Errorf("Expected no redirects after a failed rename, got %v", redirects)
	}

	updated.Slug = "bad slug"
	if err := f.store.UpdateSeries(ctx, s, &updated); err == nil {
		t.Error("Expected invalid slug to be rejected")
	}
}

func TestUpdateChapterMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := dbtest.Series(t, f.db, "series", "Series")
	c := dbtest.Chapter(t, f.db, s, nil, 1)
	f.addPage(t, "series", c)
	other := dbtest.Chapter(t, f.db, s, nil, 2)
	otherImage := f.addPage(t, "series", other)

	updated := *c
	updated.Volume = dbtest.Vol(2)
	updated.Number = 1.5
	if err := f.store.UpdateChapter(ctx, c, &updated); err != nil {
		t.Fatal(err)
	}

	pages, err := database.NewPageRepository(f.db).ByChapter(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(pages[0].Image, "series/series/2/1.5/") {
		t.Errorf("Expected page under the new chapter dir, got %s", pages[0].Image)
	}
	if _, err := f.blobs.Stat(ctx, pages[0].Image); err != nil {
		t.Errorf("Expected moved page blob, got %v", err)
	}
	if _, err := f.blobs.Stat(ctx, otherImage); err != nil {
		t.Errorf("Expected other chapter media to stay in place, got %v", err)
	}

	redirects := f.redirects(t)
	if redirects["/reader/series/0/1/"] != "/reader/series/2/1.5/" {
		t.Errorf("Expected chapter redirect, got %v", redirects)
	}
	if len(f.inv.chapters) != 1 || f.inv.chapters[0] != c.ID {
		t.Errorf("Expected chapter invalidation, got %v", f.inv.chapters)
	}
}

func TestUpdateChapterFinal(t *testing.T) {
	tests := []struct {
		status   string
		expected string
	}{
		{database.StatusOngoing, database.StatusCompleted},
		{database.StatusHiatus, database.StatusHiatus},
		{database.StatusCanceled, database.StatusCanceled},
	}

	for _, test := range tests {
		t.Run(test.status, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			repo := database.NewSeriesRepository(f.db)
			s := dbtest.Series(t, f.db, "series", "Series")
			if err := repo.SetStatus(ctx, s.ID, test.status); err != nil {
				t.Fatal(err)
			}
			c := dbtest.Chapter(t, f.db, s, nil, 10)

			updated := *c
			updated.Final = true
			if err := f.store.UpdateChapter(ctx, c, &updated); err != nil {
				t.Fatal(err)
			}

			got, err := repo.Get(ctx, s.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != test.expected {
				t.Errorf("Expected status %s, got %s", test.expected, got.Status)
			}
		})
	}
}

func TestDeleteChapterRemovesMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := dbtest.Series(t, f.db, "series", "Series")
	c := dbtest.Chapter(t, f.db, s, nil, 1)
	image := f.addPage(t, "series", c)

	if err := f.store.DeleteChapter(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := f.blobs.Stat(ctx, image); !errors.Is(err, blob.ErrNotExist) {
		t.Errorf("Expected chapter media to be removed, got %v", err)
	}
}

func TestJournalRollback(t *testing.T) {
	blobs, err := blob.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := blobs.Put(ctx, "series/a/cover.png", strings.NewReader("c"), 1); err != nil {
		t.Fatal(err)
	}

	j := &journal{blobs: blobs}
	if err := j.move(ctx, "series/a", "series/b"); err != nil {
		t.Fatal(err)
	}
	if err := j.move(ctx, "series/missing", "series/c"); err != nil {
		t.Errorf("Expected missing source to be ignored, got %v", err)
	}
	if len(j.moves) != 1 {
		t.Errorf("Expected one recorded move, got %d", len(j.moves))
	}

	j.rollback()
	if _, err := blobs.Stat(ctx, "series/a/cover.png"); err != nil {
		t.Errorf("Expected cover restored after rollback, got %v", err)
	}
}
