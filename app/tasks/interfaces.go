package tasks

import "context"

// TaskSchedulerInterface is what the server process needs from the scheduler.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// Invalidator drops cached pages and feeds derived from a chapter.
type Invalidator interface {
	ChapterChanged(ctx context.Context, slug string, chapterID int64) error
}
