package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/manga-reader/app/database"
)

// PublishScheduledTask invalidates cached listings and feeds for chapters
// whose publication time passed within (From, To].
type PublishScheduledTask struct {
	Task
	From        time.Time
	To          time.Time
	db          database.Querier
	invalidator Invalidator
}

func NewPublishScheduledTask(from, to time.Time, db database.Querier, invalidator Invalidator) *PublishScheduledTask {
	return &PublishScheduledTask{
		Task:        NewTask(TaskTypePublishScheduled, to.UTC().Format(time.RFC3339)),
		From:        from,
		To:          to,
		db:          db,
		invalidator: invalidator,
	}
}

func (t *PublishScheduledTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	chapters, err := database.NewChapterRepository(t.db).PublishedBetween(ctx, t.From, t.To)
	if err != nil {
		return fmt.Errorf("failed to load scheduled chapters: %w", err)
	}

	for _, c := range chapters {
		if err := t.invalidator.ChapterChanged(ctx, c.Series.Slug, c.ID); err != nil {
			return fmt.Errorf("failed to invalidate chapter %d: %w", c.ID, err)
		}
		slog.Info("Scheduled chapter published", "series", c.Series.Slug, "chapter", c.NumberString(), "id", c.ID)
	}

	slog.Debug("Scheduled publication check completed", "chapters", len(chapters))
	return nil
}
