package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/database"
)

// UploadTTL is how long an upload may wait for ingestion before it is purged.
const UploadTTL = time.Hour

// PurgeUploadsTask removes uploads created before Cutoff together with their blobs.
type PurgeUploadsTask struct {
	Task
	Cutoff time.Time
	db     database.Querier
	blobs  blob.Storage
}

func NewPurgeUploadsTask(cutoff time.Time, db database.Querier, blobs blob.Storage) *PurgeUploadsTask {
	return &PurgeUploadsTask{
		Task:   NewTask(TaskTypePurgeUploads, cutoff.UTC().Format(time.RFC3339)),
		Cutoff: cutoff,
		db:     db,
		blobs:  blobs,
	}
}

func (t *PurgeUploadsTask) Execute(ctx context.Context) error {
	repo := database.NewUploadRepository(t.db)
	uploads, err := repo.OlderThan(ctx, t.Cutoff)
	if err != nil {
		return fmt.Errorf("failed to list expired uploads: %w", err)
	}

	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.blobs.Delete(ctx, u.Path); err != nil {
			return fmt.Errorf("failed to delete upload blob %s: %w", u.Path, err)
		}
		if err := repo.Delete(ctx, u.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("failed to delete upload %s: %w", u.ID, err)
		}
		slog.Debug("Expired upload purged", "id", u.ID, "chapter_id", u.ChapterID, "size", u.Size)
	}

	if len(uploads) > 0 {
		slog.Info("Expired uploads purged", "count", len(uploads))
	}
	return nil
}
