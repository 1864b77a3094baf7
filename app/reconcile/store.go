// Package reconcile keeps blob paths, page rows and public URLs consistent
// when a series slug or a chapter's volume and number change.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/database"
)

var (
	ErrInvalidSlug = errors.New("invalid slug")
	ErrSeriesMove  = errors.New("chapters cannot be moved between series")
)

// Invalidator drops cached reader data after a write.
type Invalidator interface {
	SeriesChanged(ctx context.Context, slug string) error
	ChapterChanged(ctx context.Context, slug string, chapterID int64) error
}

// SiteLister returns the sites redirects are recorded for.
type SiteLister interface {
	IDs() []int64
}

// Store wraps series and chapter writes so that renames run in the same
// transaction as the row update.
type Store struct {
	db          *database.DB
	blobs       blob.Storage
	sites       SiteLister
	invalidator Invalidator
}

func NewStore(db *database.DB, blobs blob.Storage, sites SiteLister, invalidator Invalidator) *Store {
	return &Store{db: db, blobs: blobs, sites: sites, invalidator: invalidator}
}

// SeriesPath is the reader URL of a series.
func SeriesPath(slug string) string {
	return "/reader/" + slug + "/"
}

// ChapterPath is the reader URL of a chapter.
func ChapterPath(slug string, volume int64, number string) string {
	return fmt.Sprintf("/reader/%s/%d/%s/", slug, volume, number)
}

// run executes fn in a transaction and undoes its blob moves on failure.
// TxFunc is extra work committed together with a Store write.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

func runAll(ctx context.Context, tx *sql.Tx, fns []TxFunc) error {
	for _, fn := range fns {
		if err := fn(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) run(ctx context.Context, fn func(tx *sql.Tx, j *journal) error) error {
	j := &journal{blobs: s.blobs}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(tx, j)
	})
	if err != nil {
		j.rollback()
	}
	return err
}

func (s *Store) redirect(ctx context.Context, tx *sql.Tx, oldPath, newPath string) error {
	repo := database.NewRedirectRepository(tx)
	for _, siteID := range s.sites.IDs() {
		if err := repo.Move(ctx, siteID, oldPath, newPath); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSeries saves updated. When the slug changed the series directory is
// moved, page and cover paths are rewritten and the old URL redirects to
// the new one.
func (s *Store) UpdateSeries(ctx context.Context, old, updated *database.Series, also ...TxFunc) error {
	if !database.ValidSlug(updated.Slug) {
		return fmt.Errorf("%w %q", ErrInvalidSlug, updated.Slug)
	}
	renamed := old.Slug != updated.Slug

	err := s.run(ctx, func(tx *sql.Tx, j *journal) error {
		if renamed {
			oldDir, newDir := blob.SeriesDir(old.Slug)+"/", blob.SeriesDir(updated.Slug)+"/"
			if strings.HasPrefix(updated.Cover, oldDir) {
				updated.Cover = newDir + strings.TrimPrefix(updated.Cover, oldDir)
			}
		}

		if err := database.NewSeriesRepository(tx).Update(ctx, updated); err != nil {
			return err
		}
		if err := runAll(ctx, tx, also); err != nil {
			return err
		}
		if !renamed {
			return nil
		}

		if err := s.redirect(ctx, tx, SeriesPath(old.Slug), SeriesPath(updated.Slug)); err != nil {
			return err
		}
		if err := j.move(ctx, blob.SeriesDir(old.Slug), blob.SeriesDir(updated.Slug)); err != nil {
			return fmt.Errorf("failed to move series media: %w", err)
		}
		oldDir, newDir := blob.SeriesDir(old.Slug)+"/", blob.SeriesDir(updated.Slug)+"/"
		if err := database.NewChapterRepository(tx).RewriteCoverPrefix(ctx, updated.ID, oldDir, newDir); err != nil {
			return err
		}
		return database.NewPageRepository(tx).RewritePrefix(ctx, updated.ID, 0, oldDir, newDir)
	})
	if err != nil {
		return err
	}

	if renamed {
		slog.Info("Series renamed", "series_id", updated.ID, "from", old.Slug, "to", updated.Slug)
		s.seriesChanged(ctx, old.Slug)
	}
	s.seriesChanged(ctx, updated.Slug)
	return nil
}

// UpdateChapter saves updated. When the volume or number changed the
// chapter directory is moved and page paths are rewritten. Setting the
// final flag completes an ongoing series.
func (s *Store) UpdateChapter(ctx context.Context, old, updated *database.Chapter, also ...TxFunc) error {
	if updated.SeriesID != old.SeriesID {
		return ErrSeriesMove
	}
	updated.Volume = database.NormalizeVolume(updated.Volume)

	series, err := database.NewSeriesRepository(s.db).Get(ctx, old.SeriesID)
	if err != nil {
		return err
	}

	oldDir := blob.ChapterDir(series.Slug, old.VolumeKey(), old.NumberString())
	newDir := blob.ChapterDir(series.Slug, updated.VolumeKey(), updated.NumberString())
	moved := oldDir != newDir
	completes := updated.Final && !old.Final && series.Status == database.StatusOngoing

	err = s.run(ctx, func(tx *sql.Tx, j *journal) error {
		if moved && strings.HasPrefix(updated.Cover, oldDir+"/") {
			updated.Cover = newDir + strings.TrimPrefix(updated.Cover, oldDir)
		}
		if err := database.NewChapterRepository(tx).Update(ctx, updated); err != nil {
			return err
		}
		if err := runAll(ctx, tx, also); err != nil {
			return err
		}

		if completes {
			if err := database.NewSeriesRepository(tx).SetStatus(ctx, series.ID, database.StatusCompleted); err != nil {
				return err
			}
		}

		if !moved {
			return nil
		}
		oldURL := ChapterPath(series.Slug, old.VolumeKey(), old.NumberString())
		newURL := ChapterPath(series.Slug, updated.VolumeKey(), updated.NumberString())
		if err := s.redirect(ctx, tx, oldURL, newURL); err != nil {
			return err
		}
		if err := j.move(ctx, oldDir, newDir); err != nil {
			return fmt.Errorf("failed to move chapter media: %w", err)
		}
		return database.NewPageRepository(tx).RewritePrefix(ctx, 0, updated.ID, oldDir+"/", newDir+"/")
	})
	if err != nil {
		return err
	}

	if completes {
		slog.Info("Series completed by final chapter", "series", series.Slug, "chapter_id", updated.ID)
		s.seriesChanged(ctx, series.Slug)
	}
	s.chapterChanged(ctx, series.Slug, updated.ID)
	return nil
}

// CreateChapter inserts a chapter and applies the final flag rollup.
func (s *Store) CreateChapter(ctx context.Context, c *database.Chapter, also ...TxFunc) error {
	series, err := database.NewSeriesRepository(s.db).Get(ctx, c.SeriesID)
	if err != nil {
		return err
	}
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := database.NewChapterRepository(tx).Create(ctx, c); err != nil {
			return err
		}
		if err := runAll(ctx, tx, also); err != nil {
			return err
		}
		if c.Final && series.Status == database.StatusOngoing {
			return database.NewSeriesRepository(tx).SetStatus(ctx, series.ID, database.StatusCompleted)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.chapterChanged(ctx, series.Slug, c.ID)
	return nil
}

// DeleteSeries removes a series with its chapters and media.
func (s *Store) DeleteSeries(ctx context.Context, series *database.Series) error {
	if err := database.NewSeriesRepository(s.db).Delete(ctx, series.ID); err != nil {
		return err
	}
	if err := s.blobs.DeletePrefix(context.WithoutCancel(ctx), blob.SeriesDir(series.Slug)); err != nil {
		slog.Warn("Failed to remove series media", "series", series.Slug, "error", err)
	}
	s.seriesChanged(ctx, series.Slug)
	return nil
}

// DeleteChapter removes a chapter with its pages and media.
func (s *Store) DeleteChapter(ctx context.Context, chapter *database.Chapter) error {
	series, err := database.NewSeriesRepository(s.db).Get(ctx, chapter.SeriesID)
	if err != nil {
		return err
	}
	if err := database.NewChapterRepository(s.db).Delete(ctx, chapter.ID); err != nil {
		return err
	}
	dir := blob.ChapterDir(series.Slug, chapter.VolumeKey(), chapter.NumberString())
	if err := s.blobs.DeletePrefix(context.WithoutCancel(ctx), dir); err != nil {
		slog.Warn("Failed to remove chapter media", "dir", dir, "error", err)
	}
	s.chapterChanged(ctx, series.Slug, chapter.ID)
	return nil
}

func (s *Store) seriesChanged(ctx context.Context, slug string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.SeriesChanged(context.WithoutCancel(ctx), slug); err != nil {
		slog.Warn("Failed to invalidate series cache", "series", slug, "error", err)
	}
}

func (s *Store) chapterChanged(ctx context.Context, slug string, chapterID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.ChapterChanged(context.WithoutCancel(ctx), slug, chapterID); err != nil {
		slog.Warn("Failed to invalidate chapter cache", "series", slug, "error", err)
	}
}
