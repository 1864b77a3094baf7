// Package ingest turns an uploaded chapter archive into page images and
// page rows.
package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/natsort"
)

// DefaultMaxSize is the archive size limit used when none is configured.
const DefaultMaxSize int64 = 100 << 20

// Invalidator drops cached reader data after a chapter changes.
type Invalidator interface {
	ChapterChanged(ctx context.Context, slug string, chapterID int64) error
}

type Pipeline struct {
	db          *database.DB
	blobs       blob.Storage
	invalidator Invalidator
	maxSize     int64
	locks       *chapterLocks
}

func NewPipeline(db *database.DB, blobs blob.Storage, invalidator Invalidator, maxSize int64) *Pipeline {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Pipeline{
		db:          db,
		blobs:       blobs,
		invalidator: invalidator,
		maxSize:     maxSize,
		locks:       newChapterLocks(),
	}
}

// MaxSize returns the archive size limit in bytes. Archives must be smaller.
func (p *Pipeline) MaxSize() int64 {
	return p.maxSize
}

// State reports the ingest phase of a chapter.
func (p *Pipeline) State(chapterID int64) State {
	return p.locks.state(chapterID)
}

// Ingest replaces the pages of upload.ChapterID with the images of the
// uploaded archive. The upload blob and row are removed whatever the outcome.
func (p *Pipeline) Ingest(ctx context.Context, upload *database.Upload) ([]*database.Page, error) {
	if !p.locks.acquire(upload.ChapterID) {
		p.discard(upload)
		return nil, IngestInProgress(upload.ChapterID)
	}
	defer p.locks.release(upload.ChapterID)
	defer p.discard(upload)

	chapter, err := database.NewChapterRepository(p.db).Get(ctx, upload.ChapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter: %w", err)
	}

	entries, closeArchive, err := p.open(ctx, upload.Path)
	if err != nil {
		return nil, err
	}
	defer closeArchive()

	slog.Debug("Archive validated", "chapter_id", chapter.ID, "entries", len(entries))

	p.locks.set(chapter.ID, StateMaterializing)
	pages, created, err := p.materialize(ctx, chapter, entries)
	if err != nil {
		p.cleanup(created)
		return nil, err
	}

	p.locks.set(chapter.ID, StateSwapping)
	previous, err := p.swap(ctx, chapter.ID, pages)
	if err != nil {
		p.cleanup(created)
		return nil, err
	}

	// Images of the old page set that the new one no longer references.
	current := make(map[string]bool, len(pages))
	for _, page := range pages {
		current[page.Image] = true
	}
	var orphans []string
	for _, page := range previous {
		if !current[page.Image] {
			orphans = append(orphans, page.Image)
		}
	}
	p.cleanup(orphans)

	if p.invalidator != nil {
		if err := p.invalidator.ChapterChanged(context.WithoutCancel(ctx), chapter.Series.Slug, chapter.ID); err != nil {
			slog.Warn("Failed to invalidate chapter cache", "chapter_id", chapter.ID, "error", err)
		}
	}

	slog.Info("Chapter ingested", "chapter_id", chapter.ID, "series", chapter.Series.Slug, "pages", len(pages))
	return pages, nil
}

// open runs validation on the uploaded archive.
func (p *Pipeline) open(ctx context.Context, uploadPath string) ([]entry, func(), error) {
	info, err := p.blobs.Stat(ctx, uploadPath)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, nil, ExpiredUpload()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat upload: %w", err)
	}
	if info.Size >= p.maxSize {
		return nil, nil, FileTooLarge(p.maxSize)
	}

	rc, err := p.blobs.Open(ctx, uploadPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open upload: %w", err)
	}

	ra, ok := rc.(io.ReaderAt)
	if !ok {
		data, err := io.ReadAll(io.LimitReader(rc, p.maxSize))
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read upload: %w", err)
		}
		ra = bytes.NewReader(data)
		rc = io.NopCloser(nil)
	}

	zr, err := zip.NewReader(ra, info.Size)
	if err != nil {
		rc.Close()
		return nil, nil, InvalidFormat()
	}

	entries, err := validate(zr, p.maxSize)
	if err != nil {
		rc.Close()
		return nil, nil, err
	}
	if len(entries) == 0 {
		rc.Close()
		return nil, nil, &Error{Code: CodeInvalidFormat, Message: "archive contains no images"}
	}

	natsort.SortFunc(entries, func(e entry) string { return e.name })
	return entries, func() { rc.Close() }, nil
}

// materialize writes every entry to its canonical path. It returns the page
// candidates in order and the paths that did not exist before.
func (p *Pipeline) materialize(ctx context.Context, chapter *database.Chapter, entries []entry) ([]*database.Page, []string, error) {
	slug := chapter.Series.Slug
	dir := blob.ChapterDir(slug, chapter.VolumeKey(), chapter.NumberString())

	existing := make(map[string]bool)
	paths, err := p.blobs.List(ctx, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list chapter dir: %w", err)
	}
	for _, existingPath := range paths {
		existing[existingPath] = true
	}

	var created []string
	pages := make([]*database.Page, 0, len(entries))
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, created, err
		}

		data, err := readEntry(e.file, p.maxSize)
		if err != nil {
			return nil, created, fmt.Errorf("failed to read %s: %w", e.name, err)
		}

		target := blob.PagePath(slug, chapter.VolumeKey(), chapter.NumberString(),
			blob.Fingerprint(data), extension(e))
		if err := p.blobs.Put(ctx, target, bytes.NewReader(data), int64(len(data))); err != nil {
			return nil, created, fmt.Errorf("failed to write page %d: %w", i+1, err)
		}
		if !existing[target] {
			existing[target] = true
			created = append(created, target)
		}

		pages = append(pages, &database.Page{
			ChapterID: chapter.ID,
			Number:    i + 1,
			Image:     target,
			Height:    e.height,
			Width:     e.width,
			Mime:      "image/" + e.format,
			Position:  database.PositionCenter,
		})
	}
	return pages, created, nil
}

// swap replaces the page rows in one transaction and returns the old ones.
func (p *Pipeline) swap(ctx context.Context, chapterID int64, pages []*database.Page) ([]*database.Page, error) {
	var previous []*database.Page
	err := p.db.InTx(ctx, func(tx *sql.Tx) error {
		repo := database.NewPageRepository(tx)
		var err error
		if previous, err = repo.ByChapter(ctx, chapterID); err != nil {
			return err
		}
		if err := repo.Replace(ctx, chapterID, pages); err != nil {
			return err
		}
		chapters := database.NewChapterRepository(tx)
		if err := chapters.SetCover(ctx, chapterID, firstImage(pages)); err != nil {
			return err
		}
		return chapters.Touch(ctx, chapterID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to swap pages: %w", err)
	}
	return previous, nil
}

// firstImage returns the image of page 1, which serves as the chapter cover.
func firstImage(pages []*database.Page) string {
	for _, p := range pages {
		if p.Number == 1 {
			return p.Image
		}
	}
	return ""
}

// cleanup removes blobs on a best-effort basis.
func (p *Pipeline) cleanup(paths []string) {
	if len(paths) == 0 {
		return
	}
	ctx := context.Background()
	var g errgroup.Group
	g.SetLimit(4)
	for _, blobPath := range paths {
		g.Go(func() error {
			if err := p.blobs.Delete(ctx, blobPath); err != nil {
				slog.Warn("Failed to remove blob", "path", blobPath, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

func (p *Pipeline) discard(upload *database.Upload) {
	ctx := context.Background()
	if err := p.blobs.Delete(ctx, upload.Path); err != nil && !errors.Is(err, blob.ErrNotExist) {
		slog.Warn("Failed to remove upload", "path", upload.Path, "error", err)
	}
	if upload.ID != "" {
		if err := database.NewUploadRepository(p.db).Delete(ctx, upload.ID); err != nil {
			slog.Warn("Failed to remove upload record", "upload_id", upload.ID, "error", err)
		}
	}
}

var formatExtensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"webp": ".webp",
}

// extension keeps the entry's own extension when it names an image format,
// otherwise derives one from the decoded format.
func extension(e entry) string {
	ext := strings.ToLower(path.Ext(e.name))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	}
	return formatExtensions[e.format]
}
