package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const pageColumns = `id, chapter_id, number, image, height, width, mime, position, spread`

func scanPage(row scanner) (*Page, error) {
	var p Page
	err := row.Scan(&p.ID, &p.ChapterID, &p.Number, &p.Image, &p.Height, &p.Width, &p.Mime, &p.Position, &p.Spread)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type PageRepository struct {
	q Querier
}

func NewPageRepository(q Querier) *PageRepository {
	return &PageRepository{q: q}
}

func (r *PageRepository) Get(ctx context.Context, id int64) (*Page, error) {
	p, err := scanPage(r.q.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return p, nil
}

// ByChapter returns the pages of a chapter ordered by number.
func (r *PageRepository) ByChapter(ctx context.Context, chapterID int64) ([]*Page, error) {
	return r.query(ctx, `SELECT `+pageColumns+` FROM pages WHERE chapter_id = ? ORDER BY number`, chapterID)
}

// Images returns the image paths of every page under a series.
func (r *PageRepository) Images(ctx context.Context, seriesID int64) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT p.image FROM pages p JOIN chapters c ON c.id = p.chapter_id
		WHERE c.series_id = ?
	`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to get page images: %w", err)
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var image string
		if err := rows.Scan(&image); err != nil {
			return nil, fmt.Errorf("failed to scan page image: %w", err)
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

func (r *PageRepository) query(ctx context.Context, query string, args ...any) ([]*Page, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page row: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating page rows: %w", err)
	}
	return pages, nil
}

func (r *PageRepository) Create(ctx context.Context, p *Page) error {
	if p.Position == "" {
		p.Position = PositionCenter
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO pages (chapter_id, number, image, height, width, mime, position, spread)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ChapterID, p.Number, p.Image, p.Height, p.Width, p.Mime, p.Position, p.Spread)
	if err != nil {
		return wrapWriteErr("create page", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get page id: %w", err)
	}
	return nil
}

func (r *PageRepository) Update(ctx context.Context, p *Page) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE pages SET number = ?, image = ?, height = ?, width = ?, mime = ?, position = ?, spread = ?
		WHERE id = ?
	`, p.Number, p.Image, p.Height, p.Width, p.Mime, p.Position, p.Spread, p.ID)
	if err != nil {
		return wrapWriteErr("update page", err)
	}
	return affected(res, "update page")
}

func (r *PageRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete page: %w", err)
	}
	return affected(res, "delete page")
}

// Replace deletes every page of a chapter and inserts pages in their place.
// Callers run it inside a transaction so readers never see a partial set.
func (r *PageRepository) Replace(ctx context.Context, chapterID int64, pages []*Page) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM pages WHERE chapter_id = ?`, chapterID); err != nil {
		return fmt.Errorf("failed to delete chapter pages: %w", err)
	}
	for _, p := range pages {
		p.ChapterID = chapterID
		if err := r.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RewritePrefix replaces the leading oldPrefix of every page image under a
// series (chapterID == 0) or a single chapter.
func (r *PageRepository) RewritePrefix(ctx context.Context, seriesID, chapterID int64, oldPrefix, newPrefix string) error {
	query := `
		UPDATE pages SET image = ? || substr(image, ?)
		WHERE substr(image, 1, ?) = ?`
	args := []any{newPrefix, len(oldPrefix) + 1, len(oldPrefix), oldPrefix}
	if chapterID != 0 {
		query += ` AND chapter_id = ?`
		args = append(args, chapterID)
	} else {
		query += ` AND chapter_id IN (SELECT id FROM chapters WHERE series_id = ?)`
		args = append(args, seriesID)
	}
	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to rewrite page images: %w", err)
	}
	return nil
}
