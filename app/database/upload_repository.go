package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UploadRepository tracks chapter archives waiting to be ingested.
type UploadRepository struct {
	q Querier
}

func NewUploadRepository(q Querier) *UploadRepository {
	return &UploadRepository{q: q}
}

func (r *UploadRepository) Create(ctx context.Context, u *Upload) error {
	if u.Created.IsZero() {
		u.Created = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO uploads (id, chapter_id, path, size, created) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.ChapterID, u.Path, u.Size, FormatTime(u.Created))
	return wrapWriteErr("create upload", err)
}

func (r *UploadRepository) Get(ctx context.Context, id string) (*Upload, error) {
	var u Upload
	err := r.q.QueryRowContext(ctx,
		`SELECT id, chapter_id, path, size, created FROM uploads WHERE id = ?`, id).
		Scan(&u.ID, &u.ChapterID, &u.Path, &u.Size, (*Timestamp)(&u.Created))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return &u, nil
}

func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}

// OlderThan returns uploads created before cutoff.
func (r *UploadRepository) OlderThan(ctx context.Context, cutoff time.Time) ([]Upload, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, chapter_id, path, size, created FROM uploads WHERE created < ? ORDER BY created`,
		FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale uploads: %w", err)
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.ID, &u.ChapterID, &u.Path, &u.Size, (*Timestamp)(&u.Created)); err != nil {
			return nil, fmt.Errorf("failed to scan upload row: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}
