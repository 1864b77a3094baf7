package database

import (
	"context"
	"fmt"
	"time"
)

type BookmarkRepository struct {
	q Querier
}

func NewBookmarkRepository(q Querier) *BookmarkRepository {
	return &BookmarkRepository{q: q}
}

func (r *BookmarkRepository) List(ctx context.Context, userID int64) ([]Bookmark, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT user_id, series_id, created FROM bookmarks WHERE user_id = ? ORDER BY created DESC, series_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer rows.Close()

	bookmarks := []Bookmark{}
	for rows.Next() {
		var b Bookmark
		if err := rows.Scan(&b.UserID, &b.SeriesID, (*Timestamp)(&b.Created)); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark row: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookmark rows: %w", err)
	}
	return bookmarks, nil
}

// Add bookmarks a series. An existing bookmark returns ErrConflict.
func (r *BookmarkRepository) Add(ctx context.Context, userID, seriesID int64) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO bookmarks (user_id, series_id, created) VALUES (?, ?, ?)`,
		userID, seriesID, FormatTime(time.Now()))
	return wrapWriteErr("add bookmark", err)
}

func (r *BookmarkRepository) Remove(ctx context.Context, userID, seriesID int64) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE user_id = ? AND series_id = ?`, userID, seriesID)
	if err != nil {
		return fmt.Errorf("failed to remove bookmark: %w", err)
	}
	return affected(res, "remove bookmark")
}
