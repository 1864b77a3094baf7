package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type RedirectRepository struct {
	q Querier
}

func NewRedirectRepository(q Querier) *RedirectRepository {
	return &RedirectRepository{q: q}
}

// Find returns the redirect registered for oldPath on a site.
func (r *RedirectRepository) Find(ctx context.Context, siteID int64, oldPath string) (*Redirect, error) {
	var rd Redirect
	err := r.q.QueryRowContext(ctx,
		`SELECT id, site_id, old_path, new_path FROM redirects WHERE site_id = ? AND old_path = ?`,
		siteID, oldPath).Scan(&rd.ID, &rd.SiteID, &rd.OldPath, &rd.NewPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find redirect: %w", err)
	}
	return &rd, nil
}

// Resolve returns the target for path: an exact redirect, or else the
// redirect with the longest old path that is a directory prefix of path,
// with the remainder appended to its target.
func (r *RedirectRepository) Resolve(ctx context.Context, siteID int64, path string) (string, error) {
	rd, err := r.Find(ctx, siteID, path)
	if err == nil {
		return rd.NewPath, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	var oldPath, newPath string
	err = r.q.QueryRowContext(ctx, `
		SELECT old_path, new_path FROM redirects
		WHERE site_id = ? AND substr(old_path, -1) = '/' AND substr(?, 1, length(old_path)) = old_path
		ORDER BY length(old_path) DESC
		LIMIT 1
	`, siteID, path).Scan(&oldPath, &newPath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve redirect: %w", err)
	}
	return newPath + path[len(oldPath):], nil
}

func (r *RedirectRepository) List(ctx context.Context, siteID int64) ([]Redirect, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, site_id, old_path, new_path FROM redirects WHERE site_id = ? ORDER BY old_path`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list redirects: %w", err)
	}
	defer rows.Close()

	redirects := []Redirect{}
	for rows.Next() {
		var rd Redirect
		if err := rows.Scan(&rd.ID, &rd.SiteID, &rd.OldPath, &rd.NewPath); err != nil {
			return nil, fmt.Errorf("failed to scan redirect row: %w", err)
		}
		redirects = append(redirects, rd)
	}
	return redirects, rows.Err()
}

// Move records that oldPath now lives at newPath. Redirects that pointed at
// oldPath are retargeted to newPath, a redirect that would loop back onto
// itself is dropped, and newPath stops being redirected.
func (r *RedirectRepository) Move(ctx context.Context, siteID int64, oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}

	// newPath is live again: it must not redirect anywhere.
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM redirects WHERE site_id = ? AND old_path = ?`, siteID, newPath); err != nil {
		return fmt.Errorf("failed to drop looping redirect: %w", err)
	}

	if _, err := r.q.ExecContext(ctx,
		`UPDATE redirects SET new_path = ? WHERE site_id = ? AND new_path = ?`,
		newPath, siteID, oldPath); err != nil {
		return fmt.Errorf("failed to retarget redirects: %w", err)
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO redirects (site_id, old_path, new_path) VALUES (?, ?, ?)
		ON CONFLICT (site_id, old_path) DO UPDATE SET new_path = excluded.new_path
	`, siteID, oldPath, newPath)
	if err != nil {
		return fmt.Errorf("failed to create redirect: %w", err)
	}
	return nil
}

func (r *RedirectRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM redirects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete redirect: %w", err)
	}
	return affected(res, "delete redirect")
}
