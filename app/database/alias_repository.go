package database

import (
	"context"
	"fmt"
	"strings"
)

// AliasRepository stores alternative names for series, authors, artists and groups.
type AliasRepository struct {
	q Querier
}

func NewAliasRepository(q Querier) *AliasRepository {
	return &AliasRepository{q: q}
}

// Names returns the aliases attached to (kind, objectID) ordered by name.
func (r *AliasRepository) Names(ctx context.Context, kind AliasKind, objectID int64) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT name FROM aliases WHERE kind = ? AND object_id = ? ORDER BY name`, string(kind), objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get aliases: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan alias row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alias rows: %w", err)
	}
	return names, nil
}

// Add attaches an alias. A duplicate returns ErrConflict.
func (r *AliasRepository) Add(ctx context.Context, kind AliasKind, objectID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("alias name is empty")
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO aliases (kind, object_id, name) VALUES (?, ?, ?)`, string(kind), objectID, name)
	return wrapWriteErr("add alias", err)
}

func (r *AliasRepository) Remove(ctx context.Context, kind AliasKind, objectID int64, name string) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM aliases WHERE kind = ? AND object_id = ? AND name = ?`, string(kind), objectID, name)
	if err != nil {
		return fmt.Errorf("failed to remove alias: %w", err)
	}
	return affected(res, "remove alias")
}

// Set replaces every alias of (kind, objectID) with names.
func (r *AliasRepository) Set(ctx context.Context, kind AliasKind, objectID int64, names []string) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM aliases WHERE kind = ? AND object_id = ?`, string(kind), objectID); err != nil {
		return fmt.Errorf("failed to clear aliases: %w", err)
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if err := r.Add(ctx, kind, objectID, name); err != nil {
			return err
		}
	}
	return nil
}
