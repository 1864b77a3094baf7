package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type CategoryRepository struct {
	q Querier
}

func NewCategoryRepository(q Querier) *CategoryRepository {
	return &CategoryRepository{q: q}
}

func (r *CategoryRepository) Get(ctx context.Context, name string) (*Category, error) {
	var c Category
	err := r.q.QueryRowContext(ctx, `SELECT name, description FROM categories WHERE name = ?`,
		strings.ToLower(name)).Scan(&c.Name, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]Category, error) {
	return r.query(ctx, `SELECT name, description FROM categories ORDER BY name`)
}

func (r *CategoryRepository) BySeries(ctx context.Context, seriesID int64) ([]Category, error) {
	return r.query(ctx, `
		SELECT c.name, c.description FROM categories c
		JOIN series_categories sc ON sc.category = c.name
		WHERE sc.series_id = ?
		ORDER BY c.name
	`, seriesID)
}

func (r *CategoryRepository) query(ctx context.Context, query string, args ...any) ([]Category, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Name, &c.Description); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rows: %w", err)
	}
	return categories, nil
}

// Save inserts or updates a category. The name is lower-cased and used as the key.
func (r *CategoryRepository) Save(ctx context.Context, c *Category) error {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	if c.Name == "" {
		return fmt.Errorf("category name is empty")
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO categories (name, description) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET description = excluded.description
	`, c.Name, c.Description)
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func (r *CategoryRepository) Delete(ctx context.Context, name string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM categories WHERE name = ?`, strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	return affected(res, "delete category")
}
