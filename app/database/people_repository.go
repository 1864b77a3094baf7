package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PeopleRepository handles authors or artists; both share the same shape.
type PeopleRepository struct {
	q     Querier
	table string
	link  string
	col   string
	kind  AliasKind
}

func NewAuthorRepository(q Querier) *PeopleRepository {
	return &PeopleRepository{q: q, table: "authors", link: "series_authors", col: "author_id", kind: AliasAuthor}
}

func NewArtistRepository(q Querier) *PeopleRepository {
	return &PeopleRepository{q: q, table: "artists", link: "series_artists", col: "artist_id", kind: AliasArtist}
}

// Kind returns the alias kind attached to this repository's entities.
func (r *PeopleRepository) Kind() AliasKind {
	return r.kind
}

func (r *PeopleRepository) Get(ctx context.Context, id int64) (*Person, error) {
	var p Person
	err := r.q.QueryRowContext(ctx, `SELECT id, name FROM `+r.table+` WHERE id = ?`, id).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", r.table, err)
	}
	p.Aliases, err = NewAliasRepository(r.q).Names(ctx, r.kind, p.ID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns people ordered by name. A non-empty name filters by
// case-insensitive substring over the name and its aliases.
func (r *PeopleRepository) List(ctx context.Context, name string) ([]Person, error) {
	query := `SELECT id, name FROM ` + r.table + ` p`
	var args []any
	if name != "" {
		query += ` WHERE instr(casefold(p.name), ?) > 0
			OR EXISTS (SELECT 1 FROM aliases a WHERE a.kind = ? AND a.object_id = p.id AND instr(casefold(a.name), ?) > 0)`
		folded := Fold(name)
		args = append(args, folded, string(r.kind), folded)
	}
	query += ` ORDER BY casefold(p.name), p.id`
	return r.query(ctx, query, args...)
}

// BySeries returns the people credited on a series.
func (r *PeopleRepository) BySeries(ctx context.Context, seriesID int64) ([]Person, error) {
	return r.query(ctx, `
		SELECT p.id, p.name FROM `+r.table+` p
		JOIN `+r.link+` l ON l.`+r.col+` = p.id
		WHERE l.series_id = ?
		ORDER BY casefold(p.name), p.id
	`, seriesID)
}

func (r *PeopleRepository) query(ctx context.Context, query string, args ...any) ([]Person, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.table, err)
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.table, err)
		}
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", r.table, err)
	}
	return people, nil
}

func (r *PeopleRepository) Create(ctx context.Context, p *Person) error {
	res, err := r.q.ExecContext(ctx, `INSERT INTO `+r.table+` (name) VALUES (?)`, p.Name)
	if err != nil {
		return wrapWriteErr("create "+r.table, err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get %s id: %w", r.table, err)
	}
	return nil
}

func (r *PeopleRepository) Update(ctx context.Context, p *Person) error {
	res, err := r.q.ExecContext(ctx, `UPDATE `+r.table+` SET name = ? WHERE id = ?`, p.Name, p.ID)
	if err != nil {
		return wrapWriteErr("update "+r.table, err)
	}
	return affected(res, "update "+r.table)
}

func (r *PeopleRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.table, err)
	}
	return affected(res, "delete "+r.table)
}
