package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type scanner interface {
	Scan(dest ...any) error
}

// SeriesColumns selects every series column from the alias s, in scan order.
const SeriesColumns = `s.id, s.slug, s.title, s.description, s.cover, s.status, s.kind,
	s.rating, s.licensed, s.format, s.manager_id, s.created, s.modified`

func scanSeries(row scanner) (*Series, error) {
	var s Series
	err := row.Scan(&s.ID, &s.Slug, &s.Title, &s.Description, &s.Cover, &s.Status, &s.Kind,
		&s.Rating, &s.Licensed, &s.Format, &s.ManagerID,
		(*Timestamp)(&s.Created), (*Timestamp)(&s.Modified))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SeriesRepository handles database operations for series and their M:N relations
type SeriesRepository struct {
	q Querier
}

func NewSeriesRepository(q Querier) *SeriesRepository {
	return &SeriesRepository{q: q}
}

func (r *SeriesRepository) Get(ctx context.Context, id int64) (*Series, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+SeriesColumns+` FROM series s WHERE s.id = ?`, id)
	s, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get series: %w", err)
	}
	return s, nil
}

func (r *SeriesRepository) GetBySlug(ctx context.Context, slug string) (*Series, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+SeriesColumns+` FROM series s WHERE s.slug = ?`, slug)
	s, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get series by slug: %w", err)
	}
	return s, nil
}

// List returns every series ordered by title.
func (r *SeriesRepository) List(ctx context.Context) ([]*Series, error) {
	return r.Query(ctx, `SELECT `+SeriesColumns+` FROM series s ORDER BY casefold(s.title), s.id`)
}

// Latest returns the most recently created series.
func (r *SeriesRepository) Latest(ctx context.Context, limit int) ([]*Series, error) {
	return r.Query(ctx, `SELECT `+SeriesColumns+` FROM series s ORDER BY s.created DESC, s.id DESC LIMIT ?`, limit)
}

// BookmarkedBy returns the series bookmarked by a user, ordered by title.
func (r *SeriesRepository) BookmarkedBy(ctx context.Context, userID int64) ([]*Series, error) {
	return r.Query(ctx, `
		SELECT `+SeriesColumns+`
		FROM series s
		JOIN bookmarks b ON b.series_id = s.id
		WHERE b.user_id = ?
		ORDER BY casefold(s.title), s.id
	`, userID)
}

// Query runs a SELECT of SeriesColumns and scans every row.
func (r *SeriesRepository) Query(ctx context.Context, query string, args ...any) ([]*Series, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	var result []*Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan series row: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating series rows: %w", err)
	}
	return result, nil
}

// Create inserts s and fills in its id and timestamps.
func (r *SeriesRepository) Create(ctx context.Context, s *Series) error {
	now := time.Now().UTC()
	if s.Status == "" {
		s.Status = StatusOngoing
	}
	if s.Kind == "" {
		s.Kind = KindManga
	}
	if s.Format == "" {
		s.Format = DefaultChapterFormat
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO series (slug, title, description, cover, status, kind, rating, licensed, format, manager_id, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Slug, s.Title, s.Description, s.Cover, s.Status, s.Kind, s.Rating, s.Licensed, s.Format,
		s.ManagerID, FormatTime(now), FormatTime(now))
	if err != nil {
		return wrapWriteErr("create series", err)
	}
	s.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get series id: %w", err)
	}
	s.Created, s.Modified = now, now
	return nil
}

// Update writes every column of s and bumps modified.
func (r *SeriesRepository) Update(ctx context.Context, s *Series) error {
	s.Modified = time.Now().UTC()
	res, err := r.q.ExecContext(ctx, `
		UPDATE series
		SET slug = ?, title = ?, description = ?, cover = ?, status = ?, kind = ?,
		    rating = ?, licensed = ?, format = ?, manager_id = ?, modified = ?
		WHERE id = ?
	`, s.Slug, s.Title, s.Description, s.Cover, s.Status, s.Kind, s.Rating, s.Licensed, s.Format,
		s.ManagerID, FormatTime(s.Modified), s.ID)
	if err != nil {
		return wrapWriteErr("update series", err)
	}
	return affected(res, "update series")
}

func (r *SeriesRepository) SetStatus(ctx context.Context, id int64, status string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE series SET status = ?, modified = ? WHERE id = ?`,
		status, FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set series status: %w", err)
	}
	return affected(res, "set series status")
}

func (r *SeriesRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM series WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete series: %w", err)
	}
	return affected(res, "delete series")
}

// LastModified returns the most recent modification of the series or any of its chapters.
func (r *SeriesRepository) LastModified(ctx context.Context, id int64) (time.Time, error) {
	var ts Timestamp
	err := r.q.QueryRowContext(ctx, `
		SELECT MAX(m) FROM (
			SELECT modified AS m FROM series WHERE id = ?
			UNION ALL
			SELECT modified FROM chapters WHERE series_id = ?
		)
	`, id, id).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get series last modified: %w", err)
	}
	return time.Time(ts), nil
}

// SetAuthors replaces the authors credited on a series.
func (r *SeriesRepository) SetAuthors(ctx context.Context, seriesID int64, authorIDs []int64) error {
	return r.setLinks(ctx, "series_authors", "author_id", seriesID, authorIDs)
}

// SetArtists replaces the artists credited on a series.
func (r *SeriesRepository) SetArtists(ctx context.Context, seriesID int64, artistIDs []int64) error {
	return r.setLinks(ctx, "series_artists", "artist_id", seriesID, artistIDs)
}

func (r *SeriesRepository) setLinks(ctx context.Context, table, column string, seriesID int64, ids []int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE series_id = ?`, seriesID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	for _, id := range ids {
		_, err := r.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+table+` (series_id, `+column+`) VALUES (?, ?)`, seriesID, id)
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("failed to link %s %d: %w", table, id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to link %s: %w", table, err)
		}
	}
	return nil
}

// SetCategories replaces the categories of a series. Names are lower-cased.
func (r *SeriesRepository) SetCategories(ctx context.Context, seriesID int64, names []string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM series_categories WHERE series_id = ?`, seriesID); err != nil {
		return fmt.Errorf("failed to clear series categories: %w", err)
	}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, err := r.q.ExecContext(ctx, `INSERT OR IGNORE INTO categories (name) VALUES (?)`, name); err != nil {
			return fmt.Errorf("failed to create category %s: %w", name, err)
		}
		_, err := r.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO series_categories (series_id, category) VALUES (?, ?)`, seriesID, name)
		if err != nil {
			return fmt.Errorf("failed to link category %s: %w", name, err)
		}
	}
	return nil
}

// LoadRelations fills the authors, artists, categories and aliases of s.
func (r *SeriesRepository) LoadRelations(ctx context.Context, s *Series) error {
	people := NewAuthorRepository(r.q)
	authors, err := people.BySeries(ctx, s.ID)
	if err != nil {
		return err
	}
	s.Authors = s.Authors[:0]
	for _, p := range authors {
		s.Authors = append(s.Authors, Author(p))
	}

	artists, err := NewArtistRepository(r.q).BySeries(ctx, s.ID)
	if err != nil {
		return err
	}
	s.Artists = s.Artists[:0]
	for _, p := range artists {
		s.Artists = append(s.Artists, Artist(p))
	}

	s.Categories, err = NewCategoryRepository(r.q).BySeries(ctx, s.ID)
	if err != nil {
		return err
	}

	s.Aliases, err = NewAliasRepository(r.q).Names(ctx, AliasSeries, s.ID)
	return err
}
