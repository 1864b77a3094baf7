package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const chapterColumns = `c.id, c.series_id, c.title, c.number, c.volume, c.final,
	c.published, c.modified, c.views, c.cover,
	s.slug, s.title, s.format, s.cover, s.status`

func scanChapter(row scanner) (*Chapter, error) {
	c := Chapter{Series: &Series{}}
	err := row.Scan(&c.ID, &c.SeriesID, &c.Title, &c.Number, &c.Volume, &c.Final,
		(*Timestamp)(&c.Published), (*Timestamp)(&c.Modified), &c.Views, &c.Cover,
		&c.Series.Slug, &c.Series.Title, &c.Series.Format, &c.Series.Cover, &c.Series.Status)
	if err != nil {
		return nil, err
	}
	c.Series.ID = c.SeriesID
	return &c, nil
}

// ChapterQuery narrows chapter listings. Zero values mean "no filter".
type ChapterQuery struct {
	SeriesID int64
	GroupID  int64
	// BookmarkedBy selects chapters of series bookmarked by this user.
	BookmarkedBy int64
	// PublishedBefore hides chapters scheduled after this instant.
	PublishedBefore time.Time
	Limit           int
	Offset          int
	// Ascending orders by (volume, number) instead of newest first.
	Ascending bool
}

// ChapterRepository handles database operations for chapters
type ChapterRepository struct {
	q Querier
}

func NewChapterRepository(q Querier) *ChapterRepository {
	return &ChapterRepository{q: q}
}

func (r *ChapterRepository) Get(ctx context.Context, id int64) (*Chapter, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+chapterColumns+`
		FROM chapters c JOIN series s ON s.id = c.series_id
		WHERE c.id = ?
	`, id)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return c, nil
}

// Find looks a chapter up by its reader coordinates. A nil or zero volume
// matches the chapter without a volume.
func (r *ChapterRepository) Find(ctx context.Context, slug string, volume *int64, number float64) (*Chapter, error) {
	var vol int64
	if v := NormalizeVolume(volume); v != nil {
		vol = *v
	}
	row := r.q.QueryRowContext(ctx, `
		SELECT `+chapterColumns+`
		FROM chapters c JOIN series s ON s.id = c.series_id
		WHERE s.slug = ? AND IFNULL(c.volume, 0) = ? AND c.number = ?
	`, slug, vol, number)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find chapter: %w", err)
	}
	return c, nil
}

func (q ChapterQuery) where() (string, []any) {
	var where []string
	var args []any

	if q.SeriesID != 0 {
		where = append(where, "c.series_id = ?")
		args = append(args, q.SeriesID)
	}
	if q.GroupID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM chapter_groups cg WHERE cg.chapter_id = c.id AND cg.group_id = ?)")
		args = append(args, q.GroupID)
	}
	if q.BookmarkedBy != 0 {
		where = append(where, "c.series_id IN (SELECT series_id FROM bookmarks WHERE user_id = ?)")
		args = append(args, q.BookmarkedBy)
	}
	if !q.PublishedBefore.IsZero() {
		where = append(where, "c.published <= ?")
		args = append(args, FormatTime(q.PublishedBefore))
	}

	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// Count returns how many chapters match q, ignoring Limit and Offset.
func (r *ChapterRepository) Count(ctx context.Context, q ChapterQuery) (int, error) {
	where, args := q.where()
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chapters c`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chapters: %w", err)
	}
	return n, nil
}

// List returns chapters matching q. Unless Ascending is set the order is
// published desc, id desc.
func (r *ChapterRepository) List(ctx context.Context, q ChapterQuery) ([]*Chapter, error) {
	where, args := q.where()
	query := `SELECT ` + chapterColumns + ` FROM chapters c JOIN series s ON s.id = c.series_id` + where
	if q.Ascending {
		query += " ORDER BY IFNULL(c.volume, 0), c.number, c.id"
	} else {
		query += " ORDER BY c.published DESC, c.id DESC"
	}
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []*Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chapter row: %w", err)
		}
		chapters = append(chapters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chapter rows: %w", err)
	}
	return chapters, nil
}

// PublishedBetween returns chapters whose scheduled publication falls in (from, to].
func (r *ChapterRepository) PublishedBetween(ctx context.Context, from, to time.Time) ([]*Chapter, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+chapterColumns+`
		FROM chapters c JOIN series s ON s.id = c.series_id
		WHERE c.published > ? AND c.published <= ?
		ORDER BY c.published, c.id
	`, FormatTime(from), FormatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled chapters: %w", err)
	}
	defer rows.Close()

	var chapters []*Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chapter row: %w", err)
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

// Create inserts c. Volume 0 is stored as NULL.
func (r *ChapterRepository) Create(ctx context.Context, c *Chapter) error {
	c.Volume = NormalizeVolume(c.Volume)
	now := time.Now().UTC()
	if c.Published.IsZero() {
		c.Published = now
	}
	c.Modified = now
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO chapters (series_id, title, number, volume, final, published, modified, views, cover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.SeriesID, c.Title, c.Number, c.Volume, c.Final,
		FormatTime(c.Published), FormatTime(c.Modified), c.Views, c.Cover)
	if err != nil {
		return wrapWriteErr("create chapter", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get chapter id: %w", err)
	}
	return nil
}

// Update writes every column of c and bumps modified.
func (r *ChapterRepository) Update(ctx context.Context, c *Chapter) error {
	c.Volume = NormalizeVolume(c.Volume)
	c.Modified = time.Now().UTC()
	res, err := r.q.ExecContext(ctx, `
		UPDATE chapters
		SET series_id = ?, title = ?, number = ?, volume = ?, final = ?,
		    published = ?, modified = ?, cover = ?
		WHERE id = ?
	`, c.SeriesID, c.Title, c.Number, c.Volume, c.Final,
		FormatTime(c.Published), FormatTime(c.Modified), c.Cover, c.ID)
	if err != nil {
		return wrapWriteErr("update chapter", err)
	}
	return affected(res, "update chapter")
}

// Touch bumps modified without changing anything else.
func (r *ChapterRepository) Touch(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `UPDATE chapters SET modified = ? WHERE id = ?`, FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to touch chapter: %w", err)
	}
	return affected(res, "touch chapter")
}

// SetCover points the chapter cover at an image path.
func (r *ChapterRepository) SetCover(ctx context.Context, id int64, cover string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE chapters SET cover = ? WHERE id = ?`, cover, id)
	if err != nil {
		return fmt.Errorf("failed to set chapter cover: %w", err)
	}
	return affected(res, "set chapter cover")
}

// RewriteCoverPrefix replaces the leading oldPrefix of every chapter cover
// in a series.
func (r *ChapterRepository) RewriteCoverPrefix(ctx context.Context, seriesID int64, oldPrefix, newPrefix string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE chapters SET cover = ? || substr(cover, ?)
		WHERE series_id = ? AND substr(cover, 1, ?) = ?
	`, newPrefix, len(oldPrefix)+1, seriesID, len(oldPrefix), oldPrefix)
	if err != nil {
		return fmt.Errorf("failed to rewrite chapter covers: %w", err)
	}
	return nil
}

func (r *ChapterRepository) IncrementViews(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `UPDATE chapters SET views = views + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment chapter views: %w", err)
	}
	return nil
}

func (r *ChapterRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM chapters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chapter: %w", err)
	}
	return affected(res, "delete chapter")
}

// SetGroups replaces the groups credited on a chapter.
func (r *ChapterRepository) SetGroups(ctx context.Context, chapterID int64, groupIDs []int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM chapter_groups WHERE chapter_id = ?`, chapterID); err != nil {
		return fmt.Errorf("failed to clear chapter groups: %w", err)
	}
	for _, id := range groupIDs {
		_, err := r.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO chapter_groups (chapter_id, group_id) VALUES (?, ?)`, chapterID, id)
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("failed to link group %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to link chapter group: %w", err)
		}
	}
	return nil
}

// LoadGroups fills the Groups field of every chapter with one query.
func (r *ChapterRepository) LoadGroups(ctx context.Context, chapters []*Chapter) error {
	if len(chapters) == 0 {
		return nil
	}
	byID := make(map[int64]*Chapter, len(chapters))
	placeholders := make([]string, 0, len(chapters))
	args := make([]any, 0, len(chapters))
	for _, c := range chapters {
		c.Groups = []Group{}
		byID[c.ID] = c
		placeholders = append(placeholders, "?")
		args = append(args, c.ID)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT cg.chapter_id, g.id, g.name
		FROM chapter_groups cg JOIN groups g ON g.id = cg.group_id
		WHERE cg.chapter_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY g.name, g.id
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to load chapter groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chapterID int64
		var g Group
		if err := rows.Scan(&chapterID, &g.ID, &g.Name); err != nil {
			return fmt.Errorf("failed to scan chapter group row: %w", err)
		}
		if c, ok := byID[chapterID]; ok {
			c.Groups = append(c.Groups, g)
		}
	}
	return rows.Err()
}
