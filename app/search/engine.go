package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/manga-reader/app/database"
)

// Result is one page of matching series.
type Result struct {
	Total   int
	Page    int
	Limit   int
	Last    bool
	Results []*database.Series
}

type Engine struct {
	q   database.Querier
	now func() time.Time
}

func NewEngine(q database.Querier) *Engine {
	return &Engine{q: q, now: time.Now}
}

// predicate builds the WHERE clause and its arguments.
func predicate(p Params) (string, []any) {
	var where []string
	var args []any

	if p.Query != "" {
		term := database.Fold(p.Query)
		where = append(where, `(instr(casefold(s.title), ?) > 0
			OR EXISTS (SELECT 1 FROM aliases a
				WHERE a.kind = 'series' AND a.object_id = s.id AND instr(casefold(a.name), ?) > 0))`)
		args = append(args, term, term)
	}

	if p.Author != "" {
		term := database.Fold(p.Author)
		where = append(where, `(`+people("authors", "series_authors", "author_id", "author")+`
			OR `+people("artists", "series_artists", "artist_id", "artist")+`)`)
		args = append(args, term, term, term, term)
	}

	switch p.Status {
	case StatusCompleted:
		where = append(where, "s.status = 'completed'")
	case StatusOngoing:
		where = append(where, "s.status <> 'completed'")
	}

	if len(p.Include) > 0 {
		where = append(where, `EXISTS (SELECT 1 FROM series_categories sc
			WHERE sc.series_id = s.id AND sc.category IN (`+placeholders(len(p.Include))+`))`)
		for _, name := range p.Include {
			args = append(args, name)
		}
	}
	if len(p.Exclude) > 0 {
		where = append(where, `NOT EXISTS (SELECT 1 FROM series_categories sc
			WHERE sc.series_id = s.id AND sc.category IN (`+placeholders(len(p.Exclude))+`))`)
		for _, name := range p.Exclude {
			args = append(args, name)
		}
	}

	if p.Slug != "" {
		where = append(where, "s.slug = ?")
		args = append(args, p.Slug)
	}

	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// people matches a credited person by name or alias. It consumes two arguments.
func people(table, link, column, kind string) string {
	return `EXISTS (SELECT 1 FROM ` + link + ` l JOIN ` + table + ` p ON p.id = l.` + column + `
		WHERE l.series_id = s.id AND (instr(casefold(p.name), ?) > 0
			OR EXISTS (SELECT 1 FROM aliases a
				WHERE a.kind = '` + kind + `' AND a.object_id = p.id AND instr(casefold(a.name), ?) > 0)))`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// orderBy returns the ORDER BY clause; ties always fall back to id ascending.
func orderBy(p Params, now string) (string, []any) {
	dir := "ASC"
	if p.Desc {
		dir = "DESC"
	}
	var expr string
	var args []any
	switch p.Sort {
	case SortLatestUpload:
		expr = `IFNULL((SELECT MAX(c.published) FROM chapters c WHERE c.series_id = s.id AND c.published <= ?), '')`
		args = append(args, now)
	case SortChapterCount:
		expr = `(SELECT COUNT(*) FROM chapters c WHERE c.series_id = s.id)`
	case SortViews:
		expr = `(SELECT IFNULL(SUM(c.views), 0) FROM chapters c WHERE c.series_id = s.id)`
	default:
		expr = `casefold(s.title)`
	}
	return " ORDER BY " + expr + " " + dir + ", s.id ASC", args
}

// Run executes the search. Viewers that are not staff never see a lone
// result whose chapters are all unpublished.
func (e *Engine) Run(ctx context.Context, p Params, staff bool) (*Result, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		p.Limit = DefaultLimit
	}
	now := database.FormatTime(e.now())

	where, args := predicate(p)

	var total int
	if err := e.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM series s`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count search results: %w", err)
	}

	order, orderArgs := orderBy(p, now)
	query := `SELECT ` + database.SeriesColumns + ` FROM series s` + where + order + ` LIMIT ? OFFSET ?`
	queryArgs := append(append(append([]any{}, args...), orderArgs...), p.Limit, (p.Page-1)*p.Limit)

	series, err := database.NewSeriesRepository(e.q).Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, err
	}

	if total == 1 && len(series) == 1 && !staff {
		var published int
		err := e.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chapters WHERE series_id = ? AND published <= ?`, series[0].ID, now).Scan(&published)
		if err != nil {
			return nil, fmt.Errorf("failed to count published chapters: %w", err)
		}
		if published == 0 {
			total, series = 0, nil
		}
	}

	if series == nil {
		series = []*database.Series{}
	}
	return &Result{
		Total:   total,
		Page:    p.Page,
		Limit:   p.Limit,
		Last:    p.Page-1 >= (total-1)/p.Limit,
		Results: series,
	}, nil
}
