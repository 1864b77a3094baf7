// Package search filters and orders series from reader query parameters.
package search

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	MaxPage      = 100000
)

// Sort keys accepted by the sort parameter, optionally prefixed with "-".
const (
	SortTitle        = "title"
	SortLatestUpload = "latest_upload"
	SortChapterCount = "chapter_count"
	SortViews        = "views"
)

// Status filters.
const (
	StatusAny       = "any"
	StatusCompleted = "completed"
	StatusOngoing   = "ongoing"
)

// ParamError reports an invalid query parameter.
type ParamError struct {
	Param   string
	Message string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Message)
}

type Params struct {
	Query   string
	Author  string
	Status  string
	Include []string
	Exclude []string
	Slug    string
	Sort    string
	Desc    bool
	Page    int
	Limit   int
}

// ParseParams reads q, author, status, categories, slug, sort, page and limit.
func ParseParams(v url.Values) (Params, error) {
	p := Params{
		Query:  clean(v.Get("q")),
		Author: clean(v.Get("author")),
		Slug:   strings.TrimSpace(v.Get("slug")),
		Status: strings.ToLower(strings.TrimSpace(v.Get("status"))),
		Sort:   SortTitle,
		Page:   1,
		Limit:  DefaultLimit,
	}

	switch p.Status {
	case "":
		p.Status = StatusAny
	case StatusAny, StatusCompleted, StatusOngoing:
	default:
		return Params{}, &ParamError{Param: "status", Message: "must be one of any, completed, ongoing"}
	}

	p.Include, p.Exclude = parseCategories(v.Get("categories"))

	if s := strings.TrimSpace(v.Get("sort")); s != "" {
		p.Desc = strings.HasPrefix(s, "-")
		p.Sort = strings.TrimPrefix(s, "-")
		switch p.Sort {
		case SortTitle, SortLatestUpload, SortChapterCount, SortViews:
		default:
			return Params{}, &ParamError{Param: "sort", Message: "unknown sort key " + strconv.Quote(p.Sort)}
		}
	}

	var err error
	if p.Page, err = positive(v, "page", 1); err != nil {
		return Params{}, err
	}
	if p.Page > MaxPage {
		return Params{}, &ParamError{Param: "page", Message: fmt.Sprintf("must not exceed %d", MaxPage)}
	}
	if p.Limit, err = positive(v, "limit", DefaultLimit); err != nil {
		return Params{}, err
	}
	if p.Limit > MaxLimit {
		return Params{}, &ParamError{Param: "limit", Message: fmt.Sprintf("must not exceed %d", MaxLimit)}
	}
	return p, nil
}

// clean strips NUL bytes and surrounding whitespace.
func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// parseCategories splits "a,-b,c" into included and excluded names.
func parseCategories(raw string) (include, exclude []string) {
	for _, name := range strings.Split(raw, ",") {
		name = strings.ToLower(clean(name))
		if strings.HasPrefix(name, "-") {
			if name = strings.TrimSpace(name[1:]); name != "" {
				exclude = append(exclude, name)
			}
		} else if name != "" {
			include = append(include, name)
		}
	}
	return include, exclude
}

func positive(v url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &ParamError{Param: name, Message: "must be a positive integer"}
	}
	return n, nil
}
