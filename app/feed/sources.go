package feed

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/reconcile"
)

// Options configure how feed items are built.
type Options struct {
	BaseURL        string
	SiteName       string
	Language       string
	MaxReleases    int
	AllowDownloads bool
}

// Sources assembles feed items from the store.
type Sources struct {
	db    database.Querier
	blobs blob.Storage
	urls  *blob.Resolver
	opts  Options
	now   func() time.Time
}

func NewSources(db database.Querier, blobs blob.Storage, urls *blob.Resolver, opts Options) *Sources {
	if opts.MaxReleases < 1 {
		opts.MaxReleases = 20
	}
	return &Sources{db: db, blobs: blobs, urls: urls, opts: opts, now: time.Now}
}

func (s *Sources) channel(title, link, self, description string) *Feed {
	return &Feed{
		Title:       title,
		Link:        s.opts.BaseURL + link,
		SelfURL:     s.opts.BaseURL + self,
		Description: description,
		Language:    s.opts.Language,
		Author:      s.opts.SiteName,
	}
}

// Library lists the newest series with their covers as enclosures.
func (s *Sources) Library(ctx context.Context, format Format) (*Feed, []Item, error) {
	repo := database.NewSeriesRepository(s.db)
	series, err := repo.Latest(ctx, s.opts.MaxReleases)
	if err != nil {
		return nil, nil, err
	}

	items := make([]Item, 0, len(series))
	for _, sr := range series {
		if err := repo.LoadRelations(ctx, sr); err != nil {
			return nil, nil, err
		}
		items = append(items, s.seriesItem(ctx, sr))
	}

	feed := s.channel(s.opts.SiteName+" - Library", "/reader/", "/feeds/library."+string(format),
		"Latest series on "+s.opts.SiteName)
	return feed, items, nil
}

// Releases lists the newest chapters of every series, or of the series
// with the given slug when slug is not empty.
func (s *Sources) Releases(ctx context.Context, slug string, format Format) (*Feed, []Item, error) {
	if slug == "" {
		items, err := s.chapters(ctx, database.ChapterQuery{})
		if err != nil {
			return nil, nil, err
		}
		feed := s.channel(s.opts.SiteName+" - Releases", "/reader/", "/feeds/releases."+string(format),
			"Latest releases on "+s.opts.SiteName)
		return feed, items, nil
	}

	series, err := database.NewSeriesRepository(s.db).GetBySlug(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.chapters(ctx, database.ChapterQuery{SeriesID: series.ID})
	if err != nil {
		return nil, nil, err
	}
	feed := s.channel(series.Title+" - Releases", reconcile.SeriesPath(series.Slug),
		"/feeds/releases/"+series.Slug+"."+string(format), "Latest releases of "+series.Title)
	return feed, items, nil
}

// Group lists the newest chapters credited to a group.
func (s *Sources) Group(ctx context.Context, groupID int64, format Format) (*Feed, []Item, error) {
	group, err := database.NewGroupRepository(s.db).Get(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.chapters(ctx, database.ChapterQuery{GroupID: group.ID})
	if err != nil {
		return nil, nil, err
	}
	feed := s.channel(group.Name+" - Releases", "/reader/",
		fmt.Sprintf("/feeds/groups/%d.%s", group.ID, format), "Latest releases by "+group.Name)
	return feed, items, nil
}

// Bookmarks lists the newest chapters of the series bookmarked by user.
func (s *Sources) Bookmarks(ctx context.Context, user *database.User, format Format) (*Feed, []Item, error) {
	items, err := s.chapters(ctx, database.ChapterQuery{BookmarkedBy: user.ID})
	if err != nil {
		return nil, nil, err
	}
	feed := s.channel(user.Username+" - Bookmarks", "/reader/", "/user/bookmarks."+string(format),
		"Latest releases of the series bookmarked by "+user.Username)
	return feed, items, nil
}

func (s *Sources) chapters(ctx context.Context, q database.ChapterQuery) ([]Item, error) {
	q.PublishedBefore = s.now()
	q.Limit = s.opts.MaxReleases

	repo := database.NewChapterRepository(s.db)
	chapters, err := repo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := repo.LoadGroups(ctx, chapters); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(chapters))
	for _, c := range chapters {
		items = append(items, s.chapterItem(c))
	}
	return items, nil
}

func (s *Sources) chapterItem(c *database.Chapter) Item {
	link := s.opts.BaseURL + reconcile.ChapterPath(c.Series.Slug, c.VolumeKey(), c.NumberString())
	name := c.Name(c.Series.Format, c.Series.Title)

	description := html.EscapeString(name)
	if s.opts.AllowDownloads {
		download := fmt.Sprintf("%s/reader/%s/%d/%s.cbz", s.opts.BaseURL, c.Series.Slug, c.VolumeKey(), c.NumberString())
		description += fmt.Sprintf(`<br/><a href="%s">Download</a>`, html.EscapeString(download))
	}

	item := Item{
		GUID:        link,
		Title:       c.Series.Title + " - " + name,
		Link:        link,
		Description: description,
		Published:   c.Published.UTC(),
		Updated:     c.Modified.UTC(),
	}
	for _, g := range c.Groups {
		item.Authors = append(item.Authors, g.Name)
	}
	return item
}

func (s *Sources) seriesItem(ctx context.Context, sr *database.Series) Item {
	link := s.opts.BaseURL + reconcile.SeriesPath(sr.Slug)
	item := Item{
		GUID:        link,
		Title:       sr.Title,
		Link:        link,
		Description: html.EscapeString(sr.Description),
		Published:   sr.Created.UTC(),
		Updated:     sr.Modified.UTC(),
	}
	for _, a := range sr.Authors {
		item.Authors = append(item.Authors, a.Name)
	}
	for _, c := range sr.Categories {
		item.Categories = append(item.Categories, c.Name)
	}

	if sr.Cover != "" {
		mime, size, err := blob.Describe(ctx, s.blobs, sr.Cover)
		if err != nil {
			slog.Warn("Failed to describe series cover", "series", sr.Slug, "cover", sr.Cover, "error", err)
		} else {
			item.Enclosure = &Enclosure{
				URL:    s.urls.Absolute(s.opts.BaseURL, sr.Cover),
				Length: size,
				Type:   mime,
			}
		}
	}
	return item
}
