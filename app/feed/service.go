package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lysyi3m/manga-reader/app/cache"
	"github.com/lysyi3m/manga-reader/app/database"
)

// Document is a rendered feed ready to be served.
type Document struct {
	Body         []byte    `json:"body"`
	LastModified time.Time `json:"last_modified"`
	Format       Format    `json:"format"`
}

type builder func(ctx context.Context) (*Feed, []Item, error)

// Service renders feeds through the cache.
type Service struct {
	sources   *Sources
	generator *Generator
	cache     *cache.Cache
	flight    singleflight.Group
}

func NewService(sources *Sources, generator *Generator, c *cache.Cache) *Service {
	return &Service{sources: sources, generator: generator, cache: c}
}

func (s *Service) Library(ctx context.Context, format Format) (*Document, error) {
	return s.render(ctx, cache.FeedKey("library."+string(format)), format, func(ctx context.Context) (*Feed, []Item, error) {
		return s.sources.Library(ctx, format)
	})
}

func (s *Service) Releases(ctx context.Context, slug string, format Format) (*Document, error) {
	key := "releases." + string(format)
	if slug != "" {
		key = "releases." + slug + "." + string(format)
	}
	return s.render(ctx, cache.FeedKey(key), format, func(ctx context.Context) (*Feed, []Item, error) {
		return s.sources.Releases(ctx, slug, format)
	})
}

func (s *Service) Group(ctx context.Context, groupID int64, format Format) (*Document, error) {
	key := cache.FeedKey(fmt.Sprintf("groups.%d.%s", groupID, format))
	return s.render(ctx, key, format, func(ctx context.Context) (*Feed, []Item, error) {
		return s.sources.Group(ctx, groupID, format)
	})
}

// Bookmarks renders the bookmark feed of user. Concurrent requests for the
// same feed share one computation, which runs to completion even if the
// requesting client goes away.
func (s *Service) Bookmarks(ctx context.Context, user *database.User, format Format) (*Document, error) {
	key := cache.BookmarksKey(user.ID) + "." + string(format)
	detached := context.WithoutCancel(ctx)

	ch := s.flight.DoChan(key, func() (any, error) {
		return s.render(detached, key, format, func(ctx context.Context) (*Feed, []Item, error) {
			return s.sources.Bookmarks(ctx, user, format)
		})
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Document), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) render(ctx context.Context, key string, format Format, build builder) (*Document, error) {
	return cache.Remember(ctx, s.cache, key, TTL, func(ctx context.Context) (*Document, error) {
		feed, items, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return &Document{
			Body:         s.generator.Run(format, feed, items),
			LastModified: LastModified(items),
			Format:       format,
		}, nil
	})
}

// ETag is a weak validator derived from the document timestamp.
func (d *Document) ETag() string {
	return `W/"` + strconv.FormatInt(d.LastModified.Unix(), 36) + "-" + strconv.Itoa(len(d.Body)) + `"`
}
