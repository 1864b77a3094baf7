package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/manga-reader/app/archive"
	"github.com/lysyi3m/manga-reader/app/cache"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/reconcile"
	"github.com/lysyi3m/manga-reader/app/search"
)

const readerTTL = time.Hour

// PageResponse is the reader view of a single page.
type PageResponse struct {
	Series   SeriesView  `json:"series"`
	Chapter  ChapterView `json:"chapter"`
	Page     PageView    `json:"page"`
	Pages    []PageView  `json:"pages"`
	Previous string      `json:"previous,omitempty"`
	Next     string      `json:"next,omitempty"`
}

func (h *Handler) Index(c *gin.Context) {
	site := h.Sites.ForHost(c.Request.Host)
	c.JSON(http.StatusOK, gin.H{
		"name":    site.Name,
		"version": h.Config.Version,
		"links": gin.H{
			"library":  "/reader/",
			"search":   "/search",
			"releases": "/feeds/releases.atom",
			"api":      "/api/v2/openapi.json",
		},
	})
}

// Search runs a library search from the query string.
func (h *Handler) Search(c *gin.Context) {
	params, err := search.ParseParams(c.Request.URL.Query())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.searchResults(c, params)
}

func (h *Handler) searchResults(c *gin.Context, params search.Params) {
	result, err := h.search.Run(c.Request.Context(), params, isStaff(currentUser(c)))
	if err != nil {
		h.fail(c, err)
		return
	}
	list := PageList[SeriesView]{
		Total:   result.Total,
		Page:    result.Page,
		Limit:   result.Limit,
		Last:    result.Last,
		Results: make([]SeriesView, 0, len(result.Results)),
	}
	for _, s := range result.Results {
		list.Results = append(list.Results, h.seriesView(s))
	}
	c.JSON(http.StatusOK, list)
}

// Reader dispatches the /reader/ URL family by hand since gin cannot match
// a ".cbz" suffix on a path parameter.
func (h *Handler) Reader(c *gin.Context) {
	p := c.Param("path")
	rest := strings.TrimPrefix(p, "/")

	if base, ok := strings.CutSuffix(rest, ".cbz"); ok {
		segs := strings.Split(base, "/")
		if len(segs) != 3 {
			h.fail(c, NotFound("Page not found"))
			return
		}
		h.download(c, segs[0], segs[1], segs[2])
		return
	}

	if !strings.HasSuffix(p, "/") {
		target := "/reader" + p + "/"
		if q := c.Request.URL.RawQuery; q != "" {
			target += "?" + q
		}
		c.Redirect(http.StatusMovedPermanently, target)
		return
	}

	rest = strings.Trim(rest, "/")
	if rest == "" {
		h.library(c)
		return
	}

	segs := strings.Split(rest, "/")
	switch len(segs) {
	case 1:
		h.series(c, segs[0])
	case 3:
		h.chapter(c, segs[0], segs[1], segs[2])
	case 4:
		h.page(c, segs[0], segs[1], segs[2], segs[3])
	default:
		h.fail(c, NotFound("Page not found"))
	}
}

func (h *Handler) library(c *gin.Context) {
	params, err := search.ParseParams(c.Request.URL.Query())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.searchResults(c, params)
}

func (h *Handler) series(c *gin.Context, slug string) {
	view, modified, err := h.loadSeries(c.Request.Context(), slug, currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if notModified(c, modified) {
		return
	}
	c.JSON(http.StatusOK, view)
}

// loadSeries builds the series view with the chapters visible to user.
// Anonymous views are cached; managers see scheduled chapters too.
func (h *Handler) loadSeries(ctx context.Context, slug string, user *database.User) (*SeriesView, time.Time, error) {
	if !database.ValidSlug(slug) {
		return nil, time.Time{}, NotFound("Series not found")
	}

	view, err := cache.Remember(ctx, h.Cache, cache.SeriesKey(slug), readerTTL, func(ctx context.Context) (*SeriesView, error) {
		repo := database.NewSeriesRepository(h.DB)
		s, err := repo.GetBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		if err := repo.LoadRelations(ctx, s); err != nil {
			return nil, err
		}
		v := h.seriesView(s)
		return &v, nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	manager, err := h.Auth.CanManage(ctx, user, view.ID)
	if err != nil {
		return nil, time.Time{}, err
	}

	var chapters []ChapterView
	if manager {
		chapters, err = h.seriesChapters(ctx, view.ID, time.Time{})
	} else {
		chapters, err = cache.Remember(ctx, h.Cache, cache.ChaptersKey(slug), readerTTL, func(ctx context.Context) ([]ChapterView, error) {
			return h.seriesChapters(ctx, view.ID, h.now())
		})
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(chapters) == 0 && !manager {
		return nil, time.Time{}, Forbidden("This series has no published chapters")
	}

	modified, err := database.NewSeriesRepository(h.DB).LastModified(ctx, view.ID)
	if err != nil {
		return nil, time.Time{}, err
	}

	out := *view
	out.Chapters = chapters
	return &out, modified, nil
}

func (h *Handler) seriesChapters(ctx context.Context, seriesID int64, before time.Time) ([]ChapterView, error) {
	repo := database.NewChapterRepository(h.DB)
	chapters, err := repo.List(ctx, database.ChapterQuery{
		SeriesID:        seriesID,
		PublishedBefore: before,
		Limit:           h.Config.MaxChapters,
	})
	if err != nil {
		return nil, err
	}
	if err := repo.LoadGroups(ctx, chapters); err != nil {
		return nil, err
	}
	views := make([]ChapterView, 0, len(chapters))
	for _, ch := range chapters {
		views = append(views, h.chapterView(ch))
	}
	return views, nil
}

func parseVolume(s string) (*int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return nil, BadRequest("invalid volume: " + s)
	}
	return database.NormalizeVolume(&v), nil
}

func parseNumber(s string) (float64, error) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, BadRequest("invalid chapter number: " + s)
	}
	return n, nil
}

// findChapter resolves reader coordinates to a chapter visible to the caller.
func (h *Handler) findChapter(c *gin.Context, slug, vol, num string) (*database.Chapter, error) {
	volume, err := parseVolume(vol)
	if err != nil {
		return nil, err
	}
	number, err := parseNumber(num)
	if err != nil {
		return nil, err
	}
	chapter, err := database.NewChapterRepository(h.DB).Find(c.Request.Context(), slug, volume, number)
	if err != nil {
		return nil, err
	}
	if err := h.checkVisible(c, chapter); err != nil {
		return nil, err
	}
	return chapter, nil
}

// checkVisible hides scheduled chapters from everyone but their managers.
func (h *Handler) checkVisible(c *gin.Context, chapter *database.Chapter) error {
	if chapter.IsPublished(h.now()) {
		return nil
	}
	ok, err := h.Auth.CanManage(c.Request.Context(), currentUser(c), chapter.SeriesID)
	if err != nil {
		return err
	}
	if !ok {
		return NotFound("Chapter not found")
	}
	return nil
}

func (h *Handler) chapter(c *gin.Context, slug, vol, num string) {
	chapter, err := h.findChapter(c, slug, vol, num)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, reconcile.ChapterPath(chapter.Series.Slug, chapter.VolumeKey(), chapter.NumberString())+"1/")
}

func (h *Handler) page(c *gin.Context, slug, vol, num, pageStr string) {
	n, err := strconv.Atoi(pageStr)
	if err != nil || n < 1 {
		h.fail(c, BadRequest("invalid page: "+pageStr))
		return
	}
	chapter, err := h.findChapter(c, slug, vol, num)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	pages, err := h.chapterPages(ctx, chapter)
	if err != nil {
		h.fail(c, err)
		return
	}
	if n > len(pages) {
		h.fail(c, NotFound("Page not found"))
		return
	}

	if n == 1 && c.Request.Method != http.MethodHead {
		if err := database.NewChapterRepository(h.DB).IncrementViews(ctx, chapter.ID); err != nil {
			slog.Warn("Failed to count chapter view", "chapter_id", chapter.ID, "error", err)
		}
	}

	series, _, err := h.loadSeries(ctx, chapter.Series.Slug, currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	series.Chapters = nil

	base := reconcile.ChapterPath(chapter.Series.Slug, chapter.VolumeKey(), chapter.NumberString())
	resp := PageResponse{
		Series:  *series,
		Chapter: h.chapterView(chapter),
		Page:    pages[n-1],
		Pages:   pages,
	}
	if n > 1 {
		resp.Previous = base + strconv.Itoa(n-1) + "/"
	}
	if n < len(pages) {
		resp.Next = base + strconv.Itoa(n+1) + "/"
	}
	c.JSON(http.StatusOK, resp)
}

// chapterPages returns the page views of chapter, cached once it is public.
func (h *Handler) chapterPages(ctx context.Context, chapter *database.Chapter) ([]PageView, error) {
	load := func(ctx context.Context) ([]PageView, error) {
		pages, err := database.NewPageRepository(h.DB).ByChapter(ctx, chapter.ID)
		if err != nil {
			return nil, err
		}
		views := make([]PageView, 0, len(pages))
		for _, p := range pages {
			views = append(views, h.pageView(p))
		}
		return views, nil
	}
	if !chapter.IsPublished(h.now()) {
		return load(ctx)
	}
	return cache.Remember(ctx, h.Cache, cache.ChapterKey(chapter.Series.Slug, chapter.ID), readerTTL, load)
}

func (h *Handler) download(c *gin.Context, slug, vol, num string) {
	if !h.Config.AllowDownloads {
		h.fail(c, Forbidden("Downloads are disabled"))
		return
	}
	chapter, err := h.findChapter(c, slug, vol, num)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	pages, err := database.NewPageRepository(h.DB).ByChapter(ctx, chapter.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(pages) == 0 {
		h.fail(c, NotFound("Chapter has no pages"))
		return
	}

	c.Header("Content-Type", archive.ContentType)
	c.Header("Content-Disposition", `attachment; filename="`+archive.Filename(chapter)+`"`)
	c.Status(http.StatusOK)
	if err := archive.WriteCBZ(ctx, c.Writer, h.Blobs, pages); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("Failed to stream chapter archive", "chapter_id", chapter.ID, "error", err)
		}
		c.Abort()
	}
}
