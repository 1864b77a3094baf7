package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/manga-reader/app/database"
)

// CubariChapter is one chapter of a Cubari gist. Groups maps a group name
// to the absolute page URLs of its release.
type CubariChapter struct {
	Title       string              `json:"title"`
	Volume      string              `json:"volume"`
	LastUpdated string              `json:"last_updated"`
	Groups      map[string][]string `json:"groups"`
}

// CubariSeries is the gist format read by cubari.moe.
type CubariSeries struct {
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	Artist      string                   `json:"artist"`
	Author      string                   `json:"author"`
	Cover       string                   `json:"cover"`
	Chapters    map[string]CubariChapter `json:"chapters"`
}

// Cubari exports the published chapters of a series as a Cubari gist.
func (h *Handler) Cubari(c *gin.Context) {
	ctx := c.Request.Context()
	series := database.NewSeriesRepository(h.DB)
	s, err := series.GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := series.LoadRelations(ctx, s); err != nil {
		h.fail(c, err)
		return
	}

	chapters := database.NewChapterRepository(h.DB)
	list, err := chapters.List(ctx, database.ChapterQuery{SeriesID: s.ID, PublishedBefore: h.now(), Ascending: true})
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := chapters.LoadGroups(ctx, list); err != nil {
		h.fail(c, err)
		return
	}

	base := h.baseURL(c)
	view := h.seriesView(s)
	out := CubariSeries{
		Title:       s.Title,
		Description: s.Description,
		Artist:      strings.Join(view.Artists, ", "),
		Author:      strings.Join(view.Authors, ", "),
		Cover:       h.URLs.Absolute(base, s.Cover),
		Chapters:    make(map[string]CubariChapter, len(list)),
	}

	pages := database.NewPageRepository(h.DB)
	for _, ch := range list {
		images, err := pages.ByChapter(ctx, ch.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		urls := make([]string, 0, len(images))
		for _, p := range images {
			urls = append(urls, h.URLs.Absolute(base, p.Image))
		}

		group := "Unknown"
		if len(ch.Groups) > 0 {
			names := make([]string, 0, len(ch.Groups))
			for _, g := range ch.Groups {
				names = append(names, g.Name)
			}
			group = strings.Join(names, " & ")
		}

		volume := ""
		if ch.Volume != nil {
			volume = strconv.FormatInt(*ch.Volume, 10)
		}
		out.Chapters[ch.NumberString()] = CubariChapter{
			Title:       ch.Title,
			Volume:      volume,
			LastUpdated: strconv.FormatInt(ch.Modified.Unix(), 10),
			Groups:      map[string][]string{group: urls},
		}
	}

	c.JSON(http.StatusOK, out)
}
