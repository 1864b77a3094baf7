package api

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/ingest"
	"github.com/lysyi3m/manga-reader/app/reconcile"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ChapterInput is the body of chapter create and update requests.
type ChapterInput struct {
	Series    *string    `json:"series"`
	Title     *string    `json:"title"`
	Number    *float64   `json:"number"`
	Volume    *int64     `json:"volume"`
	Final     *bool      `json:"final"`
	Published *time.Time `json:"published"`
	Groups    *[]int64   `json:"groups"`
}

func (in ChapterInput) apply(ch *database.Chapter) error {
	if in.Title != nil {
		ch.Title = *in.Title
	}
	if in.Number != nil {
		if *in.Number < 0 {
			return BadRequest("number must not be negative")
		}
		ch.Number = *in.Number
	}
	if in.Volume != nil {
		if *in.Volume < 0 {
			return BadRequest("volume must not be negative")
		}
		v := *in.Volume
		ch.Volume = database.NormalizeVolume(&v)
	}
	if in.Final != nil {
		ch.Final = *in.Final
	}
	if in.Published != nil {
		ch.Published = in.Published.UTC()
	}
	return nil
}

func pagination(c *gin.Context) (page, limit int, err error) {
	page, limit = 1, defaultLimit
	if v := c.Query("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, BadRequest("invalid page: " + v)
		}
	}
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > maxLimit {
			return 0, 0, BadRequest("invalid limit: " + v)
		}
	}
	return page, limit, nil
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, BadRequest("invalid " + name + ": " + c.Param(name))
	}
	return id, nil
}

// ListChapters lists chapters filtered by the series and group parameters.
func (h *Handler) ListChapters(c *gin.Context) {
	page, limit, err := pagination(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	user := currentUser(c)
	q := database.ChapterQuery{Limit: limit, Offset: (page - 1) * limit}
	showScheduled := isStaff(user)

	if slug := c.Query("series"); slug != "" {
		s, err := database.NewSeriesRepository(h.DB).GetBySlug(ctx, slug)
		if err != nil {
			h.fail(c, err)
			return
		}
		q.SeriesID = s.ID
		if showScheduled, err = h.Auth.CanManage(ctx, user, s.ID); err != nil {
			h.fail(c, err)
			return
		}
	}
	if v := c.Query("group"); v != "" {
		if q.GroupID, err = strconv.ParseInt(v, 10, 64); err != nil {
			h.fail(c, BadRequest("invalid group: "+v))
			return
		}
	}
	if !showScheduled {
		q.PublishedBefore = h.now()
	}

	repo := database.NewChapterRepository(h.DB)
	total, err := repo.Count(ctx, q)
	if err != nil {
		h.fail(c, err)
		return
	}
	chapters, err := repo.List(ctx, q)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := repo.LoadGroups(ctx, chapters); err != nil {
		h.fail(c, err)
		return
	}

	list := PageList[ChapterView]{
		Total:   total,
		Page:    page,
		Limit:   limit,
		Last:    page*limit >= total,
		Results: make([]ChapterView, 0, len(chapters)),
	}
	for _, ch := range chapters {
		list.Results = append(list.Results, h.chapterView(ch))
	}
	c.JSON(http.StatusOK, list)
}

// saveGroups returns the transaction step that credits the input groups
// to ch, if any were sent.
func (in ChapterInput) saveGroups(ch *database.Chapter) []reconcile.TxFunc {
	if in.Groups == nil {
		return nil
	}
	return []reconcile.TxFunc{func(ctx context.Context, tx *sql.Tx) error {
		return database.NewChapterRepository(tx).SetGroups(ctx, ch.ID, *in.Groups)
	}}
}

func (h *Handler) CreateChapter(c *gin.Context) {
	var in ChapterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, BadRequest(err.Error()))
		return
	}
	if in.Series == nil || in.Number == nil {
		h.fail(c, BadRequest("series and number are required"))
		return
	}

	ctx := c.Request.Context()
	s, err := database.NewSeriesRepository(h.DB).GetBySlug(ctx, *in.Series)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ok, err := h.Auth.CanManage(ctx, currentUser(c), s.ID); err != nil || !ok {
		h.fail(c, orForbidden(err))
		return
	}

	ch := &database.Chapter{SeriesID: s.ID, Published: h.now().UTC()}
	if err := in.apply(ch); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Store.CreateChapter(ctx, ch, in.saveGroups(ch)...); err != nil {
		h.fail(c, err)
		return
	}

	view, err := h.loadChapterView(ctx, ch.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", "/api/v2/chapters/"+strconv.FormatInt(ch.ID, 10))
	c.JSON(http.StatusCreated, view)
}

func orForbidden(err error) error {
	if err != nil {
		return err
	}
	return Forbidden("You cannot modify this series")
}

func (h *Handler) loadChapterView(ctx context.Context, id int64) (ChapterView, error) {
	repo := database.NewChapterRepository(h.DB)
	ch, err := repo.Get(ctx, id)
	if err != nil {
		return ChapterView{}, err
	}
	if err := repo.LoadGroups(ctx, []*database.Chapter{ch}); err != nil {
		return ChapterView{}, err
	}
	return h.chapterView(ch), nil
}

// visibleChapter loads the chapter named by the id path parameter.
func (h *Handler) visibleChapter(c *gin.Context) (*database.Chapter, error) {
	id, err := pathID(c, "id")
	if err != nil {
		return nil, err
	}
	ch, err := database.NewChapterRepository(h.DB).Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := h.checkVisible(c, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// managedChapter loads the chapter named by the id path parameter if the
// caller may modify it.
func (h *Handler) managedChapter(c *gin.Context) (*database.Chapter, error) {
	id, err := pathID(c, "id")
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	ch, err := database.NewChapterRepository(h.DB).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := h.Auth.CanManage(ctx, currentUser(c), ch.SeriesID)
	if err != nil || !ok {
		return nil, orForbidden(err)
	}
	return ch, nil
}

func (h *Handler) GetChapter(c *gin.Context) {
	ch, err := h.visibleChapter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if notModified(c, ch.Modified) {
		return
	}
	repo := database.NewChapterRepository(h.DB)
	if err := repo.LoadGroups(c.Request.Context(), []*database.Chapter{ch}); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.chapterView(ch))
}

func (h *Handler) UpdateChapter(c *gin.Context) {
	old, err := h.managedChapter(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	var in ChapterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, BadRequest(err.Error()))
		return
	}
	if in.Series != nil && *in.Series != old.Series.Slug {
		h.fail(c, BadRequest("chapters cannot be moved to another series"))
		return
	}

	updated := *old
	if err := in.apply(&updated); err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.Store.UpdateChapter(ctx, old, &updated, in.saveGroups(&updated)...); err != nil {
		h.fail(c, err)
		return
	}

	view, err := h.loadChapterView(ctx, updated.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) DeleteChapter(c *gin.Context) {
	ch, err := h.managedChapter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Store.DeleteChapter(c.Request.Context(), ch); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ChapterPages(c *gin.Context) {
	ch, err := h.visibleChapter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	pages, err := h.chapterPages(c.Request.Context(), ch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pages)
}

// UploadChapter replaces the pages of a chapter with the images of the
// zip archive in the "file" form field.
func (h *Handler) UploadChapter(c *gin.Context) {
	ch, err := h.managedChapter(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, BadRequest("missing file field: file"))
		return
	}
	if limit := h.Pipeline.MaxSize(); fh.Size >= limit {
		h.fail(c, ingest.FileTooLarge(limit))
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	upload := &database.Upload{ID: uuid.NewString(), ChapterID: ch.ID, Size: fh.Size}
	upload.Path = blob.UploadPath(upload.ID)
	if err := h.Blobs.Put(ctx, upload.Path, f, fh.Size); err != nil {
		h.fail(c, err)
		return
	}
	if err := database.NewUploadRepository(h.DB).Create(ctx, upload); err != nil {
		_ = h.Blobs.Delete(context.WithoutCancel(ctx), upload.Path)
		h.fail(c, err)
		return
	}

	pages, err := h.Pipeline.Ingest(ctx, upload)
	if err != nil {
		h.fail(c, err)
		return
	}

	views := make([]PageView, 0, len(pages))
	for _, p := range pages {
		views = append(views, h.pageView(p))
	}
	c.JSON(http.StatusCreated, views)
}

func (h *Handler) GetPage(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	p, err := database.NewPageRepository(h.DB).Get(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ch, err := database.NewChapterRepository(h.DB).Get(ctx, p.ChapterID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.checkVisible(c, ch); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.pageView(p))
}
