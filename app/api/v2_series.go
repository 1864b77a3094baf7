package api

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/reconcile"
)

// maxImageSize caps covers, group logos and avatars.
const maxImageSize = 10 << 20

// SeriesInput is the body of series create and update requests. Absent
// fields are left unchanged.
type SeriesInput struct {
	Slug        *string   `json:"slug"`
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Status      *string   `json:"status"`
	Kind        *string   `json:"kind"`
	Licensed    *bool     `json:"licensed"`
	Format      *string   `json:"format"`
	Authors     *[]int64  `json:"authors"`
	Artists     *[]int64  `json:"artists"`
	Categories  *[]string `json:"categories"`
	Aliases     *[]string `json:"aliases"`
}

func (in SeriesInput) apply(s *database.Series) error {
	if in.Slug != nil {
		s.Slug = strings.TrimSpace(*in.Slug)
	}
	if in.Title != nil {
		s.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		s.Description = *in.Description
	}
	if in.Status != nil {
		if !database.ValidStatus(*in.Status) {
			return BadRequest("invalid status: " + *in.Status)
		}
		s.Status = *in.Status
	}
	if in.Kind != nil {
		if !database.ValidKind(*in.Kind) {
			return BadRequest("invalid kind: " + *in.Kind)
		}
		s.Kind = *in.Kind
	}
	if in.Licensed != nil {
		s.Licensed = *in.Licensed
	}
	if in.Format != nil {
		s.Format = *in.Format
	}
	if s.Title == "" {
		return BadRequest("title is required")
	}
	if !database.ValidSlug(s.Slug) {
		return BadRequest("invalid slug: " + s.Slug)
	}
	return nil
}

func (in SeriesInput) hasRelations() bool {
	return in.Authors != nil || in.Artists != nil || in.Categories != nil || in.Aliases != nil
}

// saveRelations writes the M:N relations named in the input.
func (in SeriesInput) saveRelations(ctx context.Context, tx *sql.Tx, seriesID int64) error {
	repo := database.NewSeriesRepository(tx)
	if in.Authors != nil {
		if err := repo.SetAuthors(ctx, seriesID, *in.Authors); err != nil {
			return err
		}
	}
	if in.Artists != nil {
		if err := repo.SetArtists(ctx, seriesID, *in.Artists); err != nil {
			return err
		}
	}
	if in.Categories != nil {
		if err := repo.SetCategories(ctx, seriesID, *in.Categories); err != nil {
			return err
		}
	}
	if in.Aliases != nil {
		return database.NewAliasRepository(tx).Set(ctx, database.AliasSeries, seriesID, *in.Aliases)
	}
	return nil
}

// ListSeries searches the library.
func (h *Handler) ListSeries(c *gin.Context) {
	h.Search(c)
}

func (h *Handler) CreateSeries(c *gin.Context) {
	user := currentUser(c)
	if !isStaff(user) && !user.IsScanlator {
		h.fail(c, Forbidden("Only scanlators can create series"))
		return
	}

	var in SeriesInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, BadRequest(err.Error()))
		return
	}
	s := &database.Series{}
	if err := in.apply(s); err != nil {
		h.fail(c, err)
		return
	}
	if !isStaff(user) {
		s.ManagerID = &user.ID
	}

	ctx := c.Request.Context()
	err := h.DB.InTx(ctx, func(tx *sql.Tx) error {
		if err := database.NewSeriesRepository(tx).Create(ctx, s); err != nil {
			return err
		}
		return in.saveRelations(ctx, tx, s.ID)
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	view, _, err := h.loadSeries(ctx, s.Slug, user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", "/api/v2/series/"+s.Slug)
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) GetSeries(c *gin.Context) {
	view, modified, err := h.loadSeries(c.Request.Context(), c.Param("slug"), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if notModified(c, modified) {
		return
	}
	c.JSON(http.StatusOK, view)
}

// managedSeries loads the series named in the path if the caller may modify it.
func (h *Handler) managedSeries(c *gin.Context) (*database.Series, error) {
	ctx := c.Request.Context()
	s, err := database.NewSeriesRepository(h.DB).GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		return nil, err
	}
	ok, err := h.Auth.CanManage(ctx, currentUser(c), s.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Forbidden("You cannot modify this series")
	}
	return s, nil
}

func (h *Handler) UpdateSeries(c *gin.Context) {
	old, err := h.managedSeries(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	var in SeriesInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, BadRequest(err.Error()))
		return
	}
	updated := *old
	if err := in.apply(&updated); err != nil {
		h.fail(c, err)
		return
	}

	var also []reconcile.TxFunc
	if in.hasRelations() {
		also = append(also, func(ctx context.Context, tx *sql.Tx) error {
			return in.saveRelations(ctx, tx, updated.ID)
		})
	}

	ctx := c.Request.Context()
	if err := h.Store.UpdateSeries(ctx, old, &updated, also...); err != nil {
		h.fail(c, err)
		return
	}

	view, _, err := h.loadSeries(ctx, updated.Slug, currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) DeleteSeries(c *gin.Context) {
	s, err := h.managedSeries(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Store.DeleteSeries(c.Request.Context(), s); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadCover replaces the cover image from the "file" form field.
func (h *Handler) UploadCover(c *gin.Context) {
	old, err := h.managedSeries(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	cover, err := h.putImage(c, func(ext string) string { return blob.CoverPath(old.Slug, ext) })
	if err != nil {
		h.fail(c, err)
		return
	}

	updated := *old
	updated.Cover = cover
	if err := h.Store.UpdateSeries(ctx, old, &updated); err != nil {
		h.fail(c, err)
		return
	}
	if old.Cover != "" && old.Cover != cover {
		_ = h.Blobs.Delete(ctx, old.Cover)
	}
	c.JSON(http.StatusOK, gin.H{"cover": h.URLs.URL(cover)})
}

// putImage stores the image sent in the "file" field at the path pathFor
// returns for its extension.
func (h *Handler) putImage(c *gin.Context, pathFor func(ext string) string) (string, error) {
	data, err := formFile(c, "file", maxImageSize)
	if err != nil {
		return "", err
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", BadRequest("file must be an image")
	}

	p := pathFor(mt.Extension())
	if err := h.Blobs.Put(c.Request.Context(), p, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", err
	}
	return p, nil
}

// formFile reads a multipart file field of at most limit bytes.
func formFile(c *gin.Context, field string, limit int64) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, BadRequest("missing file field: " + field)
	}
	if fh.Size > limit {
		return nil, &APIError{Status: http.StatusRequestEntityTooLarge, Message: "file too large"}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}
