package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/manga-reader/app/database"
)

// notModified sets Last-Modified and answers 304 when the client copy is
// current. HTTP dates carry whole seconds only.
func notModified(c *gin.Context, modified time.Time) bool {
	if modified.IsZero() {
		return false
	}
	modified = modified.UTC().Truncate(time.Second)
	c.Header("Last-Modified", modified.Format(http.TimeFormat))

	ims := c.GetHeader("If-Modified-Since")
	if ims == "" {
		return false
	}
	since, err := http.ParseTime(ims)
	if err != nil || modified.After(since) {
		return false
	}
	c.AbortWithStatus(http.StatusNotModified)
	return true
}

// redirect answers with the target of a stored redirect for the request
// path, and reports whether it did.
func (h *Handler) redirect(c *gin.Context) bool {
	site := h.Sites.ForHost(c.Request.Host)
	target, err := database.NewRedirectRepository(h.DB).Resolve(c.Request.Context(), site.ID, c.Request.URL.Path)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			slog.Warn("Failed to resolve redirect", "path", c.Request.URL.Path, "error", err)
		}
		return false
	}
	if q := c.Request.URL.RawQuery; q != "" {
		target += "?" + q
	}
	c.Redirect(http.StatusMovedPermanently, target)
	c.Abort()
	return true
}
