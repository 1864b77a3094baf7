package api

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/manga-reader/app/auth"
	"github.com/lysyi3m/manga-reader/app/feed"
)

const bookmarksRealm = `Bearer realm="bookmarks feed"`

// splitFeedName turns "releases.atom" into ("releases", FormatAtom).
func splitFeedName(name string) (string, feed.Format, error) {
	ext := path.Ext(name)
	format, err := feed.ParseFormat(strings.TrimPrefix(ext, "."))
	if err != nil {
		return "", "", NotFound("Feed not found")
	}
	return strings.TrimSuffix(name, ext), format, nil
}

// Feed serves /feeds/library, /feeds/releases, /feeds/releases/{slug} and
// /feeds/groups/{id} as Atom or RSS.
func (h *Handler) Feed(c *gin.Context) {
	dir, file := path.Split(strings.TrimPrefix(c.Param("path"), "/"))
	name, format, err := splitFeedName(file)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	var doc *feed.Document
	switch {
	case dir == "" && name == "library":
		doc, err = h.Feeds.Library(ctx, format)
	case dir == "" && name == "releases":
		doc, err = h.Feeds.Releases(ctx, "", format)
	case dir == "releases/" && name != "":
		doc, err = h.Feeds.Releases(ctx, name, format)
	case dir == "groups/":
		id, perr := strconv.ParseInt(name, 10, 64)
		if perr != nil || id < 1 {
			h.fail(c, NotFound("Feed not found"))
			return
		}
		doc, err = h.Feeds.Group(ctx, id, format)
	default:
		err = NotFound("Feed not found")
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	serveDocument(c, doc)
}

// BookmarksFeed serves /user/bookmarks.{atom,rss}. The token comes from the
// token query parameter or a Bearer authorization header.
func (h *Handler) BookmarksFeed(c *gin.Context) {
	name, format, err := splitFeedName(c.Param("file"))
	if err != nil || name != "bookmarks" {
		h.fail(c, NotFound("Feed not found"))
		return
	}
	c.Header("Vary", "Authorization")

	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Header("WWW-Authenticate", bookmarksRealm)
			c.String(http.StatusUnauthorized, "authentication token required")
			return
		}
		token, err = auth.BearerToken(header)
		if err != nil {
			c.String(http.StatusForbidden, err.Error())
			return
		}
	}

	user, err := h.Auth.FeedUser(c.Request.Context(), token)
	if errors.Is(err, auth.ErrInvalidToken) {
		c.String(http.StatusForbidden, "invalid token")
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	doc, err := h.Feeds.Bookmarks(c.Request.Context(), user, format)
	if err != nil {
		h.fail(c, err)
		return
	}
	serveDocument(c, doc)
}

func serveDocument(c *gin.Context, doc *feed.Document) {
	c.Header("Cache-Control", "max-age="+strconv.Itoa(int(feed.TTL.Seconds())))
	c.Header("ETag", doc.ETag())
	if notModified(c, doc.LastModified) {
		return
	}
	c.Data(http.StatusOK, doc.Format.ContentType(), doc.Body)
}
