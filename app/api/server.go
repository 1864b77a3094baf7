// Package api serves the reader, the feeds and the JSON API over gin.
package api

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/manga-reader/app/auth"
	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/cache"
	"github.com/lysyi3m/manga-reader/app/cfg"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/feed"
	"github.com/lysyi3m/manga-reader/app/ingest"
	"github.com/lysyi3m/manga-reader/app/ratelimit"
	"github.com/lysyi3m/manga-reader/app/reconcile"
	"github.com/lysyi3m/manga-reader/app/search"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Config   *cfg.Cfg
	Sites    *cfg.Sites
	DB       *database.DB
	Blobs    blob.Storage
	URLs     *blob.Resolver
	Cache    *cache.Cache
	Auth     *auth.Service
	Store    *reconcile.Store
	Pipeline *ingest.Pipeline
	Feeds    *feed.Service
	Limiter  ratelimit.Limiter
}

type Handler struct {
	Deps
	search *search.Engine
	engine *gin.Engine
	now    func() time.Time
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		Deps:   deps,
		search: search.NewEngine(deps.DB),
		now:    time.Now,
	}
}

// NewServer creates the gin engine with every route configured
func NewServer(h *Handler) *gin.Engine {
	if h.Config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.RedirectTrailingSlash = true
	r.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(cors())
	r.Use(headBody())

	// Registered before the remaining middleware so that they skip
	// authentication, throttling and deadlines.
	get(r, "/robots.txt", h.Robots)
	get(r, "/health", h.HealthCheck)

	r.Use(tooEarly())
	r.Use(h.authenticate())
	r.Use(h.throttle())
	r.Use(h.deadline())

	h.engine = r
	setupRoutes(r, h)

	return r
}

// setupRoutes configures all the application routes
func setupRoutes(r *gin.Engine, h *Handler) {
	get(r, "/", h.Index)
	get(r, "/search", h.Search)
	get(r, "/reader/*path", h.Reader)
	get(r, "/feeds/*path", h.Feed)
	get(r, "/user/:file", h.BookmarksFeed)

	if files, ok := h.Blobs.(*blob.FileStorage); ok && h.URLs.MediaURL() == "/media/" {
		r.StaticFS("/media", http.Dir(files.Root()))
	}

	get(r, "/swagger", h.viewer("https://petstore.swagger.io/?url="))
	get(r, "/redoc", h.viewer("https://redocly.github.io/redoc/?url="))

	h.registerAPI(r.Group("/api/v2"))
	h.registerAPI(r.Group("/api/v1", h.legacy()))
	if h.Config.EnableV1API {
		slog.Info("Legacy v1 API enabled")
	}

	r.NoRoute(h.NotFound)
	r.NoMethod(h.MethodNotAllowed)
}

// get registers handlers for GET and HEAD.
func get(r gin.IRoutes, path string, handlers ...gin.HandlerFunc) {
	r.GET(path, handlers...)
	r.HEAD(path, handlers...)
}

func (h *Handler) registerAPI(api *gin.RouterGroup) {
	get(api, "/openapi.json", h.OpenAPI)
	get(api, "/cubari/:slug", h.Cubari)

	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)

	get(api, "/series", h.ListSeries)
	api.POST("/series", h.requireUser(), h.CreateSeries)
	get(api, "/series/:slug", h.GetSeries)
	api.PATCH("/series/:slug", h.requireUser(), h.UpdateSeries)
	api.DELETE("/series/:slug", h.requireUser(), h.DeleteSeries)
	api.POST("/series/:slug/cover", h.requireUser(), h.UploadCover)

	get(api, "/chapters", h.ListChapters)
	api.POST("/chapters", h.requireUser(), h.CreateChapter)
	get(api, "/chapters/:id", h.GetChapter)
	api.PATCH("/chapters/:id", h.requireUser(), h.UpdateChapter)
	api.DELETE("/chapters/:id", h.requireUser(), h.DeleteChapter)
	get(api, "/chapters/:id/pages", h.ChapterPages)
	api.POST("/chapters/:id/upload", h.requireUser(), h.UploadChapter)

	get(api, "/pages/:id", h.GetPage)

	get(api, "/authors", h.ListPeople(database.NewAuthorRepository))
	api.POST("/authors", h.requireStaff(), h.CreatePerson(database.NewAuthorRepository))
	get(api, "/authors/:id", h.GetPerson(database.NewAuthorRepository))
	get(api, "/artists", h.ListPeople(database.NewArtistRepository))
	api.POST("/artists", h.requireStaff(), h.CreatePerson(database.NewArtistRepository))
	get(api, "/artists/:id", h.GetPerson(database.NewArtistRepository))

	get(api, "/categories", h.ListCategories)

	get(api, "/groups", h.ListGroups)
	api.POST("/groups", h.requireStaff(), h.CreateGroup)
	get(api, "/groups/:id", h.GetGroup)
	api.PATCH("/groups/:id", h.requireStaff(), h.UpdateGroup)
	api.POST("/groups/:id/logo", h.requireStaff(), h.UploadGroupLogo)

	get(api, "/bookmarks", h.requireUser(), h.ListBookmarks)
	api.POST("/bookmarks", h.requireUser(), h.AddBookmark)
	api.DELETE("/bookmarks/:slug", h.requireUser(), h.RemoveBookmark)

	get(api, "/token", h.requireUser(), h.GetToken)
	api.POST("/token", h.requireUser(), h.RotateToken)

	get(api, "/profile", h.requireUser(), h.GetProfile)
	api.PATCH("/profile", h.requireUser(), h.UpdateProfile)
	api.POST("/profile/avatar", h.requireUser(), h.UploadAvatar)
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	if err := h.DB.PingContext(c.Request.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database"})
		return
	}
	if err := h.Cache.Backend().Ping(c.Request.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   cfg.GetVersion(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Robots(c *gin.Context) {
	c.String(http.StatusOK, "User-agent: *\nDisallow: /api/\nDisallow: /user/\n")
}

// NotFound handles unmatched paths: redirects first, then 501 for unknown
// API endpoints and 404 everywhere else.
func (h *Handler) NotFound(c *gin.Context) {
	p := c.Request.URL.Path
	switch {
	case isLegacyPath(p) && !h.Config.EnableV1API:
		h.fail(c, Gone("The v1 API has been removed"))
	case isAPIPath(p):
		if !h.redirect(c) {
			render(c, Unsupported())
		}
	default:
		h.fail(c, NotFound("Page not found"))
	}
}

func (h *Handler) MethodNotAllowed(c *gin.Context) {
	if allowed := allowedMethods(h.engine.Routes(), c.Request.URL.Path); len(allowed) > 0 {
		c.Header("Allow", joinMethods(allowed))
	}
	render(c, &APIError{Status: http.StatusMethodNotAllowed, Message: "Method not allowed"})
}

func (h *Handler) viewer(prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, prefix+h.baseURL(c)+"/api/v2/openapi.json")
	}
}

// baseURL is the configured site URL, falling back to the request host.
func (h *Handler) baseURL(c *gin.Context) string {
	if h.Config.SiteDomain != "" {
		return h.Config.BaseURL()
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
