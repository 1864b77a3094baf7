package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"

	"github.com/lysyi3m/manga-reader/app/auth"
	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/cache"
	"github.com/lysyi3m/manga-reader/app/cfg"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/database/dbtest"
	"github.com/lysyi3m/manga-reader/app/feed"
	"github.com/lysyi3m/manga-reader/app/ingest"
	"github.com/lysyi3m/manga-reader/app/ratelimit"
	"github.com/lysyi3m/manga-reader/app/reconcile"
)

const (
	feedToken = "0123456789abcdef0123456789abcdef"
	staffKey  = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

type testServer struct {
	t      *testing.T
	db     *database.DB
	blobs  *blob.FileStorage
	engine *gin.Engine
}

func newTestServer(t *testing.T, configure ...func(*cfg.Cfg)) *testServer {
	t.Helper()

	c := &cfg.Cfg{
		SiteDomain:    "example.com",
		SecretKey:     "secret",
		LangCode:      "en-us",
		MediaURL:      "/media/",
		MaxReleases:   20,
		MaxUploadSize: ingest.DefaultMaxSize,
		ThrottleAnon:  1000,
		GetTimeout:    30 * time.Second,
		UploadTimeout: 300 * time.Second,
		Version:       "test",
	}
	for _, fn := range configure {
		fn(c)
	}

	db := dbtest.Open(t)
	blobs, err := blob.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	urls := blob.NewResolver(c.MediaURL, c.SiteDomain, c.UseCDN)
	sites := cfg.NewSites("", c.SiteDomain)
	store := cache.New(cache.NewMemoryBackend(), c.SecretKey)
	limiter, err := ratelimit.NewMemoryLimiter(c.ThrottleAnon, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	sources := feed.NewSources(db, blobs, urls, feed.Options{
		BaseURL:        c.BaseURL(),
		SiteName:       "Example",
		Language:       c.LangCode,
		MaxReleases:    c.MaxReleases,
		AllowDownloads: c.AllowDownloads,
	})

	h := NewHandler(Deps{
		Config:   c,
		Sites:    sites,
		DB:       db,
		Blobs:    blobs,
		URLs:     urls,
		Cache:    store,
		Auth:     auth.NewService(db, c.SecretKey, time.Hour),
		Store:    reconcile.NewStore(db, blobs, sites, store),
		Pipeline: ingest.NewPipeline(db, blobs, store, c.MaxUploadSize),
		Feeds:    feed.NewService(sources, feed.NewGenerator(c.Version), store),
		Limiter:  limiter,
	})
	return &testServer{t: t, db: db, blobs: blobs, engine: NewServer(h)}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return s.do(req)
}

func (s *testServer) staff() *database.User {
	s.t.Helper()
	ctx := context.Background()
	users := database.NewUserRepository(s.db)
	u := &database.User{Username: "staff", IsStaff: true}
	if err := users.Create(ctx, u); err != nil {
		s.t.Fatal(err)
	}
	if err := users.CreateProfile(ctx, &database.UserProfile{UserID: u.ID}); err != nil {
		s.t.Fatal(err)
	}
	if err := users.SetAPIKey(ctx, u.ID, staffKey); err != nil {
		s.t.Fatal(err)
	}
	return u
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
}

func TestBookmarksFeedAuthentication(t *testing.T) {
	s := newTestServer(t)
	dbtest.User(t, s.db, "reader", feedToken)

	w := s.get("/user/bookmarks.atom")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != `Bearer realm="bookmarks feed"` {
		t.Errorf("Expected bookmarks realm, got %q", got)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Expected plain text body, got %q", w.Header().Get("Content-Type"))
	}

	w = s.get("/user/bookmarks.atom", "Authorization", "Invalid")
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for malformed header, got %d", w.Code)
	}
	if w.Body.String() != "header format is invalid" {
		t.Errorf("Expected malformed header message, got %q", w.Body.String())
	}

	w = s.get("/user/bookmarks.atom", "Authorization", "Bearer invalid")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for unknown token, got %d", w.Code)
	}

	w = s.get("/user/bookmarks.atom?token=" + feedToken)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 with valid token, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Vary"), "Authorization") {
		t.Errorf("Expected Vary to contain Authorization, got %q", w.Header().Get("Vary"))
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/atom+xml") {
		t.Errorf("Expected Atom content type, got %q", w.Header().Get("Content-Type"))
	}
	if w.Header().Get("Last-Modified") == "" {
		t.Error("Expected Last-Modified on bookmarks feed")
	}

	w = s.get("/user/bookmarks.rss", "Authorization", "Bearer "+feedToken)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with bearer token, got %d", w.Code)
	}
}

func TestRedirectFallback(t *testing.T) {
	s := newTestServer(t)
	b := dbtest.Series(t, s.db, "b", "B")
	dbtest.Chapter(t, s.db, b, nil, 1)
	err := database.NewRedirectRepository(s.db).Move(context.Background(), cfg.DefaultSiteID, "/reader/a/", "/reader/b/")
	if err != nil {
		t.Fatal(err)
	}

	w := s.get("/reader/a/")
	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("Expected 301, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/reader/b/" {
		t.Errorf("Expected Location /reader/b/, got %q", got)
	}

	w = s.get("/reader/a/1/1/")
	if got := w.Header().Get("Location"); w.Code != http.StatusMovedPermanently || got != "/reader/b/1/1/" {
		t.Errorf("Expected chapter redirect to /reader/b/1/1/, got %d %q", w.Code, got)
	}

	if w := s.get("/reader/b/"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for target series, got %d", w.Code)
	}
	if w := s.get("/reader/missing/"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without redirect, got %d", w.Code)
	}
}

func TestConditionalGet(t *testing.T) {
	s := newTestServer(t)
	series := dbtest.Series(t, s.db, "series", "Series")
	c := dbtest.Chapter(t, s.db, series, dbtest.Vol(1), 1)
	path := "/api/v2/chapters/" + strconv.FormatInt(c.ID, 10)

	w := s.get(path)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	modified := w.Header().Get("Last-Modified")
	if modified == "" {
		t.Fatal("Expected Last-Modified header")
	}

	w = s.get(path, "If-Modified-Since", modified)
	if w.Code != http.StatusNotModified {
		t.Errorf("Expected 304, got %d", w.Code)
	}

	var view ChapterView
	decode(t, s.get(path), &view)
	if view.URL != "/reader/series/1/1/" || view.Series != "series" {
		t.Errorf("Unexpected chapter view %+v", view)
	}
}

func TestScheduledChapters(t *testing.T) {
	s := newTestServer(t)
	s.staff()
	series := dbtest.Series(t, s.db, "series", "Series")
	future := &database.Chapter{SeriesID: series.ID, Number: 1, Published: time.Now().Add(24 * time.Hour)}
	if err := database.NewChapterRepository(s.db).Create(context.Background(), future); err != nil {
		t.Fatal(err)
	}
	path := "/api/v2/chapters/" + strconv.FormatInt(future.ID, 10)

	if w := s.get(path); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for scheduled chapter, got %d", w.Code)
	}
	if w := s.get(path, "X-API-Key", staffKey); w.Code != http.StatusOK {
		t.Errorf("Expected staff to see scheduled chapter, got %d", w.Code)
	}
	if w := s.get(path + "?api_key=" + staffKey); w.Code != http.StatusOK {
		t.Errorf("Expected api_key query to authenticate, got %d", w.Code)
	}

	if w := s.get("/reader/series/"); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for series without published chapters, got %d", w.Code)
	}
	if w := s.get("/reader/series/", "X-API-Key", staffKey); w.Code != http.StatusOK {
		t.Errorf("Expected staff to see unpublished series, got %d", w.Code)
	}
}

func TestInvalidAPIKey(t *testing.T) {
	s := newTestServer(t)
	w := s.get("/api/v2/series", "X-API-Key", "nope")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["status"] != float64(http.StatusUnauthorized) || body["error"] == "" {
		t.Errorf("Unexpected error body %v", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodDelete, "/api/v2/categories", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected 405, got %d", w.Code)
	}
	allow := w.Header().Get("Allow")
	if allow != "GET, HEAD, OPTIONS" {
		t.Errorf("Expected Allow %q, got %q", "GET, HEAD, OPTIONS", allow)
	}

	// Every method listed in Allow must succeed.
	for _, method := range strings.Split(allow, ", ") {
		w := s.do(httptest.NewRequest(method, "/api/v2/categories", nil))
		if w.Code >= 400 {
			t.Errorf("Expected %s to succeed, got %d", method, w.Code)
		}
	}
}

func TestHeadRequests(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/reader/", "/api/v2/series", "/feeds/library.atom", "/robots.txt"} {
		full := s.get(path)
		if full.Code != http.StatusOK {
			t.Fatalf("Expected GET %s to return 200, got %d", path, full.Code)
		}

		w := s.do(httptest.NewRequest(http.MethodHead, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected HEAD %s to return 200, got %d", path, w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("Expected HEAD %s to have no body, got %d bytes", path, w.Body.Len())
		}
		if w.Header().Get("Content-Type") != full.Header().Get("Content-Type") {
			t.Errorf("Expected HEAD %s Content-Type %q, got %q", path, full.Header().Get("Content-Type"), w.Header().Get("Content-Type"))
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodOptions, "/api/v2/series", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected wildcard origin, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("Access-Control-Allow-Methods") != "GET, HEAD, OPTIONS" {
		t.Errorf("Unexpected methods %q", w.Header().Get("Access-Control-Allow-Methods"))
	}
	if w.Header().Get("Access-Control-Allow-Headers") != "X-API-Key" {
		t.Errorf("Unexpected headers %q", w.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestTooEarly(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/login", strings.NewReader(`{}`))
	req.Header.Set("Early-Data", "1")
	if w := s.do(req); w.Code != http.StatusTooEarly {
		t.Errorf("Expected 425, got %d", w.Code)
	}

	if w := s.get("/api/v2/categories", "Early-Data", "1"); w.Code != http.StatusOK {
		t.Errorf("Expected safe request to pass, got %d", w.Code)
	}
}

func TestLegacyAPI(t *testing.T) {
	s := newTestServer(t)
	if w := s.get("/api/v1/categories"); w.Code != http.StatusGone {
		t.Errorf("Expected 410 when v1 is disabled, got %d", w.Code)
	}

	s = newTestServer(t, func(c *cfg.Cfg) { c.EnableV1API = true })
	w := s.get("/api/v1/categories")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 when v1 is enabled, got %d", w.Code)
	}
	if got := w.Header().Get("Warning"); got != `299 "Deprecated API"` {
		t.Errorf("Expected deprecation warning, got %q", got)
	}
}

func TestUnsupportedEndpoint(t *testing.T) {
	s := newTestServer(t)
	if w := s.get("/api/v2/unknown"); w.Code != http.StatusNotImplemented {
		t.Errorf("Expected 501, got %d", w.Code)
	}
}

func TestThrottle(t *testing.T) {
	s := newTestServer(t, func(c *cfg.Cfg) { c.ThrottleAnon = 2 })
	s.staff()

	for i := 0; i < 2; i++ {
		if w := s.get("/api/v2/categories"); w.Code != http.StatusOK {
			t.Fatalf("Expected request %d to pass, got %d", i+1, w.Code)
		}
	}
	w := s.get("/api/v2/categories")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	if w := s.get("/api/v2/categories", "X-API-Key", staffKey); w.Code != http.StatusOK {
		t.Errorf("Expected authenticated request to bypass throttling, got %d", w.Code)
	}
	if w := s.get("/robots.txt"); w.Code != http.StatusOK {
		t.Errorf("Expected robots.txt to bypass throttling, got %d", w.Code)
	}
}

func TestReaderRoutes(t *testing.T) {
	s := newTestServer(t)
	series := dbtest.Series(t, s.db, "series", "Series")
	dbtest.Chapter(t, s.db, series, nil, 0.5)

	w := s.get("/reader/series")
	if w.Code != http.StatusMovedPermanently || w.Header().Get("Location") != "/reader/series/" {
		t.Errorf("Expected trailing slash redirect, got %d %q", w.Code, w.Header().Get("Location"))
	}

	w = s.get("/reader/series/0/0.5/")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/reader/series/0/0.5/1/" {
		t.Errorf("Expected redirect to first page, got %d %q", w.Code, w.Header().Get("Location"))
	}

	if w := s.get("/reader/series/0/0.5.cbz"); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with downloads disabled, got %d", w.Code)
	}
	if w := s.get("/reader/series/x/1/"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid volume, got %d", w.Code)
	}

	var view SeriesView
	decode(t, s.get("/reader/series/"), &view)
	if len(view.Chapters) != 1 || view.Chapters[0].URL != "/reader/series/0/0.5/" {
		t.Errorf("Unexpected series view %+v", view)
	}
}

func TestErrorNegotiation(t *testing.T) {
	s := newTestServer(t)

	w := s.get("/reader/missing/", "Accept", "text/html")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Expected HTML 404, got %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "404") {
		t.Errorf("Expected status in error page, got %q", w.Body.String())
	}

	w = s.get("/api/v2/series/missing")
	var body map[string]any
	decode(t, w, &body)
	if w.Code != http.StatusNotFound || body["status"] != float64(http.StatusNotFound) {
		t.Errorf("Expected JSON 404, got %d %v", w.Code, body)
	}
}

func chapterArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, name := range []string{"10.png", "2.png"} {
		var img bytes.Buffer
		if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 4+i, 6))); err != nil {
			t.Fatal(err)
		}
		f, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write(img.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, path string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "chapter.zip")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", staffKey)
	return req
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 3))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImageUploads(t *testing.T) {
	s := newTestServer(t)
	user := s.staff()
	ctx := context.Background()

	group := &database.Group{Name: "Scans"}
	if err := database.NewGroupRepository(s.db).Create(ctx, group); err != nil {
		t.Fatal(err)
	}
	groupID := strconv.FormatInt(group.ID, 10)

	w := s.do(uploadRequest(t, "/api/v2/groups/"+groupID+"/logo", pngImage(t)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected logo upload to return 200, got %d: %s", w.Code, w.Body.String())
	}
	var groupView GroupView
	decode(t, w, &groupView)
	logo := blob.GroupLogoPath(group.ID, ".png")
	if !strings.HasSuffix(groupView.Logo, logo) {
		t.Errorf("Expected logo URL ending in %s, got %q", logo, groupView.Logo)
	}
	if _, err := s.blobs.Stat(ctx, logo); err != nil {
		t.Errorf("Expected logo blob at %s, got %v", logo, err)
	}

	decode(t, s.get("/api/v2/groups/"+groupID), &groupView)
	if !strings.HasSuffix(groupView.Logo, logo) {
		t.Errorf("Expected cached group view to carry the logo, got %q", groupView.Logo)
	}

	w = s.do(uploadRequest(t, "/api/v2/profile/avatar", pngImage(t)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected avatar upload to return 200, got %d: %s", w.Code, w.Body.String())
	}
	profile, err := database.NewUserRepository(s.db).Profile(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	avatar := blob.AvatarPath(profile.ID, ".png")
	if profile.Avatar != avatar {
		t.Errorf("Expected stored avatar %s, got %s", avatar, profile.Avatar)
	}
	var profileView ProfileView
	decode(t, w, &profileView)
	if !strings.HasSuffix(profileView.Avatar, avatar) {
		t.Errorf("Expected avatar URL ending in %s, got %q", avatar, profileView.Avatar)
	}

	w = s.do(uploadRequest(t, "/api/v2/profile/avatar", []byte("not an image")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a non-image avatar, got %d", w.Code)
	}
}

func TestUploadChapter(t *testing.T) {
	s := newTestServer(t, func(c *cfg.Cfg) { c.AllowDownloads = true })
	s.staff()
	series := dbtest.Series(t, s.db, "series", "Series")
	c := dbtest.Chapter(t, s.db, series, nil, 1)
	path := "/api/v2/chapters/" + strconv.FormatInt(c.ID, 10) + "/upload"

	anon := uploadRequest(t, path, chapterArchive(t))
	anon.Header.Del("X-API-Key")
	if w := s.do(anon); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for anonymous upload, got %d", w.Code)
	}

	w := s.do(uploadRequest(t, path, chapterArchive(t)))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var pages []PageView
	decode(t, w, &pages)
	if len(pages) != 2 || pages[0].Number != 1 || pages[1].Number != 2 {
		t.Fatalf("Expected pages 1 and 2, got %+v", pages)
	}
	if !strings.HasPrefix(pages[0].Image, "/media/series/series/0/1/") {
		t.Errorf("Unexpected page URL %q", pages[0].Image)
	}

	var chapter ChapterView
	decode(t, s.get("/api/v2/chapters/"+strconv.FormatInt(c.ID, 10), "X-API-Key", staffKey), &chapter)
	if chapter.Cover != pages[0].Image {
		t.Errorf("Expected chapter cover %q, got %q", pages[0].Image, chapter.Cover)
	}

	w = s.get("/reader/series/0/1.cbz")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected archive download, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/vnd.comicbook+zip" {
		t.Errorf("Unexpected content type %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "series_v0_c1.cbz") {
		t.Errorf("Unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}

	w = s.do(uploadRequest(t, path, []byte("not a zip")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid archive, got %d", w.Code)
	}
}

func TestUploadTooLarge(t *testing.T) {
	archive := chapterArchive(t)
	s := newTestServer(t, func(c *cfg.Cfg) { c.MaxUploadSize = int64(len(archive)) })
	s.staff()
	series := dbtest.Series(t, s.db, "series", "Series")
	c := dbtest.Chapter(t, s.db, series, nil, 1)

	w := s.do(uploadRequest(t, "/api/v2/chapters/"+strconv.FormatInt(c.ID, 10)+"/upload", archive))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["code"] != "file_too_large" {
		t.Errorf("Expected file_too_large code, got %v", body["code"])
	}
}

func TestSeriesRenameThroughAPI(t *testing.T) {
	s := newTestServer(t)
	s.staff()
	series := dbtest.Series(t, s.db, "old-slug", "Series")
	dbtest.Chapter(t, s.db, series, nil, 1)

	req := httptest.NewRequest(http.MethodPatch, "/api/v2/series/old-slug",
		strings.NewReader(`{"slug":"new-slug","categories":["Adventure"]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", staffKey)
	w := s.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var view SeriesView
	decode(t, w, &view)
	if view.Slug != "new-slug" || len(view.Categories) != 1 || view.Categories[0] != "adventure" {
		t.Errorf("Unexpected series after rename %+v", view)
	}

	w = s.get("/reader/old-slug/")
	if w.Code != http.StatusMovedPermanently || w.Header().Get("Location") != "/reader/new-slug/" {
		t.Errorf("Expected redirect to new slug, got %d %q", w.Code, w.Header().Get("Location"))
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/v2/series/new-slug",
		strings.NewReader(`{"slug":"third-slug","authors":[999]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", staffKey)
	if w := s.do(req); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown author, got %d: %s", w.Code, w.Body.String())
	}
	if w := s.get("/api/v2/series/new-slug"); w.Code != http.StatusOK {
		t.Errorf("Expected the failed update to keep new-slug, got %d", w.Code)
	}
	if w := s.get("/reader/third-slug/"); w.Code != http.StatusNotFound {
		t.Errorf("Expected no series at third-slug, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/v2/series/new-slug", strings.NewReader(`{"slug":"bad slug"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", staffKey)
	if w := s.do(req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid slug, got %d", w.Code)
	}
}

func TestBookmarksAPI(t *testing.T) {
	s := newTestServer(t)
	s.staff()
	dbtest.Series(t, s.db, "series", "Series")

	add := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v2/bookmarks", strings.NewReader(`{"series":"series"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", staffKey)
		return s.do(req).Code
	}
	if code := add(); code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	if code := add(); code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate bookmark, got %d", code)
	}

	var list []SeriesView
	decode(t, s.get("/api/v2/bookmarks", "X-API-Key", staffKey), &list)
	if len(list) != 1 || list[0].Slug != "series" {
		t.Errorf("Expected bookmarked series, got %+v", list)
	}

	if w := s.get("/api/v2/bookmarks"); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", w.Code)
	}
}

func TestLoginSession(t *testing.T) {
	s := newTestServer(t)
	svc := auth.NewService(s.db, "secret", time.Hour)
	if err := svc.CreateUser(context.Background(), &database.User{Username: "reader"}, "hunter2"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v2/login", strings.NewReader(`{"username":"reader","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := s.do(req); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong password, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v2/login", strings.NewReader(`{"username":"reader","password":"hunter2"}`))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			session = c
		}
	}
	if session == nil {
		t.Fatal("Expected session cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v2/profile", nil)
	req.AddCookie(session)
	w = s.do(req)
	var profile ProfileView
	decode(t, w, &profile)
	if w.Code != http.StatusOK || profile.Username != "reader" {
		t.Errorf("Expected profile of reader, got %d %+v", w.Code, profile)
	}
}

func TestFeedRoutes(t *testing.T) {
	s := newTestServer(t)
	series := dbtest.Series(t, s.db, "series", "Series")
	dbtest.Chapter(t, s.db, series, nil, 1)

	for _, path := range []string{
		"/feeds/library.atom",
		"/feeds/releases.rss",
		"/feeds/releases/series.atom",
	} {
		w := s.get(path)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
			continue
		}
		if w.Header().Get("Last-Modified") == "" {
			t.Errorf("%s: expected Last-Modified", path)
		}
		if w := s.get(path, "If-Modified-Since", w.Header().Get("Last-Modified")); w.Code != http.StatusNotModified {
			t.Errorf("%s: expected 304, got %d", path, w.Code)
		}
	}

	if w := s.get("/feeds/releases.json"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown format, got %d", w.Code)
	}
	if w := s.get("/feeds/groups/99.atom"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown group, got %d", w.Code)
	}
}

func TestOpenAPI(t *testing.T) {
	s := newTestServer(t)
	var doc struct {
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Paths map[string]map[string]any `json:"paths"`
	}
	decode(t, s.get("/api/v2/openapi.json"), &doc)
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://example.com/api/v2" {
		t.Errorf("Unexpected servers %+v", doc.Servers)
	}
	if _, ok := doc.Paths["/chapters/{id}"]["patch"]; !ok {
		t.Errorf("Expected PATCH /chapters/{id} in schema")
	}

	w := s.get("/swagger")
	if w.Code != http.StatusMovedPermanently || !strings.Contains(w.Header().Get("Location"), "openapi.json") {
		t.Errorf("Expected swagger redirect, got %d %q", w.Code, w.Header().Get("Location"))
	}
}
