package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lysyi3m/manga-reader/app/auth"
	"github.com/lysyi3m/manga-reader/app/database"
)

const (
	userKey      = "user"
	requestIDKey = "request_id"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// cors allows read access from any origin. Preflight requests end here,
// before authentication.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "X-API-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// tooEarly rejects replayable TLS early data on unsafe requests.
func tooEarly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Early-Data") == "1" && !safeMethod(c.Request.Method) {
			render(c, TooEarly())
			return
		}
		c.Next()
	}
}

// authenticate resolves the caller from the session cookie, the X-API-Key
// header or the api_key query parameter.
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		creds := auth.Credentials{APIKey: c.GetHeader("X-API-Key")}
		if creds.APIKey == "" {
			creds.APIKey = c.Query("api_key")
		}
		if cookie, err := c.Cookie(auth.SessionCookie); err == nil {
			creds.Session = cookie
		}

		if creds.Empty() {
			c.Next()
			return
		}

		user, err := h.Auth.Authenticate(c.Request.Context(), creds)
		if err != nil {
			h.fail(c, err)
			return
		}
		if user != nil {
			c.Set(userKey, user)
		}
		c.Next()
	}
}

// throttle limits anonymous clients per IP address.
func (h *Handler) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Limiter == nil || currentUser(c) != nil {
			c.Next()
			return
		}

		decision := h.Limiter.Allow(c.Request.Context(), c.ClientIP())
		if !decision.Allowed {
			seconds := int(decision.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			render(c, &APIError{Status: http.StatusTooManyRequests, Message: "Too many requests"})
			return
		}
		c.Next()
	}
}

// deadline bounds every request: reads by GetTimeout, writes by UploadTimeout.
func (h *Handler) deadline() gin.HandlerFunc {
	return func(c *gin.Context) {
		timeout := h.Config.GetTimeout
		if !safeMethod(c.Request.Method) {
			timeout = h.Config.UploadTimeout
		}
		if timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// legacy gates the v1 API on the config flag.
func (h *Handler) legacy() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.Config.EnableV1API {
			render(c, Gone("The v1 API has been removed"))
			return
		}
		c.Header("Warning", `299 "Deprecated API"`)
		c.Next()
	}
}

func isLegacyPath(p string) bool {
	return p == "/api/v1" || strings.HasPrefix(p, "/api/v1/")
}

func (h *Handler) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) == nil {
			h.fail(c, Unauthorized("Authentication required"))
			return
		}
		c.Next()
	}
}

func (h *Handler) requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			h.fail(c, Unauthorized("Authentication required"))
			return
		}
		if !user.IsStaff && !user.IsSuperuser {
			h.fail(c, Forbidden("Staff only"))
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *database.User {
	if v, ok := c.Get(userKey); ok {
		if user, ok := v.(*database.User); ok {
			return user
		}
	}
	return nil
}

// isStaff reports whether the caller sees unpublished content everywhere.
func isStaff(user *database.User) bool {
	return user != nil && (user.IsStaff || user.IsSuperuser)
}

// allowedMethods lists the methods registered for routes matching p.
type headWriter struct {
	gin.ResponseWriter
}

func (w headWriter) Write(b []byte) (int, error) {
	w.WriteHeaderNow()
	return len(b), nil
}

func (w headWriter) WriteString(s string) (int, error) {
	w.WriteHeaderNow()
	return len(s), nil
}

// headBody answers HEAD requests with the GET headers and no body.
func headBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead {
			c.Writer = headWriter{c.Writer}
		}
		c.Next()
	}
}

func allowedMethods(routes gin.RoutesInfo, p string) []string {
	seen := map[string]bool{}
	for _, route := range routes {
		if matchRoute(route.Path, p) {
			seen[route.Method] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	seen[http.MethodOptions] = true
	methods := make([]string, 0, len(seen))
	for m := range seen {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

func joinMethods(methods []string) string {
	return strings.Join(methods, ", ")
}

func matchRoute(pattern, p string) bool {
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(p, "/"), "/")
	for i, seg := range want {
		if strings.HasPrefix(seg, "*") {
			return true
		}
		if i >= len(got) {
			return false
		}
		if !strings.HasPrefix(seg, ":") && seg != got[i] {
			return false
		}
	}
	return len(want) == len(got)
}
