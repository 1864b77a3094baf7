package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/manga-reader/app/auth"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/ingest"
	"github.com/lysyi3m/manga-reader/app/reconcile"
	"github.com/lysyi3m/manga-reader/app/search"
)

// APIError is an error with the HTTP status it is reported as.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

func BadRequest(msg string) *APIError   { return &APIError{Status: http.StatusBadRequest, Message: msg} }
func Unauthorized(msg string) *APIError { return &APIError{Status: http.StatusUnauthorized, Message: msg} }
func Forbidden(msg string) *APIError    { return &APIError{Status: http.StatusForbidden, Message: msg} }
func NotFound(msg string) *APIError     { return &APIError{Status: http.StatusNotFound, Message: msg} }
func Conflict(msg string) *APIError     { return &APIError{Status: http.StatusConflict, Message: msg} }
func Gone(msg string) *APIError         { return &APIError{Status: http.StatusGone, Message: msg} }
func TooEarly() *APIError               { return &APIError{Status: http.StatusTooEarly, Message: "Too early"} }
func Unsupported() *APIError {
	return &APIError{Status: http.StatusNotImplemented, Message: "Unsupported API endpoint"}
}

// toAPIError maps domain errors onto the HTTP taxonomy.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var ingestErr *ingest.Error
	if errors.As(err, &ingestErr) {
		status := http.StatusBadRequest
		switch ingestErr.Code {
		case ingest.CodeFileTooLarge:
			status = http.StatusRequestEntityTooLarge
		case ingest.CodeInProgress:
			status = http.StatusServiceUnavailable
		case ingest.CodeExpiredUpload:
			status = http.StatusNotFound
		}
		return &APIError{Status: status, Message: ingestErr.Message, Code: string(ingestErr.Code)}
	}

	var paramErr *search.ParamError
	if errors.As(err, &paramErr) {
		return BadRequest(paramErr.Error())
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		return NotFound("Not found")
	case errors.Is(err, database.ErrConflict):
		return Conflict("Conflict")
	case errors.Is(err, reconcile.ErrInvalidSlug), errors.Is(err, reconcile.ErrSeriesMove):
		return BadRequest(err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return Unauthorized("Invalid credentials")
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Status: http.StatusGatewayTimeout, Message: "Request timed out"}
	case errors.Is(err, context.Canceled):
		return &APIError{Status: 499, Message: "Client closed request"}
	}

	return &APIError{Status: http.StatusInternalServerError, Message: "Internal server error"}
}

func isAPIPath(p string) bool {
	return strings.HasPrefix(p, "/api/")
}

// fail reports err to the client. Missing pages on GET requests first try
// the redirect table.
func (h *Handler) fail(c *gin.Context, err error) {
	apiErr := toAPIError(err)

	if apiErr.Status == http.StatusNotFound && (c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead) {
		if h.redirect(c) {
			return
		}
	}

	if apiErr.Status >= http.StatusInternalServerError && apiErr.Status != http.StatusServiceUnavailable {
		slog.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	} else {
		slog.Debug("Request rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "status", apiErr.Status, "error", err)
	}

	if apiErr.Status == http.StatusUnauthorized && c.Writer.Header().Get("WWW-Authenticate") == "" {
		c.Header("WWW-Authenticate", `X-API-Key realm="api"`)
	}

	render(c, apiErr)
}

// render writes the error as JSON for API paths and clients that prefer
// it, and as the HTML error page otherwise.
func render(c *gin.Context, apiErr *APIError) {
	if isAPIPath(c.Request.URL.Path) {
		c.AbortWithStatusJSON(apiErr.Status, errorBody(apiErr))
		return
	}

	c.Abort()
	c.Negotiate(apiErr.Status, gin.Negotiate{
		Offered:  []string{gin.MIMEHTML, gin.MIMEJSON},
		HTMLName: "error.html",
		HTMLData: gin.H{"error_message": apiErr.Message, "error_status": apiErr.Status},
		JSONData: errorBody(apiErr),
	})
}

func errorBody(apiErr *APIError) gin.H {
	body := gin.H{"error": apiErr.Message, "status": apiErr.Status}
	if apiErr.Code != "" {
		body["code"] = apiErr.Code
	}
	return body
}
