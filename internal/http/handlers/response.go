// Package handlers provides HTTP handler implementations for the public API.
//
// Every error leaves through fail (or Fail, for the router fallbacks) so the
// body is always an ErrorResponse with a stable code:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "no status for did:plc:abc"
//	}
//
// Messages are safe to show to users. Internal causes never reach the body;
// failErr records them on the Gin context and the request log instead.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-statusphere/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// RequestID echoes X-Request-ID to correlate client reports with logs.
	RequestID string `json:"request_id,omitempty"`
	// Code is one of the ErrCode constants.
	Code string `json:"code"`
	// Message is human readable.
	Message string `json:"message"`
}

// fail aborts with an ErrorResponse. Server errors are also logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// failErr is fail for an internal cause. err is attached to the Gin context,
// so the access log reports it at error level, and kept out of the body.
func failErr(c *gin.Context, status int, code, msg string, err error) {
	_ = c.Error(err)
	fail(c, status, code, msg)
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON with status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
