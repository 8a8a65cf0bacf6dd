// Package middleware holds the Gin middleware shared by the HTTP layer.
//
// This file covers request correlation:
//
//   - RequestID assigns or propagates X-Request-ID.
//   - Recovery turns panics into the JSON failure envelope.
//   - LoggerFrom hands handlers the request-scoped zerolog logger that
//     RedactingLogger attaches, enriched with the caller id once Identity
//     has run.
//
// Install order: RequestID, RedactingLogger, Recovery, Identity.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxRequestIDLen bounds a caller-supplied correlation id.
	maxRequestIDLen = 64
	// maxQueryLogLength caps the bytes of raw query logged per request.
	maxQueryLogLength = 2048
	// unmatchedRoute labels requests no route matched.
	unmatchedRoute = "unmatched"
)

// RequestID reuses an incoming X-Request-ID when it is at most 64 bytes of
// [A-Za-z0-9._-]; anything else is replaced by a fresh UUID. The id is
// echoed on the response and stored in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch b := s[i]; {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		case b == '-', b == '_', b == '.':
		default:
			return false
		}
	}
	return true
}

// RequestIDFrom returns the correlation id assigned by RequestID, or the
// response header value when the middleware did not run.
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// Recovery logs a panic with its stack on the request logger and answers
// 500 internal_error. When the handler had already started the response,
// the request is only aborted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			AbortError(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger. Without RedactingLogger it
// falls back to the global logger tagged with the request id. The caller id
// is added whenever Identity accepted one.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	var base zerolog.Logger
	if lg, ok := c.Value(loggerKey).(*zerolog.Logger); ok && lg != nil {
		base = *lg
	} else {
		base = log.With().Str("request_id", RequestIDFrom(c)).Logger()
	}
	if uid, ok := UserID(c); ok {
		base = base.With().Int64("user_id", uid).Logger()
	}
	return &base
}

// routeOf is the registered route template, which keeps log fields and
// metric labels bounded.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
