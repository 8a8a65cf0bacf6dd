// Package middleware holds the Gin middleware shared by the HTTP layer.
//
// RedactingLogger is the access log. It never logs bodies, and it scrubs
// push tokens, UUIDs, emails and phone numbers from the query string and
// header values before they reach the log sink.
package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions tunes RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are replaced wholesale with "[REDACTED]" on top of
	// Authorization, Cookie and Set-Cookie. Matching is case-insensitive.
	MaskHeaders []string
	// SkipPaths suppress the access line for probes such as /health and
	// /metrics. The request-scoped logger is still attached.
	SkipPaths []string
}

// Applied in order. UUIDs go before phone numbers so the loose phone
// pattern cannot eat the digit runs of an id.
var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`Expo(?:nent)?PushToken\[[^\]]*\]`), "[REDACTED:push_token]"},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

func redact(s string) string {
	if s == "" {
		return s
	}
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}

func lowerSet(base []string, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(extra))
	for _, h := range append(append([]string{}, base...), extra...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			out[h] = struct{}{}
		}
	}
	return out
}

func scrubHeaders(h http.Header, masked map[string]struct{}) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := masked[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redact(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger attaches a request-scoped logger (request id, method and
// route) for LoggerFrom, then writes one "http_request" line per request at
// info, warn for 4xx, or error for 5xx and Gin errors.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := lowerSet([]string{"Authorization", "Cookie", "Set-Cookie"}, opts.MaskHeaders)
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		scoped := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("route", routeOf(c)).
			Logger()
		c.Set(loggerKey, &scoped)

		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		query := truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)
		headers := scrubHeaders(c.Request.Header, masked)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			ev = scoped.Error()
		case status >= http.StatusBadRequest:
			ev = scoped.Warn()
		default:
			ev = scoped.Info()
		}
		if uid, ok := UserID(c); ok {
			ev = ev.Int64("user_id", uid)
		}
		if IsReplay(c) {
			ev = ev.Bool("idempotent_replay", true)
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Str("path", redact(c.Request.URL.Path)).
			Str("query", query).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
