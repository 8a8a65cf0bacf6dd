// Package middleware holds the Gin middleware shared by the HTTP layer.
//
// SecurityHeaders applies the response hardening and cache policy of the
// JSON API: baseline browser headers on every response, opt-in HSTS for
// HTTPS traffic, and a Cache-Control directive chosen by path prefix.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests only.
	EnableHSTS bool
	HSTSMaxAge time.Duration // <= 0 means 180 days

	// NoStorePrefixes get Cache-Control: no-store. User profiles, push
	// tokens and broadcasts live here.
	NoStorePrefixes []string
	// RevalidatePrefixes get Cache-Control: no-cache, so clients keep the
	// body but must revalidate it with If-None-Match.
	RevalidatePrefixes []string

	// EnablePolicy adds Permissions-Policy and X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
}

// SecurityHeaders returns the hardening middleware. The cache directive is
// set before the handler runs, so a handler may still override it.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		path := c.Request.URL.Path
		switch {
		case underAny(path, opt.NoStorePrefixes):
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
		case underAny(path, opt.RevalidatePrefixes):
			h.Set("Cache-Control", "no-cache")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

// underAny reports whether path is one of prefixes or below one of them on
// a segment boundary, so /users does not cover /usersettings.
func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimRight(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// isHTTPS covers direct TLS and TLS terminated at a proxy that sets
// X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
