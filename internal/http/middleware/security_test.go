package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securedEngine(opt SecurityOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/api/v1/users/:id", ok)
	r.GET("/api/v1/requests", ok)
	r.GET("/api/v1/requests/:id", ok)
	r.GET("/api/v1/usersettings", ok)
	r.GET("/health", ok)
	r.GET("/override", func(c *gin.Context) {
		c.Header("Cache-Control", "private, max-age=30")
		c.Status(http.StatusOK)
	})
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := securedEngine(SecurityOptions{})
	w := hit(r, http.MethodGet, "/health")

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" || h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %v", h)
	}
	for _, k := range []string{"Permissions-Policy", "X-Permitted-Cross-Domain-Policies", "Cache-Control", "Strict-Transport-Security"} {
		if h.Get(k) != "" {
			t.Fatalf("%s should be absent, got %q", k, h.Get(k))
		}
	}

	r = securedEngine(SecurityOptions{EnablePolicy: true})
	w = hit(r, http.MethodGet, "/health")
	if w.Header().Get("Permissions-Policy") == "" || w.Header().Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("policy headers missing: %v", w.Header())
	}
}

func TestSecurityHeaders_CachePolicyByPrefix(t *testing.T) {
	r := securedEngine(SecurityOptions{
		NoStorePrefixes:    []string{"/api/v1/users"},
		RevalidatePrefixes: []string{"/api/v1/requests/", "/override"},
	})

	cases := []struct {
		path, want string
	}{
		{"/api/v1/users/7", "no-store"},
		{"/api/v1/requests", "no-cache"},
		{"/api/v1/requests/3", "no-cache"},
		{"/api/v1/usersettings", ""},
		{"/health", ""},
		{"/override", "private, max-age=30"},
	}
	for _, tc := range cases {
		w := hit(r, http.MethodGet, tc.path)
		if got := w.Header().Get("Cache-Control"); got != tc.want {
			t.Fatalf("%s: Cache-Control = %q, want %q", tc.path, got, tc.want)
		}
	}
	if w := hit(r, http.MethodGet, "/api/v1/users/7"); w.Header().Get("Pragma") != "no-cache" {
		t.Fatalf("no-store responses should carry Pragma")
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	r := securedEngine(SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour})

	if w := hit(r, http.MethodGet, "/health"); w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("plain HTTP must not get HSTS")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains; preload" {
		t.Fatalf("HSTS over TLS = %q", got)
	}

	r = securedEngine(SecurityOptions{EnableHSTS: true})
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains; preload" {
		t.Fatalf("HSTS behind proxy with default age = %q", got)
	}
}

func TestUnderAny(t *testing.T) {
	prefixes := []string{"/api/v1/users/", "", "/"}
	if !underAny("/api/v1/users", prefixes) || !underAny("/api/v1/users/1/picture", prefixes) {
		t.Fatalf("expected match")
	}
	if underAny("/api/v1/usersx", prefixes) || underAny("/health", prefixes) {
		t.Fatalf("unexpected match")
	}
}
