package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/config"
	"github.com/tbourn/go-prayer-backend/internal/domain"
	"github.com/tbourn/go-prayer-backend/internal/http/handlers"
	"github.com/tbourn/go-prayer-backend/internal/http/middleware"
	"github.com/tbourn/go-prayer-backend/internal/repo"
	"github.com/tbourn/go-prayer-backend/internal/services"
)

func newRouterDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(db) })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      10,
		RateWriteRPS:   100,
		RateWriteBurst: 10,
		OTEL:           config.OTELConfig{ServiceName: "prayer-test"},
	}
}

func newRouter(cfg config.Config, deps Deps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, cfg, deps)
	return r
}

// serve sends one request; headers are given as name, value pairs.
func serve(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_OperationalEndpoints(t *testing.T) {
	r := newRouter(baseConfig(), Deps{})

	cases := []struct {
		method, path string
		code         int
		errCode      string
	}{
		{http.MethodGet, "/health", http.StatusOK, ""},
		{http.MethodGet, "/metrics", http.StatusOK, ""},
		{http.MethodGet, "/nope", http.StatusNotFound, "not_found"},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed, "method_not_allowed"},
		{http.MethodGet, "/api/v1/requests", http.StatusServiceUnavailable, "not_configured"},
		{http.MethodGet, "/swagger/index.html", http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		w := serve(r, tc.method, tc.path, "")
		if w.Code != tc.code {
			t.Fatalf("%s %s = %d, want %d", tc.method, tc.path, w.Code, tc.code)
		}
		if w.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s %s: no request id", tc.method, tc.path)
		}
		if tc.errCode == "" {
			continue
		}
		var env map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		if env["error"] != float64(1) || env["code"] != tc.errCode {
			t.Fatalf("%s %s: envelope %v", tc.method, tc.path, env)
		}
	}

	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	if w := serve(newRouter(cfg, Deps{}), http.MethodGet, "/swagger/index.html", ""); w.Code != http.StatusOK {
		t.Fatalf("swagger enabled: %d", w.Code)
	}
}

func TestRegisterRoutes_CORS(t *testing.T) {
	t.Run("any origin", func(t *testing.T) {
		r := newRouter(baseConfig(), Deps{})
		w := serve(r, http.MethodGet, "/health", "", "Origin", "https://app.example.org")
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("ACAO = %q", got)
		}
	})
	t.Run("allowlist", func(t *testing.T) {
		cfg := baseConfig()
		cfg.APIBasePath = "/api/v2"
		cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://app.example.org"}}
		r := newRouter(cfg, Deps{})

		w := serve(r, http.MethodGet, "/health", "", "Origin", "https://app.example.org")
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.org" {
			t.Fatalf("ACAO = %q", got)
		}
		if w := serve(r, http.MethodGet, "/health", "", "Origin", "https://evil.example"); w.Code != http.StatusForbidden {
			t.Fatalf("foreign origin = %d", w.Code)
		}

		w = serve(r, http.MethodOptions, "/api/v2/requests", "",
			"Origin", "https://app.example.org",
			"Access-Control-Request-Method", "POST",
			"Access-Control-Request-Headers", "X-User-ID, Idempotency-Key",
		)
		allow := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers"))
		if !strings.Contains(allow, "x-user-id") || !strings.Contains(allow, "idempotency-key") {
			t.Fatalf("preflight allow headers = %q", allow)
		}
	})
}

func TestRegisterRoutes_BadUserIDHeader(t *testing.T) {
	r := newRouter(baseConfig(), Deps{})
	w := serve(r, http.MethodGet, "/api/v1/requests", "", middleware.HeaderUserID, "abc")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad X-User-ID = %d", w.Code)
	}
	var env map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	if env["code"] != "bad_user_id" || env["request_id"] != w.Header().Get("X-Request-ID") {
		t.Fatalf("envelope: %v", env)
	}
}

func TestRegisterRoutes_HSTSOverTLS(t *testing.T) {
	cfg := baseConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	r := newRouter(cfg, Deps{})

	if w := serve(r, http.MethodGet, "/health", ""); w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS over plain http")
	}
	w := serve(r, http.MethodGet, "/health", "", "X-Forwarded-Proto", "https")
	if got := w.Header().Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=3600") {
		t.Fatalf("HSTS = %q", got)
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10, 20))
	r.POST("/upload", func(c *gin.Context) {
		var tooBig *http.MaxBytesError
		if _, err := io.ReadAll(c.Request.Body); errors.As(err, &tooBig) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		contentType string
		size        int
		code        int
	}{
		{"application/json", 10, http.StatusNoContent},
		{"application/json", 11, http.StatusRequestEntityTooLarge},
		{"multipart/form-data; boundary=x", 11, http.StatusNoContent},
		{"multipart/form-data; boundary=x", 21, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		w := serve(r, http.MethodPost, "/upload", strings.Repeat("x", tc.size), "Content-Type", tc.contentType)
		if w.Code != tc.code {
			t.Fatalf("%s %d bytes: %d, want %d", tc.contentType, tc.size, w.Code, tc.code)
		}
	}
}

func TestGroupWithPrefixAndJoinPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.FullPath()) })
	groupWithPrefix(r, "/api/v1").GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.FullPath()) })

	for _, path := range []string{"/x", "/api/v1/x"} {
		if w := serve(r, http.MethodGet, path, ""); w.Code != http.StatusOK || w.Body.String() != path {
			t.Fatalf("GET %s = %d %q", path, w.Code, w.Body.String())
		}
	}

	for prefix, want := range map[string]string{
		"":         "/requests",
		"/":        "/requests",
		"/api/v1":  "/api/v1/requests",
		"/api/v1/": "/api/v1/requests",
	} {
		if got := joinPath(prefix, "/requests"); got != want {
			t.Fatalf("joinPath(%q) = %q, want %q", prefix, got, want)
		}
	}
}

func TestLedgerScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Identity())

	var got string
	scope := ledgerScope("/api/v1/requests")
	capture := func(c *gin.Context) { got = scope(c); c.Status(http.StatusOK) }
	r.POST("/api/v1/requests", capture)
	r.POST("/api/v1/requests/:id/pray", capture)

	send := func(path, uid string) string {
		got = "unset"
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if uid != "" {
			req.Header.Set(middleware.HeaderUserID, uid)
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
		return got
	}

	if s := send("/api/v1/requests", "7"); s != services.CreateRequestScope(7) {
		t.Fatalf("create scope = %q", s)
	}
	if s := send("/api/v1/requests", ""); s != "" {
		t.Fatalf("anonymous create scope = %q", s)
	}
	if s := send("/api/v1/requests/3/pray", "7"); s != "" {
		t.Fatalf("pray scope = %q", s)
	}
}

// The full stack with the DB guard: a retried create is flagged as a replay
// by the middleware and still rejected by the guard.
func TestRegisterRoutes_CreateRequestReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newRouterDB(t)

	guard := services.NewDBGuard(db, time.Hour)
	users := &services.UserService{DB: db}
	reqs := &services.RequestService{DB: db, Guard: guard}
	prayers := &services.PrayerService{DB: db}

	var replayed []bool
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Next()
		replayed = append(replayed, middleware.IsReplay(c))
	})
	RegisterRoutes(r, baseConfig(), Deps{
		Handlers: handlers.New(users, reqs, prayers, nil),
		Ledger:   guard,
	})

	do := func(method, path, uid, key, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if uid != "" {
			req.Header.Set(middleware.HeaderUserID, uid)
		}
		if key != "" {
			req.Header.Set(middleware.HeaderIdempotencyKey, key)
		}
		r.ServeHTTP(w, req)
		return w
	}

	if w := do(http.MethodPost, "/api/v1/users", "", "", `{"user_name":"anna"}`); w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}

	body := `{"title":"Exams","text":"Pray for calm"}`
	if w := do(http.MethodPost, "/api/v1/requests", "1", "k-1", body); w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	w := do(http.MethodPost, "/api/v1/requests", "1", "k-1", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("retry: %d %s", w.Code, w.Body.String())
	}
	if n := len(replayed); n < 2 || replayed[n-2] || !replayed[n-1] {
		t.Fatalf("replay flags = %v", replayed)
	}

	if w := do(http.MethodPost, "/api/v1/requests", "1", "bad key!", body); w.Code != http.StatusBadRequest {
		t.Fatalf("bad key: %d", w.Code)
	}

	var count int64
	if err := db.Model(&domain.PrayerRequest{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one request row, got %d", count)
	}

	if w := do(http.MethodPost, "/api/v1/requests/1/pray", "1", "", ""); w.Code != http.StatusOK {
		t.Fatalf("pray: %d %s", w.Code, w.Body.String())
	}
	if w := do(http.MethodPost, "/api/v1/requests/1/pray", "1", "", ""); w.Code != http.StatusConflict {
		t.Fatalf("pray twice: %d", w.Code)
	}
}

func TestRegisterRoutes_CachePolicy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, baseConfig(), Deps{})

	for path, want := range map[string]string{
		"/api/v1/users/1":    "no-store",
		"/api/v1/requests":   "no-cache",
		"/api/v1/requests/4": "no-cache",
		"/health":            "",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if got := w.Header().Get("Cache-Control"); got != want {
			t.Fatalf("%s: Cache-Control = %q, want %q", path, got, want)
		}
	}
}
