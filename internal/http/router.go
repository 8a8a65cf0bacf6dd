// Package httpapi assembles the Gin engine: the middleware chain, the
// operational endpoints (/health, /metrics, /swagger) and the versioned
// prayer API.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-prayer-backend/internal/config"
	"github.com/tbourn/go-prayer-backend/internal/http/handlers"
	"github.com/tbourn/go-prayer-backend/internal/http/middleware"
	"github.com/tbourn/go-prayer-backend/internal/services"
	"github.com/tbourn/go-prayer-backend/internal/storage"
)

const (
	jsonBodyLimit      = 1 << 20
	multipartBodyLimit = storage.MaxImageBytes + 1<<20
)

// KeyLedger answers whether an idempotency key is currently held.
// services.DBGuard and services.RedisGuard implement it.
type KeyLedger interface {
	Seen(ctx context.Context, scope, key string) (bool, error)
}

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	Handlers *handlers.Handlers
	// Ledger enables replay detection in the idempotency middleware. Nil
	// disables the lookup; the guard inside the service stays authoritative.
	Ledger KeyLedger
}

// RegisterRoutes installs the middleware chain and every route on r.
//
// Order of the chain:
//
//	otelgin -> RequestID -> RedactingLogger -> Recovery -> Identity
//	-> body limit -> gzip -> Metrics -> IdempotencyValidator -> RateLimiter
//	-> CORS -> SecurityHeaders
//
// The idempotency validator runs ahead of the limiter so a replayed write
// is not charged against the caller's bucket.
func RegisterRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	r.HandleMethodNotAllowed = true

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
			SkipPaths:   []string{"/health", "/metrics"},
		}),
		middleware.Recovery(),
		middleware.Identity(),
		limitBody(jsonBodyLimit, multipartBodyLimit),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})),
		middleware.Metrics("/metrics"),
	)

	var lookup middleware.IdempotencyLookup
	if deps.Ledger != nil {
		lookup = deps.Ledger.Seen
	}
	limiter := middleware.NewRateLimiter(
		middleware.RateLimit{RPS: cfg.RateRPS, Burst: cfg.RateBurst},
		middleware.RateLimit{RPS: cfg.RateWriteRPS, Burst: cfg.RateWriteBurst},
		middleware.KeyByCaller(),
	)
	r.Use(
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{
			Scope: ledgerScope(joinPath(cfg.APIBasePath, "/requests")),
		}, lookup),
		limiter.Handler(),
		cors.New(corsConfig(cfg.CORS)),
		middleware.SecurityHeaders(middleware.SecurityOptions{
			EnableHSTS: cfg.Security.EnableHSTS,
			HSTSMaxAge: cfg.Security.HSTSMaxAge,
			// Profiles and broadcasts are private; request reads revalidate
			// against their ETag.
			NoStorePrefixes: []string{
				joinPath(cfg.APIBasePath, "/users"),
				joinPath(cfg.APIBasePath, "/broadcasts"),
			},
			RevalidatePrefixes: []string{joinPath(cfg.APIBasePath, "/requests")},
			EnablePolicy:       true,
		}),
	)

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := deps.Handlers
	if h == nil {
		h = handlers.New(nil, nil, nil, nil)
	}
	mountAPI(groupWithPrefix(r, cfg.APIBasePath), h)
}

func mountAPI(api *gin.RouterGroup, h *handlers.Handlers) {
	users := api.Group("/users")
	users.POST("", h.RegisterUser)
	users.GET("/:id", h.GetUser)
	users.PUT("/:id/push-token", h.RegisterPushToken)
	users.PUT("/:id/preferences", h.UpdatePreferences)
	users.POST("/:id/picture", h.UploadUserPicture)

	requests := api.Group("/requests")
	requests.POST("", h.CreateRequest)
	requests.GET("", h.ListRequests)
	requests.GET("/:id", h.GetRequest)
	requests.POST("/:id/picture", h.UploadRequestPicture)
	requests.POST("/:id/pray", h.RecordPrayer)

	api.POST("/broadcasts", h.SendBroadcast)
}

// corsConfig allows any origin when none is configured. Credentials stay
// off either way.
func corsConfig(cc config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "If-None-Match",
			middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(cc.AllowedOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cc.AllowedOrigins
	}
	return c
}

// ledgerScope maps request creation to the scope RequestService.Create
// uses, so the middleware and the guard agree on what a key means. Other
// routes are not looked up.
func ledgerScope(createPath string) func(c *gin.Context) string {
	return func(c *gin.Context) string {
		if c.Request.Method != http.MethodPost || c.FullPath() != createPath {
			return ""
		}
		uid, ok := middleware.UserID(c)
		if !ok {
			return ""
		}
		return services.CreateRequestScope(uid)
	}
}

// limitBody caps request bodies: multipartMax for picture uploads, jsonMax
// for everything else. Reads past the cap fail with *http.MaxBytesError.
func limitBody(jsonMax, multipartMax int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := jsonMax
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			limit = multipartMax
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// groupWithPrefix treats "" and "/" as the root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return strings.TrimRight(prefix, "/") + p
}
