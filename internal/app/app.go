// Package app assembles the server with go.uber.org/fx: one provider per
// infrastructure concern, one for the services, one for the Gin engine, and
// lifecycle hooks that start and drain the background workers in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/config"
	httpapi "github.com/tbourn/go-prayer-backend/internal/http"
	"github.com/tbourn/go-prayer-backend/internal/http/handlers"
	"github.com/tbourn/go-prayer-backend/internal/notify"
	"github.com/tbourn/go-prayer-backend/internal/observability"
	"github.com/tbourn/go-prayer-backend/internal/prayergen"
	"github.com/tbourn/go-prayer-backend/internal/repo"
	"github.com/tbourn/go-prayer-backend/internal/services"
	"github.com/tbourn/go-prayer-backend/internal/storage"
)

// Version is reported as service.version on traces.
var Version = "dev"

// Options returns the full application graph for cfg.
func Options(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			provideDB,
			provideGuard,
			provideImages,
			provideWriter,
			provideRenderer,
			provideUsers,
			provideFanout,
			provideBroadcaster,
			provideServices,
			provideEngine,
		),
		fx.Invoke(
			registerTracing,
			registerSweeper,
			registerHTTP,
		),
	)
}

// Guarded bundles the guard with the ledger view the middleware uses.
type Guarded struct {
	Guard  services.Guard
	Ledger httpapi.KeyLedger
	// DB is true when the ledger lives in the database and needs sweeping.
	DB bool
}

// Services is the set of application services.
type Services struct {
	Users      *services.UserService
	Requests   *services.RequestService
	Prayers    *services.PrayerService
	Broadcasts *services.BroadcastService
}

func provideDB(lc fx.Lifecycle, cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return repo.Ping(ctx, db) },
		OnStop:  func(context.Context) error { return repo.Close(db) },
	})
	return db, nil
}

func provideGuard(lc fx.Lifecycle, cfg config.Config, db *gorm.DB) (Guarded, error) {
	if cfg.Idempotency.Backend != "redis" {
		g := services.NewDBGuard(db, cfg.Idempotency.TTL)
		return Guarded{Guard: g, Ledger: g, DB: true}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error { return client.Close() },
	})
	g := services.NewRedisGuard(client, "", cfg.Idempotency.TTL)
	return Guarded{Guard: g, Ledger: g}, nil
}

// provideImages returns nil when object storage is disabled.
func provideImages(lc fx.Lifecycle, cfg config.Config) (*storage.ImageStore, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return store.EnsureBucket(ctx) },
	})
	return store, nil
}

func provideWriter(cfg config.Config) prayergen.Writer {
	return prayergen.New(cfg.OpenAI)
}

func provideRenderer(cfg config.Config) *notify.Renderer {
	return notify.NewRenderer(cfg.SMTP.AppName)
}

func provideUsers(db *gorm.DB, images *storage.ImageStore) *services.UserService {
	u := &services.UserService{DB: db}
	if images != nil {
		u.Images = images
	}
	return u
}

// provideFanout wires the configured providers. A disabled mail relay leaves
// the email channel nil so it resolves as skipped. Permanent push failures
// erase the token through the user service.
func provideFanout(lc fx.Lifecycle, cfg config.Config, r *notify.Renderer, users *services.UserService) *notify.Fanout {
	f := &notify.Fanout{
		Push:         notify.NewExpoClient(cfg.Push, &http.Client{Timeout: cfg.Notify.Timeout}),
		Renderer:     r,
		Timeout:      cfg.Notify.Timeout,
		ReceiptDelay: cfg.Push.ReceiptDelay,
		EraseToken:   users.ErasePushToken,
	}
	if cfg.SMTP.Enabled() {
		f.Email = notify.NewSMTPMailer(cfg.SMTP)
	} else {
		log.Warn().Msg("SMTP not configured; email notifications are skipped")
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := f.Drain(ctx); err != nil {
				log.Warn().Err(err).Msg("notification drain incomplete")
			}
			return nil
		},
	})
	return f
}

// provideBroadcaster returns nil when no mail relay is configured.
func provideBroadcaster(cfg config.Config) *notify.Broadcaster {
	if !cfg.SMTP.Enabled() {
		return nil
	}
	return &notify.Broadcaster{
		Email:    notify.NewSMTPMailer(cfg.SMTP),
		Interval: cfg.Notify.BroadcastInterval,
		Timeout:  cfg.Notify.Timeout,
	}
}

func provideServices(
	lc fx.Lifecycle,
	cfg config.Config,
	db *gorm.DB,
	g Guarded,
	users *services.UserService,
	images *storage.ImageStore,
	writer prayergen.Writer,
	renderer *notify.Renderer,
	fan *notify.Fanout,
	bc *notify.Broadcaster,
) Services {
	var uploader services.ImageUploader
	if images != nil {
		uploader = images
	}
	var sender services.BroadcastSender
	if bc != nil {
		sender = bc
	}

	s := Services{
		Users: users,
		Requests: &services.RequestService{
			DB:         db,
			Guard:      g.Guard,
			Images:     uploader,
			Writer:     writer,
			Notifier:   fan,
			NotifyWait: cfg.Notify.Wait,
			AppBaseURL: cfg.SMTP.AppBaseURL,
		},
		Prayers: &services.PrayerService{
			DB:         db,
			Notifier:   fan,
			NotifyWait: cfg.Notify.Wait,
			AppBaseURL: cfg.SMTP.AppBaseURL,
		},
		Broadcasts: &services.BroadcastService{DB: db, Sender: sender, Renderer: renderer},
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				s.Broadcasts.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				log.Warn().Msg("shutdown before broadcasts finished")
			}
			return nil
		},
	})
	return s
}

func provideEngine(cfg config.Config, s Services, g Guarded) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Deps{
		Handlers: handlers.New(s.Users, s.Requests, s.Prayers, s.Broadcasts),
		Ledger:   g.Ledger,
	})
	return r
}

func registerTracing(lc fx.Lifecycle, cfg config.Config) {
	var shutdown observability.Shutdown
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			fn, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
			if err != nil {
				return fmt.Errorf("otel setup: %w", err)
			}
			shutdown = fn
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

func registerSweeper(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, g Guarded) {
	if !g.DB {
		return
	}
	sw := &services.Sweeper{DB: db, Interval: cfg.Idempotency.SweepInterval}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sw.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

// registerHTTP serves the engine. Listening happens in OnStart so a busy
// port fails startup instead of a background goroutine.
func registerHTTP(lc fx.Lifecycle, cfg config.Config, engine *gin.Engine, sh fx.Shutdowner) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("http server stopped")
					_ = sh.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("http server shutting down")
			ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}
