// Command server runs the prayer request HTTP API.
//
// @title        Prayer Requests API
// @version      1.0
// @description  Prayer requests, prayers and the notifications they trigger.
// @BasePath     /api/v1
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	_ "github.com/tbourn/go-prayer-backend/docs"
	"github.com/tbourn/go-prayer-backend/internal/app"
	"github.com/tbourn/go-prayer-backend/internal/config"
	"github.com/tbourn/go-prayer-backend/internal/sysutil"
)

var version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		sysutil.ConfigureLogger("info", false, os.Stderr)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	app.Version = sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	fx.New(
		fx.WithLogger(func() fxevent.Logger { return &app.ZerologLogger{Logger: log.Logger} }),
		app.Options(cfg),
	).Run()
}
