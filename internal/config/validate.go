package config

import (
	"errors"
	"strings"
)

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// validate reports every out-of-range setting joined into one error.
func (c Config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(!blank(c.Port), "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DB.Driver {
	case "sqlite":
		check(!blank(c.DB.Path), "DB_PATH must not be empty")
	case "postgres":
		check(!blank(c.DB.URL), "DATABASE_URL must be set when DB_DRIVER=postgres")
	default:
		errs = append(errs, errors.New("DB_DRIVER must be one of: sqlite, postgres"))
	}

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.RateWriteRPS >= 0 && c.RateWriteBurst >= 1, "RATE_WRITE_RPS must be >= 0 and RATE_WRITE_BURST >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")

	check(c.Idempotency.TTL > 0, "IDEMPOTENCY_TTL must be > 0")
	switch c.Idempotency.Backend {
	case "db":
		check(c.Idempotency.SweepInterval > 0, "IDEMPOTENCY_SWEEP_INTERVAL must be > 0")
	case "redis":
		check(!blank(c.Redis.Addr), "REDIS_ADDR must be set when IDEMPOTENCY_BACKEND=redis")
	default:
		errs = append(errs, errors.New("IDEMPOTENCY_BACKEND must be one of: db, redis"))
	}

	check(c.Notify.Timeout > 0 && c.Notify.Wait >= 0, "NOTIFY_TIMEOUT must be > 0 and NOTIFY_WAIT >= 0")
	check(c.Notify.BroadcastInterval > 0, "BROADCAST_INTERVAL must be > 0")
	check(c.Push.ReceiptDelay >= 0, "PUSH_RECEIPT_DELAY must be >= 0")
	check(c.SMTP.Port > 0 && c.SMTP.Port <= 65535, "SMTP_PORT must be a valid TCP port")
	check(!c.Storage.Enabled || (c.Storage.AccessKey != "" && c.Storage.SecretKey != "" && c.Storage.Bucket != ""),
		"STORAGE_ACCESS_KEY, STORAGE_SECRET_KEY and STORAGE_BUCKET are required when STORAGE_ENABLED")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}
