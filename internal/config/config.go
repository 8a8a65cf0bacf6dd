// Package config reads the service settings from the environment. Every
// value has a default, so an empty environment yields a working SQLite
// development setup.
package config

import (
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API. Empty
// allows any origin.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls Strict-Transport-Security.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig configures trace export over OTLP/gRPC.
type OTELConfig struct {
	Enabled     bool
	Endpoint    string // host:port of the collector
	Insecure    bool
	ServiceName string
	SampleRatio float64 // root span sampling, 0..1
	Environment string  // deployment.environment resource attribute
}

// DBConfig selects and configures the durable store.
type DBConfig struct {
	Driver  string // DB_DRIVER: sqlite|postgres
	Path    string // DB_PATH (sqlite)
	URL     string // DATABASE_URL (postgres DSN)
	Tracing bool   // DB_TRACING: attach the gorm OpenTelemetry plugin
}

// IdempotencyConfig configures the creation guard.
type IdempotencyConfig struct {
	TTL           time.Duration // IDEMPOTENCY_TTL
	Backend       string        // IDEMPOTENCY_BACKEND: db|redis
	SweepInterval time.Duration // IDEMPOTENCY_SWEEP_INTERVAL (db backend only)
}

// RedisConfig holds connection settings for the redis guard backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NotifyConfig bounds the notification fan-out.
type NotifyConfig struct {
	Timeout           time.Duration // NOTIFY_TIMEOUT, per provider call
	Wait              time.Duration // NOTIFY_WAIT, response path wait for submit outcomes
	BroadcastInterval time.Duration // BROADCAST_INTERVAL, min spacing between broadcast sends
}

// PushConfig configures the push provider client.
type PushConfig struct {
	Endpoint        string        // PUSH_ENDPOINT
	ReceiptEndpoint string        // PUSH_RECEIPT_ENDPOINT
	AccessToken     string        // PUSH_ACCESS_TOKEN (optional)
	ReceiptDelay    time.Duration // PUSH_RECEIPT_DELAY
}

// SMTPConfig configures the outbound mail relay.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	FromName   string
	UseSSL     bool // SMTPS (465) instead of STARTTLS
	RequireTLS bool // fail when STARTTLS is unavailable
	AppName    string
	AppBaseURL string
}

// Enabled reports whether enough is configured to send mail.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

// StorageConfig configures the S3-compatible image store.
type StorageConfig struct {
	Enabled       bool
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string // prefix for returned object URLs
}

// OpenAIConfig configures the prayer text generator. An empty APIKey disables it.
type OpenAIConfig struct {
	APIKey string
	Model  string
}

// Config is the full service configuration. See Load for the variable
// names and defaults.
type Config struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug, release or test

	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string // "/api/v1"; no trailing slash

	DB DBConfig

	// Reads (GET/HEAD/OPTIONS) per caller.
	RateRPS   float64
	RateBurst int

	// Writes (POST/PUT) draw from a separate bucket.
	RateWriteRPS   float64
	RateWriteBurst int

	CORS     CORSConfig
	Security SecurityConfig

	Idempotency IdempotencyConfig
	Redis       RedisConfig

	Notify NotifyConfig
	Push   PushConfig
	SMTP   SMTPConfig

	Storage StorageConfig
	OpenAI  OpenAIConfig

	OTEL OTELConfig
}

// MustLoad is Load for main packages: an invalid environment panics.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load builds a Config from the environment and validates it. Unparsable
// numbers, booleans and durations fall back to their defaults; values that
// parse but are out of range are reported, all of them at once.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           ginMode(getenv("GIN_MODE", "release")),

		LogLevel:       logLevel(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver:  strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:    getenv("DB_PATH", "app.db"),
			URL:     getenv("DATABASE_URL", ""),
			Tracing: getbool("DB_TRACING", false),
		},

		RateRPS:        getfloat("RATE_RPS", 5.0),
		RateBurst:      getint("RATE_BURST", 10),
		RateWriteRPS:   getfloat("RATE_WRITE_RPS", 1.0),
		RateWriteBurst: getint("RATE_WRITE_BURST", 5),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Idempotency: IdempotencyConfig{
			TTL:           getdur("IDEMPOTENCY_TTL", time.Hour),
			Backend:       strings.ToLower(getenv("IDEMPOTENCY_BACKEND", "db")),
			SweepInterval: getdur("IDEMPOTENCY_SWEEP_INTERVAL", 10*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		Notify: NotifyConfig{
			Timeout:           getdur("NOTIFY_TIMEOUT", 10*time.Second),
			Wait:              getdur("NOTIFY_WAIT", 3*time.Second),
			BroadcastInterval: getdur("BROADCAST_INTERVAL", 600*time.Millisecond),
		},
		Push: PushConfig{
			Endpoint:        getenv("PUSH_ENDPOINT", "https://exp.host/--/api/v2/push/send"),
			ReceiptEndpoint: getenv("PUSH_RECEIPT_ENDPOINT", "https://exp.host/--/api/v2/push/getReceipts"),
			AccessToken:     getenv("PUSH_ACCESS_TOKEN", ""),
			ReceiptDelay:    getdur("PUSH_RECEIPT_DELAY", 5*time.Second),
		},
		SMTP: SMTPConfig{
			Host:       getenv("SMTP_HOST", ""),
			Port:       getint("SMTP_PORT", 587),
			Username:   getenv("SMTP_USERNAME", ""),
			Password:   getenv("SMTP_PASSWORD", ""),
			From:       getenv("SMTP_FROM", ""),
			FromName:   getenv("SMTP_FROM_NAME", "Prayer Requests"),
			UseSSL:     getbool("SMTP_USE_SSL", false),
			RequireTLS: getbool("SMTP_REQUIRE_TLS", true),
			AppName:    getenv("APP_NAME", "Prayer Requests"),
			AppBaseURL: getenv("APP_BASE_URL", "http://localhost:8080"),
		},

		Storage: StorageConfig{
			Enabled:       getbool("STORAGE_ENABLED", false),
			Endpoint:      getenv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey:     getenv("STORAGE_ACCESS_KEY", ""),
			SecretKey:     getenv("STORAGE_SECRET_KEY", ""),
			Bucket:        getenv("STORAGE_BUCKET", "prayer-images"),
			UseSSL:        getbool("STORAGE_USE_SSL", false),
			PublicBaseURL: getenv("STORAGE_PUBLIC_BASE_URL", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey: getenv("OPENAI_API_KEY", ""),
			Model:  getenv("OPENAI_MODEL", "gpt-4o-mini"),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-prayer-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			Environment: getenv("DEPLOYMENT_ENV", "development"),
		},
	}

	return cfg, cfg.validate()
}

// ginMode maps anything unknown to release.
func ginMode(s string) string {
	switch s = strings.ToLower(s); s {
	case "debug", "release", "test":
		return s
	}
	return "release"
}

func logLevel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return "warn"
	}
	return s
}
