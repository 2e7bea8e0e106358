// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// firehose consumer, the SQLite projection, the query API (timeouts, rate
// limiting, CORS) and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig wraps every validation failure returned by Load.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultJetstreamURL is a public Jetstream instance.
const DefaultJetstreamURL = "wss://jetstream2.us-east.bsky.network/subscribe"

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-statusphere")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// JetstreamConfig defines the firehose subscription and consumer policy.
type JetstreamConfig struct {
	URL               string        // JETSTREAM_URL, ws:// or wss://
	WantedCollections []string      // JETSTREAM_WANTED_COLLECTIONS (CSV)
	WantedDIDs        []string      // JETSTREAM_WANTED_DIDS (CSV, empty = all)
	UserAgent         string        // JETSTREAM_USER_AGENT
	DialTimeout       time.Duration // JETSTREAM_DIAL_TIMEOUT
	ReadTimeout       time.Duration // JETSTREAM_READ_TIMEOUT, silence before reconnect
	BackoffInitial    time.Duration // JETSTREAM_BACKOFF_INITIAL
	BackoffMax        time.Duration // JETSTREAM_BACKOFF_MAX
	Lookback          time.Duration // JETSTREAM_LOOKBACK, 0 = live edge when no cursor
	CursorEvery       int           // JETSTREAM_CURSOR_EVERY, skipped events per checkpoint
	CursorService     string        // JETSTREAM_CURSOR_SERVICE, cursor row name
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	ShutdownTimeout   time.Duration // graceful stop budget per supervised service

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	DBPath         string // SQLite path
	DBMaxOpenConns int    // pool size; readers share it with the single writer

	// Firehose
	Jetstream JetstreamConfig

	// Rate limiting
	RateRPS   float64 // tokens per second per client IP, 0 disables
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath:         getenv("DB_PATH", "statusphere.db"),
		DBMaxOpenConns: getint("DB_MAX_OPEN_CONNS", 10),

		// Firehose
		Jetstream: JetstreamConfig{
			URL:               getenv("JETSTREAM_URL", DefaultJetstreamURL),
			WantedCollections: splitCSV(getenv("JETSTREAM_WANTED_COLLECTIONS", "xyz.statusphere.status")),
			WantedDIDs:        splitCSV(getenv("JETSTREAM_WANTED_DIDS", "")),
			UserAgent:         getenv("JETSTREAM_USER_AGENT", "go-statusphere"),
			DialTimeout:       getdur("JETSTREAM_DIAL_TIMEOUT", 15*time.Second),
			ReadTimeout:       getdur("JETSTREAM_READ_TIMEOUT", 60*time.Second),
			BackoffInitial:    getdur("JETSTREAM_BACKOFF_INITIAL", time.Second),
			BackoffMax:        getdur("JETSTREAM_BACKOFF_MAX", time.Minute),
			Lookback:          getdur("JETSTREAM_LOOKBACK", 0),
			CursorEvery:       getint("JETSTREAM_CURSOR_EVERY", 1),
			CursorService:     getenv("JETSTREAM_CURSOR_SERVICE", "jetstream"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-statusphere"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once, joined under
// ErrInvalidConfig.
func (c Config) Validate() error {
	var problems []error
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		problems = append(problems, fmt.Errorf("LOG_LEVEL %q is not a zerolog level", c.LogLevel))
	}
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.ShutdownTimeout > 0, "SHUTDOWN_TIMEOUT must be > 0")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(strings.TrimSpace(c.DBPath) != "", "DB_PATH must not be empty")
	check(c.DBMaxOpenConns >= 1, "DB_MAX_OPEN_CONNS must be >= 1")

	j := c.Jetstream
	check(strings.HasPrefix(j.URL, "ws://") || strings.HasPrefix(j.URL, "wss://"),
		"JETSTREAM_URL must start with ws:// or wss://")
	check(len(j.WantedCollections) > 0, "JETSTREAM_WANTED_COLLECTIONS must not be empty")
	check(j.DialTimeout > 0 && j.ReadTimeout > 0, "JETSTREAM_DIAL_TIMEOUT and JETSTREAM_READ_TIMEOUT must be > 0")
	check(j.BackoffInitial > 0 && j.BackoffMax >= j.BackoffInitial,
		"JETSTREAM_BACKOFF_INITIAL must be > 0 and <= JETSTREAM_BACKOFF_MAX")
	check(j.Lookback >= 0, "JETSTREAM_LOOKBACK must be >= 0")
	check(j.CursorEvery >= 1, "JETSTREAM_CURSOR_EVERY must be >= 1")
	check(strings.TrimSpace(j.CursorService) != "", "JETSTREAM_CURSOR_SERVICE must not be empty")

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
}

// Environment lookups. Unset, empty or unparsable values yield def.

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
