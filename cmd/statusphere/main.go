// Package main is the entry point of the statusphere service.
//
// The process runs two supervised layers under one suture tree:
//
//  1. ingest: the Jetstream consumer, the only writer of the SQLite
//     projection and its cursor
//  2. api: the Gin HTTP server answering feed and profile queries
//
// Startup order is configuration, logging, database (migrations and
// tracing), OpenTelemetry, the consumer, the router, and finally the tree.
// SIGINT/SIGTERM cancel the tree; each service gets SHUTDOWN_TIMEOUT to
// stop. A fatal store error in the consumer terminates the tree and the
// process exits non-zero so the next start resumes from the committed cursor.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"github.com/tbourn/go-statusphere/internal/config"
	httpapi "github.com/tbourn/go-statusphere/internal/http"
	"github.com/tbourn/go-statusphere/internal/ingest"
	"github.com/tbourn/go-statusphere/internal/jetstream"
	"github.com/tbourn/go-statusphere/internal/observability"
	"github.com/tbourn/go-statusphere/internal/repo"
	"github.com/tbourn/go-statusphere/internal/services"
	"github.com/tbourn/go-statusphere/internal/supervisor"
	"github.com/tbourn/go-statusphere/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 2
	}
	sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version, "dev")
	log.Info().Str("version", ver).Str("db", cfg.DBPath).Msg("starting statusphere")

	// Database
	db, err := repo.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("open database")
		return 1
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := repo.AutoMigrate(db); err != nil {
		log.Error().Err(err).Msg("migrate database")
		return 1
	}

	// Tracing
	shutdownOTel, err := observability.SetupOTel(context.Background(), cfg.OTEL, ver)
	if err != nil {
		log.Error().Err(err).Msg("setup opentelemetry")
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Error().Err(err).Msg("enable gorm tracing")
			return 1
		}
	}

	// Ingest
	js := cfg.Jetstream
	client, err := jetstream.NewClient(jetstream.Options{
		Endpoint:          js.URL,
		WantedCollections: js.WantedCollections,
		WantedDIDs:        js.WantedDIDs,
		HandshakeTimeout:  js.DialTimeout,
		ReadTimeout:       js.ReadTimeout,
		UserAgent:         sysutil.FirstNonEmpty(js.UserAgent, "go-statusphere/"+ver),
	})
	if err != nil {
		log.Error().Err(err).Msg("jetstream client")
		return 1
	}
	projection := services.NewProjectionService(db)
	projection.Service = js.CursorService
	consumer := ingest.NewConsumer(client, projection, ingest.Options{
		StartLookback:  js.Lookback,
		DialTimeout:    js.DialTimeout,
		BackoffInitial: js.BackoffInitial,
		BackoffMax:     js.BackoffMax,
		CursorEvery:    js.CursorEvery,
	})

	// API
	r := gin.New()
	httpapi.RegisterRoutes(r, &services.FeedService{DB: db}, consumer, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	// Supervision
	tree := supervisor.NewTree(sysutil.NewSlogLogger(log.Logger), supervisor.TreeConfig{
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	tree.AddIngestService(consumer)
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", srv.Addr).Str("jetstream", js.URL).Msg("supervisor tree starting")
	err = tree.Serve(ctx)

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			log.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
		}
	}

	if cerr := consumer.Err(); cerr != nil {
		log.Error().Err(cerr).Msg("ingest stopped on fatal error")
		return 1
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		log.Error().Err(err).Msg("supervisor tree error")
		return 1
	}
	log.Info().Msg("stopped gracefully")
	return 0
}
