// Package server exposes the ingestion service over HTTP: dashboard APIs,
// manual refresh, health and metrics, plus the recurring run scheduler.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/medwatch/config"
	"github.com/mohammad-safakhou/medwatch/internal/discovery"
	"github.com/mohammad-safakhou/medwatch/internal/enrich"
	"github.com/mohammad-safakhou/medwatch/internal/extract"
	"github.com/mohammad-safakhou/medwatch/internal/facts"
	"github.com/mohammad-safakhou/medwatch/internal/index"
	"github.com/mohammad-safakhou/medwatch/internal/pipeline"
	"github.com/mohammad-safakhou/medwatch/internal/snapshot"
	"github.com/mohammad-safakhou/medwatch/internal/store"
	"github.com/mohammad-safakhou/medwatch/internal/telemetry"
)

// Run wires every component together and serves HTTP until the process
// exits. Construction errors are fatal: a half-working service is worse than
// a crashed one.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := facts.LoadRegistry(filepath.Join(cfg.Storage.File.DataDir, cfg.Storage.File.KnownCompanies))
	if err != nil {
		return err
	}
	if registry.Len() == 0 {
		log.New(log.Writer(), "[FACTS] ", log.LstdFlags).Printf("known-company registry empty, every qualifying ORG mention will be reported as emerging")
	}
	recognizer, err := facts.NewProseRecognizer()
	if err != nil {
		return err
	}

	var fetcher extract.Fetcher
	if cfg.Ingest.Fetcher == "chromedp" {
		cf := extract.NewChromedpFetcher(cfg.Ingest.FetchTimeout, cfg.Ingest.UserAgent)
		defer cf.Close()
		fetcher = cf
	} else {
		fetcher = extract.NewHTTPFetcher(cfg.Ingest.FetchTimeout, cfg.Ingest.UserAgent)
	}

	var runs *store.Store
	if cfg.Storage.Postgres.Enabled() {
		if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		runs, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	var lock pipeline.Locker
	if cfg.Storage.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		lock = pipeline.NewRedisLock(rdb, cfg.Ingest.Interval/2, log.New(log.Writer(), "[LOCK] ", log.LstdFlags))
	}

	snapStore := snapshot.NewStore(cfg.Storage.File.SnapshotPath())
	metrics := telemetry.New(prometheus.DefaultRegisterer)

	pipe := pipeline.New(cfg.Ingest, pipeline.Deps{
		Discoverer: discovery.New(cfg.Sources.GoogleNews, cfg.Ingest, log.New(log.Writer(), "[DISCOVER] ", log.LstdFlags)),
		Extractor:  extract.New(fetcher, cfg.Ingest, log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)),
		Enricher:   enrich.New(cfg.Sources.WebSearch, log.New(log.Writer(), "[ENRICH] ", log.LstdFlags)),
		Recognizer: recognizer,
		Attributor: facts.NewRegexAttributor(),
		Registry:   registry,
		Snapshots:  snapStore,
		Runs:       runs,
		Lock:       lock,
		Metrics:    metrics,
		Logger:     log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	})

	idx := index.New()
	if snap, err := snapStore.Load(); err == nil && len(snap.Records) > 0 {
		if err := idx.Rebuild(snap); err != nil {
			baseLogger.Printf("index warm-up: %v", err)
		}
	}

	h := &Handler{
		Pipeline:  pipe,
		Snapshots: snapStore,
		Index:     idx,
		Runs:      runs,
		Logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	h.Register(e.Group("/api"))

	sched := &Scheduler{
		Pipeline: pipe,
		Index:    idx,
		Interval: cfg.Ingest.Interval,
		Cron:     cfg.Ingest.ScheduleCron,
		Stop:     make(chan struct{}),
		Ctx:      ctx,
		Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
	sched.Start()
	defer close(sched.Stop)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10010"
	}
	log.Printf("listening on %s", addr)
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// RunOnce executes a single ingestion run with the same wiring the server
// uses, for the one-shot CLI mode.
func RunOnce(cfg *config.Config, timeout time.Duration) error {
	registry, err := facts.LoadRegistry(filepath.Join(cfg.Storage.File.DataDir, cfg.Storage.File.KnownCompanies))
	if err != nil {
		return err
	}
	recognizer, err := facts.NewProseRecognizer()
	if err != nil {
		return err
	}

	var fetcher extract.Fetcher
	if cfg.Ingest.Fetcher == "chromedp" {
		cf := extract.NewChromedpFetcher(cfg.Ingest.FetchTimeout, cfg.Ingest.UserAgent)
		defer cf.Close()
		fetcher = cf
	} else {
		fetcher = extract.NewHTTPFetcher(cfg.Ingest.FetchTimeout, cfg.Ingest.UserAgent)
	}

	pipe := pipeline.New(cfg.Ingest, pipeline.Deps{
		Discoverer: discovery.New(cfg.Sources.GoogleNews, cfg.Ingest, log.New(log.Writer(), "[DISCOVER] ", log.LstdFlags)),
		Extractor:  extract.New(fetcher, cfg.Ingest, log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)),
		Enricher:   enrich.New(cfg.Sources.WebSearch, log.New(log.Writer(), "[ENRICH] ", log.LstdFlags)),
		Recognizer: recognizer,
		Attributor: facts.NewRegexAttributor(),
		Registry:   registry,
		Snapshots:  snapshot.NewStore(cfg.Storage.File.SnapshotPath()),
		Metrics:    telemetry.New(prometheus.NewRegistry()),
		Logger:     log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	})

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	snap, err := pipe.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("snapshot written: %d records at %s", len(snap.Records), cfg.Storage.File.SnapshotPath())
	return nil
}
