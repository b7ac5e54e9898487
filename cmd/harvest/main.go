package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/use-agent/harvest/admission"
	"github.com/use-agent/harvest/api"
	"github.com/use-agent/harvest/batch"
	"github.com/use-agent/harvest/cleanup"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/fingerprint"
	"github.com/use-agent/harvest/scraper"
	"github.com/use-agent/harvest/shutdown"
	"github.com/use-agent/harvest/store"
	"github.com/use-agent/harvest/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()
	if violations := cfg.Validate(); len(violations) > 0 {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n  %s\n", strings.Join(violations, "\n  "))
		os.Exit(1)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("harvest starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
	)

	// ── 3. Launch browser driver ────────────────────────────────────
	browser, err := scraper.NewBrowser(cfg.Browser)
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}

	// ── 4. Wire the scrape pipeline ─────────────────────────────────
	staticPool := admission.NewPool("static", cfg.Pools.MaxConcurrency, cfg.Pools.MaxQueue)
	browserPool := admission.NewPool("browser", cfg.Pools.MaxBrowserConcurrency, cfg.Pools.MaxBrowserQueue)
	advisor := fingerprint.NewAdvisor(cfg.Fingerprint)
	extractor := extract.New(cfg.Scrape.MaxBodyBytes)
	eng := engine.New(browser, extractor, advisor, staticPool, browserPool, cfg.Scrape, cfg.Browser)

	// ── 5. Stores, batch manager, webhook dispatcher ────────────────
	pages := store.New()
	dispatcher := webhook.NewDispatcher(cfg.Webhook)
	jobs := batch.NewManager(eng.Scrape, dispatcher, cfg.Batch, cfg.Scrape)
	jobs.RecoverStale()

	// ── 6. Cleanup scheduler ────────────────────────────────────────
	sched := cleanup.NewScheduler(cfg.Cleanup.DataLifetime, cfg.Cleanup.Interval, pages, jobs)
	sched.Start()

	// ── 7. Router and HTTP server ───────────────────────────────────
	coord := &shutdown.Coordinator{}
	router := api.NewRouter(eng, jobs, pages, coord, cfg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	coord.MarkDraining()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.CloseTimeout)
	defer cancel()

	// Order matters: finalize batches (and deliver their webhooks) while the
	// HTTP server still answers health probes, then drain the server, then
	// stop the sweeper, then kill the browser.
	jobs.Shutdown(ctx)

	clean := true
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err, "activeRequests", coord.Active())
		clean = false
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	if err := sched.Stop(ctx); err != nil {
		slog.Error("cleanup scheduler did not stop in time", "error", err)
		clean = false
	}

	// Drains the page pool and kills Chrome.
	browser.Close()

	slog.Info("harvest stopped", "clean", clean)
	if !clean {
		os.Exit(1)
	}
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
