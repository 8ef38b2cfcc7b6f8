// Entry point for the arachnado real-time data API: chi router, websocket
// subscription endpoints for the jobs and pages feeds, and an ingest API
// through which the crawl orchestrator records jobs, pages, and signals.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/thezedwards/arachnado/crawl"
	"github.com/thezedwards/arachnado/datarpc"
	"github.com/thezedwards/arachnado/dbopen"
	"github.com/thezedwards/arachnado/storage"
)

func main() {
	port := env("PORT", "8888")
	dbPath := env("ARACHNADO_DB", "db/arachnado.db")
	logLevel := env("LOG_LEVEL", "info")
	configPath := env("ARACHNADO_CONFIG", "")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := storage.Init(db); err != nil {
		slog.Error("init storage", "error", err)
		os.Exit(1)
	}

	jobs := storage.NewJobStore(db)
	pages := storage.NewPageStore(db)
	bus := crawl.NewBus()

	rpcCfg := datarpc.Config{
		Jobs:           jobs,
		Pages:          pages,
		Bus:            bus,
		Logger:         logger,
		MaxMessageSize: cfg.MaxMessageSize,
		TailInterval:   cfg.TailInterval,
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Get("/ws-jobs-data", datarpc.JobsHandler(rpcCfg))
	r.Get("/ws-pages-data", datarpc.PagesHandler(rpcCfg))

	api := &ingestAPI{jobs: jobs, pages: pages, bus: bus}
	r.Route("/api", api.routes)

	// No WriteTimeout: websocket connections stay open indefinitely.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("arachnado data API starting", "port", port, "db", dbPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
