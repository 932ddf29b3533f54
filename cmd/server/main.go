// Command server exposes the document analysis pipeline over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunobiangulo/docanalysis"
	"github.com/brunobiangulo/docanalysis/monitor"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	telemetry := flag.Bool("otel", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "", "Export traces and metrics over OTLP/HTTP")
	flag.Parse()

	// Env overrides (DOCANALYSIS_*) apply even without a config file.
	cfg, err := docanalysis.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	var opts []docanalysis.Option
	shutdownTelemetry := func(context.Context) error { return nil }
	if *telemetry {
		inst, shutdown, err := monitor.InitTelemetry(context.Background(), "docanalysis")
		if err != nil {
			slog.Error("initialising telemetry", "error", err)
			os.Exit(1)
		}
		opts = append(opts, docanalysis.WithInstruments(inst))
		shutdownTelemetry = shutdown
	}

	apiKey := os.Getenv("DOCANALYSIS_API_KEY")
	corsOrigins := os.Getenv("DOCANALYSIS_CORS_ORIGINS")

	pipeline, err := docanalysis.New(cfg, opts...)
	if err != nil {
		slog.Error("creating pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	h := newHandler(pipeline, cfg)

	// Middleware chain: recovery -> cors -> request id -> auth -> logging -> mux
	var handler http.Handler = h.routes()
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.Deadline() + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting",
			"addr", *addr,
			"provider", cfg.LLM.Provider,
			"model", cfg.LLM.Model,
			"learning", cfg.Learning.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := shutdownTelemetry(ctx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
