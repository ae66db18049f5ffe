// Conversation gateway core: an authenticated, durable, multi-tenant
// message-delivery service (§1-§9).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/convgateway/core/internal/config"
	"github.com/convgateway/core/internal/middleware"
	"github.com/convgateway/core/internal/runtime"
	"github.com/convgateway/core/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("starting gateway", "port", cfg.Port, "gateway_id", cfg.GatewayID, "dev", cfg.IsDevelopment())

	rt, err := runtime.New(cfg)
	if err != nil {
		slog.Error("failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Error("failed to close runtime", "error", closeErr)
		}
	}()
	slog.Info("database connected", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)
	slog.Info("retention sweeper and presence sweeper started")

	srv := transport.NewServer(rt)
	r := srv.Router()

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      chain(r, cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and duplex streams are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped successfully")
}

// chain wraps the router with the teacher's global middleware stack:
// request id, real ip, request logging, panic recovery, and CORS
// scoped to the configured frontend origin(s).
func chain(h http.Handler, cfg *config.Config) http.Handler {
	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}
	h = middleware.CORS(origins)(h)
	h = chiMiddleware.Recoverer(h)
	h = chiMiddleware.Logger(h)
	h = chiMiddleware.RealIP(h)
	h = chiMiddleware.RequestID(h)
	return h
}
