package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/webgate-io/webgate/internal/authcore"
	"github.com/webgate-io/webgate/internal/config"
	"github.com/webgate-io/webgate/internal/diagnostics"
	"github.com/webgate-io/webgate/internal/gateway"
	"github.com/webgate-io/webgate/internal/server"
)

func main() {
	// Initialize structured logging with JSON handler for production
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	port := flag.Int("port", 9090, "Port to listen on")
	insecureCookies := flag.Bool("insecure-cookies", false, "Omit the Secure attribute on session cookies (development only)")
	flag.Parse()

	cfg := config.Load()

	manager, err := authcore.NewManager(cfg, !*insecureCookies, func() {
		slog.Info("process idle: no sessions and no pending logins")
	})
	if err != nil {
		slog.Error("failed to initialize authentication manager", "error", err)
		os.Exit(1)
	}

	limiter := gateway.NewRateLimiter(10, 30)
	gw := gateway.NewHandler(gateway.Config{RateLimiter: limiter})

	app := &server.App{
		Manager:       manager,
		Gateway:       gw,
		DiagCollector: diagnostics.NewCollector(manager, cfg, time.Now()),
		Config:        cfg,
	}

	addr := fmt.Sprintf(":%d", *port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("webgate starting", "addr", "http://localhost"+addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("shutdown did not complete cleanly", "error", err)
	}
}
