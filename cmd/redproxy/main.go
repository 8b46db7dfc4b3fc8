// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command redproxy is a transparent TCP/TLS proxy for Redis that counts
// the commands passing through it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/absmach/redproxy"
	"github.com/absmach/redproxy/pkg/breaker"
	"github.com/absmach/redproxy/pkg/health"
	"github.com/absmach/redproxy/pkg/metrics"
	"github.com/absmach/redproxy/pkg/observer"
	"github.com/absmach/redproxy/pkg/proxy"
	"github.com/absmach/redproxy/pkg/stats"
	"github.com/absmach/redproxy/pkg/upstream"
)

const envPrefix = "REDPROXY_"

func main() {
	// .env file is optional.
	_ = godotenv.Load()

	cfg, err := redproxy.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	serverTLS, err := cfg.ServerTLSConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load server TLS material: %v\n", err)
		os.Exit(1)
	}
	upstreamTLS, err := cfg.UpstreamTLSConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load upstream TLS material: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting redproxy",
		slog.String("listen", cfg.ListenAddress),
		slog.Bool("tls", serverTLS != nil),
		slog.String("upstream", cfg.UpstreamAddress),
		slog.Bool("upstream_tls", upstreamTLS != nil))

	// Shared command statistics, printed on shutdown.
	registry := stats.New(logger)

	promReg := prometheus.NewRegistry()
	m := metrics.New("redproxy", promReg)

	cb := breaker.New(breaker.Config{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	})
	cb.OnStateChange(func(from, to breaker.State) {
		logger.Warn("upstream breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		m.BreakerState.Set(float64(to))
		if to == breaker.StateOpen {
			m.BreakerTrips.Inc()
		}
	})

	connector := upstream.New(upstream.Config{
		Address:     cfg.UpstreamAddress,
		TLSConfig:   upstreamTLS,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger,
	}, cb)

	checker := health.NewChecker(10 * time.Second)
	checker.Register("upstream", func(ctx context.Context) error {
		conn, err := net.DialTimeout("tcp", cfg.UpstreamAddress, 2*time.Second)
		if err != nil {
			return err
		}
		return conn.Close()
	})
	checker.Register("goroutines", func(ctx context.Context) error {
		if count := runtime.NumGoroutine(); count > 50000 {
			return fmt.Errorf("too many goroutines: %d", count)
		}
		return nil
	})

	srv := proxy.New(proxy.Config{
		Address:         cfg.ListenAddress,
		TLSConfig:       serverTLS,
		BufferSize:      cfg.BufferSize,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}, connector, observer.Multi(
		observer.Recorder(registry),
		m.Observer(),
		observer.NewLogging(logger),
	))

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Listen(ctx)
	})

	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		return serveHTTP(ctx, fmt.Sprintf(":%d", cfg.MetricsPort), mux, logger, "metrics")
	})

	g.Go(func() error {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", checker.Handler())
		mux.HandleFunc("/ready", checker.ReadinessHandler())
		mux.HandleFunc("/live", health.LivenessHandler())
		return serveHTTP(ctx, fmt.Sprintf(":%d", cfg.HealthPort), mux, logger, "health")
	})

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	err = g.Wait()

	// The summary goes to stderr so it stays visible regardless of log
	// format and level.
	registry.WriteSummary(os.Stderr)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("redproxy terminated with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("redproxy stopped")
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// serveHTTP runs an auxiliary HTTP server until the context is cancelled.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger, name string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting http server",
		slog.String("name", name),
		slog.String("address", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
