package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prepwise/voice-interview/internal/auth"
	"github.com/prepwise/voice-interview/internal/backend"
	"github.com/prepwise/voice-interview/internal/config"
	"github.com/prepwise/voice-interview/internal/latch"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/relay"
	"github.com/prepwise/voice-interview/internal/resilience"
	"github.com/prepwise/voice-interview/internal/speech"
)

const serviceName = "interview-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateWorker(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(observability.LogOptions{Level: cfg.LogLevel, Pretty: cfg.LogPretty, File: cfg.LogFile})
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend_url", cfg.BackendURL).
		Str("speech_provider", cfg.SpeechProvider).
		Str("latch", cfg.LatchBackend).
		Bool("deepgram", cfg.DeepgramEnabled).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Interview worker starting")

	shutdownTracer := observability.InitTracer(cfg.OtelEnabled, cfg.OtelEndpoint, serviceName)

	backendClient, err := backend.NewClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create backend client")
	}
	defer backendClient.Close()

	dialer, err := speech.NewDialer(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create speech dialer")
	}

	checks := []observability.DependencyCheck{{Name: "backend", Check: backendClient.HealthCheck}}

	var connLatch latch.Latch
	latchTTL := time.Duration(cfg.LatchTTL) * time.Second
	switch cfg.LatchBackend {
	case "redis":
		r, err := latch.NewRedis(cfg.RedisURL, latchTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create redis latch")
		}
		defer r.Close()
		connLatch = r
		checks = append(checks, observability.DependencyCheck{
			Name: "redis",
			Check: func(ctx context.Context) (bool, error) {
				if err := r.Ping(ctx); err != nil {
					return false, err
				}
				return true, nil
			},
		})
	default:
		connLatch = latch.NewMemory(latchTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer)
	opts := relay.DefaultOptions()
	opts.FinalizeTimeout = cfg.FinalizeTimeout()
	opts.WorkerTokenTTL = time.Duration(cfg.WorkerTokenTTL) * time.Minute
	opts.SubmitRetry = &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	handler := relay.NewHandler(ctx, backendClient, dialer, issuer, connLatch, opts)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler(serviceName))
	mux.HandleFunc("/ready", observability.ReadinessHandler(serviceName, checks...))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}
	// every other single-segment path is an interview id
	mux.Handle("/", handler)

	// No read/write timeouts: relay connections are long-lived websockets.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/<interviewId>", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	// hijacked websockets are not tracked by Shutdown
	cancel()
	handler.Wait()

	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Tracer shutdown failed")
	}
	logger.Info().Msg("Server exited gracefully")
}
