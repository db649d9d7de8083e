package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prepwise/voice-interview/internal/api"
	"github.com/prepwise/voice-interview/internal/auth"
	"github.com/prepwise/voice-interview/internal/backend"
	"github.com/prepwise/voice-interview/internal/config"
	"github.com/prepwise/voice-interview/internal/feedback"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/prompts"
	"github.com/prepwise/voice-interview/internal/resilience"
	"github.com/prepwise/voice-interview/internal/store"
)

const serviceName = "interview-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateAPI(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(observability.LogOptions{Level: cfg.LogLevel, Pretty: cfg.LogPretty, File: cfg.LogFile})
	logger := observability.GetLogger()

	logger.Info().
		Str("api_port", cfg.APIPort).
		Str("grpc_port", cfg.GRPCPort).
		Str("queue", cfg.QueueBackend).
		Bool("database", cfg.DatabaseURL != "").
		Msg("Interview API starting")

	shutdownTracer := observability.InitTracer(cfg.OtelEnabled, cfg.OtelEndpoint, serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks []observability.DependencyCheck

	var st store.Store
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		st = store.NewMemStore()
	} else {
		gs, err := store.Open(cfg.DatabaseURL, store.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open database")
		}
		defer gs.Close()
		if err := gs.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to migrate database")
		}
		st = gs
	}
	checks = append(checks, observability.DependencyCheck{
		Name: "database",
		Check: func(ctx context.Context) (bool, error) {
			if err := st.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	})

	catalog, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load prompt catalog")
	}

	generator := feedback.NewLLMGenerator(feedback.LLMConfig{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: time.Duration(cfg.LLMTimeout) * time.Second,
	}, resilience.NewCircuitBreaker("feedback-llm", cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second), &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	})

	pipeline := feedback.NewPipeline(st, catalog, generator, nil)

	var queue feedback.Queue
	switch cfg.QueueBackend {
	case "nats":
		js, err := feedback.NewJetStreamQueue(feedback.DefaultJetStreamConfig(cfg.NATSURL))
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		checks = append(checks, observability.DependencyCheck{Name: "nats", Check: js.Ping})
		queue = js
	default:
		queue = feedback.NewChannelQueue(5, 2*time.Second)
	}
	defer queue.Close()
	pipeline.SetEnqueuer(queue)

	// consume before serving so in-process jobs are never published without a subscriber
	if err := queue.Consume(ctx, pipeline.Handle); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start feedback consumer")
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer)

	grpcServer := backend.NewGRPCServer(backend.NewService(st, catalog, queue), issuer)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("Failed to listen for gRPC")
	}
	go func() {
		logger.Info().Str("port", cfg.GRPCPort).Msg("Backend gRPC listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	app := api.New(st, issuer, api.Options{
		WorkerURL:      cfg.WorkerURL,
		WorkerTokenTTL: time.Duration(cfg.WorkerTokenTTL) * time.Minute,
		Checks:         checks,
	})
	go func() {
		logger.Info().Str("port", cfg.APIPort).Msg("Control API listening")
		if err := app.Listen(":" + cfg.APIPort); err != nil {
			logger.Fatal().Err(err).Msg("Control API failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Control API forced to shutdown")
	}
	grpcServer.GracefulStop()
	cancel()

	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Tracer shutdown failed")
	}
	logger.Info().Msg("Server exited gracefully")
}
