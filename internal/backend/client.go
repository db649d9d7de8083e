package backend

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/prepwise/voice-interview/internal/config"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/resilience"
)

// Client manages the gRPC connection to the interview backend.
type Client struct {
	target  string
	timeout time.Duration
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	mu   sync.RWMutex
	conn *grpc.ClientConn
}

// NewClient creates a backend client. The connection is established lazily
// on the first call.
func NewClient(cfg *config.Config) (*Client, error) {
	var opts []grpc.DialOption

	if cfg.BackendTLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))

	conn, err := grpc.NewClient(cfg.BackendURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client for %s: %w", cfg.BackendURL, err)
	}

	return &Client{
		target:  cfg.BackendURL,
		timeout: time.Duration(cfg.BackendTimeout) * time.Second,
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		breaker: resilience.NewCircuitBreaker("backend",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		logger: observability.GetLogger().With().Str("component", "backend-client").Str("target", cfg.BackendURL).Logger(),
		conn:   conn,
	}, nil
}

// WithWorkerToken attaches a worker-scope bearer token to outgoing calls made with ctx.
func WithWorkerToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func (c *Client) GetContext(ctx context.Context, interviewID string, blockNumber *int32) (*protocol.GetContextResponse, error) {
	out := new(protocol.GetContextResponse)
	err := c.invoke(ctx, methodGetContext, interviewID, &protocol.GetContextRequest{
		InterviewID: interviewID,
		BlockNumber: blockNumber,
	}, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateStatus(ctx context.Context, interviewID string, status protocol.InterviewStatus, at time.Time) error {
	return c.invoke(ctx, methodUpdateStatus, interviewID, &protocol.UpdateStatusRequest{
		InterviewID: interviewID,
		Status:      status,
		EndedAt:     at,
	}, new(protocol.SuccessResponse))
}

func (c *Client) SubmitTranscript(ctx context.Context, req *protocol.SubmitTranscriptRequest) error {
	start := time.Now()
	err := c.invoke(ctx, methodSubmitTranscript, req.InterviewID, req, new(protocol.SuccessResponse))
	observability.RecordTranscriptSubmission(err == nil)
	if err == nil {
		c.logger.Debug().
			Str("interview_id", req.InterviewID).
			Int("bytes", len(req.Transcript)).
			Dur("duration", time.Since(start)).
			Msg("transcript submitted")
	}
	return err
}

func (c *Client) SubmitFeedback(ctx context.Context, req *protocol.SubmitFeedbackRequest) error {
	return c.invoke(ctx, methodSubmitFeedback, req.InterviewID, req, new(protocol.SuccessResponse))
}

// invoke runs one unary call with retry. Only transport failures count
// against the circuit breaker.
func (c *Client) invoke(ctx context.Context, method, interviewID string, in, out protocol.Message) error {
	ctx, span := observability.StartSpan(ctx, "backend."+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("interview_id", interviewID))

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("backend client is closed")
	}

	start := time.Now()
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		var callErr error
		if err := c.breaker.Call(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			callErr = conn.Invoke(callCtx, fullMethod(method), in, out)
			if resilience.IsRetryableNetworkError(callErr) {
				return callErr
			}
			return nil
		}); err != nil {
			return err
		}
		return callErr
	}, c.retry, resilience.IsRetryableNetworkError)
	observability.RecordBackendCall(method, start, err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("backend %s: %w", method, err)
	}
	return nil
}

// HealthCheck reports whether the connection is usable.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return false, fmt.Errorf("backend client is closed")
	}
	conn.Connect()
	switch state := conn.GetState(); state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return false, fmt.Errorf("backend connection %s", state)
	default:
		return true, nil
	}
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
