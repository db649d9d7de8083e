// Package relay bridges one client channel to one speech model session per
// interview block and persists the transcript when the session ends.
package relay

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prepwise/voice-interview/internal/auth"
	"github.com/prepwise/voice-interview/internal/backend"
	"github.com/prepwise/voice-interview/internal/latch"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/resilience"
	"github.com/prepwise/voice-interview/internal/speech"
	"github.com/prepwise/voice-interview/internal/transcript"
)

// Backend is the subset of backend RPCs the relay uses.
type Backend interface {
	GetContext(ctx context.Context, interviewID string, blockNumber *int32) (*protocol.GetContextResponse, error)
	UpdateStatus(ctx context.Context, interviewID string, status protocol.InterviewStatus, at time.Time) error
	SubmitTranscript(ctx context.Context, req *protocol.SubmitTranscriptRequest) error
}

// Options tune relay timing.
type Options struct {
	// FinalizeTimeout bounds the drain after an EndRequest.
	FinalizeTimeout time.Duration
	WorkerTokenTTL  time.Duration
	WriteTimeout    time.Duration
	SubmitTimeout   time.Duration
	SubmitRetry     *resilience.RetryConfig
}

// DefaultOptions returns the timings used when a field is zero.
func DefaultOptions() Options {
	return Options{
		FinalizeTimeout: 5 * time.Second,
		WorkerTokenTTL:  time.Hour,
		WriteTimeout:    10 * time.Second,
		SubmitTimeout:   30 * time.Second,
		SubmitRetry:     resilience.DefaultRetryConfig(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = d.FinalizeTimeout
	}
	if o.WorkerTokenTTL <= 0 {
		o.WorkerTokenTTL = d.WorkerTokenTTL
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = d.SubmitTimeout
	}
	if o.SubmitRetry == nil {
		o.SubmitRetry = d.SubmitRetry
	}
	return o
}

// Handler upgrades /{interviewId}?token=&block= requests and runs one relay per connection.
type Handler struct {
	ctx      context.Context
	backend  Backend
	dialer   speech.Dialer
	issuer   *auth.Issuer
	latch    latch.Latch
	opts     Options
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// NewHandler creates a handler. Relays stop when ctx is cancelled.
func NewHandler(ctx context.Context, b Backend, dialer speech.Dialer, issuer *auth.Issuer, l latch.Latch, opts Options) *Handler {
	return &Handler{
		ctx:     ctx,
		backend: b,
		dialer:  dialer,
		issuer:  issuer,
		latch:   l,
		opts:    opts.withDefaults(),
		upgrader: websocket.Upgrader{
			// Access is gated by the token, not the origin.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Wait blocks until every relay started by h has finished persisting.
func (h *Handler) Wait() { h.wg.Wait() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	interviewID := strings.Trim(r.URL.Path, "/")
	if interviewID == "" || strings.Contains(interviewID, "/") {
		http.NotFound(w, r)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("failed to upgrade connection to WebSocket")
		return
	}

	correlationID := observability.NewCorrelationID()
	block := ParseBlock(r.URL.Query().Get("block"))
	rl := &relay{
		h:           h,
		conn:        conn,
		interviewID: interviewID,
		block:       block,
		acc:         transcript.NewAccumulator(),
		metrics:     observability.NewSessionMetrics(correlationID),
		logger:      observability.SessionLogger(correlationID, interviewID, block),
	}
	rl.serve(h.ctx, requestToken(r))
}

// ParseBlock returns the block number when s is a positive integer and nil otherwise.
func ParseBlock(s string) *int32 {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n <= 0 {
		return nil
	}
	return protocol.BlockNumber(int32(n))
}

func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	t, _ := auth.BearerToken(r.Header.Get("Authorization"))
	return t
}

// logWith adds the relay identity to logger.
func logWith(logger zerolog.Logger, ictx *protocol.GetContextResponse) zerolog.Logger {
	return logger.With().Int32("total_blocks", ictx.TotalBlocks).Dur("duration", ictx.Duration()).Logger()
}

var _ Backend = (*backend.Client)(nil)
