package relay

import (
	"context"
	"errors"
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

// Outcomes recorded in the session metrics.
const (
	outcomeCompleted       = "completed"
	outcomeModelEnded      = "model_ended"
	outcomeModelError      = "model_error"
	outcomeClientClosed    = "client_closed"
	outcomeFinalizeTimeout = "finalize_timeout"
	outcomeShutdown        = "shutdown"
	outcomeRejected        = "rejected"
)

type relay struct {
	h           *Handler
	conn        *websocket.Conn
	interviewID string
	block       *int32
	acc         *transcript.Accumulator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	clientGone bool
}

func (r *relay) serve(ctx context.Context, token string) {
	r.metrics.RecordSessionStart()
	outcome := outcomeRejected
	defer func() { r.metrics.RecordSessionEnd(outcome) }()
	defer r.conn.Close()

	claims, err := r.h.issuer.VerifyFor(token, r.interviewID, auth.ScopeSession)
	if err != nil {
		r.logger.Warn().Err(err).Msg("rejecting connection")
		r.reject(protocol.CodeUnauthorized, "unauthorized")
		return
	}
	r.logger = r.logger.With().Str("user_id", claims.UserID).Logger()

	key := latch.Key(r.interviewID, r.block)
	acquired, err := r.h.latch.Acquire(ctx, key)
	switch {
	case err != nil:
		r.logger.Warn().Err(err).Msg("connection latch unavailable, continuing without it")
	case !acquired:
		r.logger.Warn().Str("latch", key).Msg("session already active for this block")
		r.reject(protocol.CodeConflict, "a session for this block is already active")
		return
	default:
		defer func() {
			if err := r.h.latch.Release(context.WithoutCancel(ctx), key); err != nil {
				r.logger.Warn().Err(err).Msg("failed to release connection latch")
			}
		}()
	}

	workerToken, _, err := r.h.issuer.Issue(auth.ScopeWorker, claims.UserID, r.interviewID, r.h.opts.WorkerTokenTTL)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to mint worker token")
		r.reject(protocol.CodeInternal, "internal error")
		return
	}
	ctx = backend.WithWorkerToken(ctx, workerToken)

	ictx, err := r.h.backend.GetContext(ctx, r.interviewID, r.block)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to get interview context")
		r.metrics.RecordError("get_context", "backend")
		r.reject(backend.ErrorCode(err), "failed to load interview")
		return
	}
	r.logger = logWith(r.logger, ictx)

	if err := r.h.backend.UpdateStatus(ctx, r.interviewID, protocol.StatusInProgress, time.Now()); err != nil {
		r.logger.Warn().Err(err).Msg("failed to mark interview in progress")
	}

	r.metrics.RecordModelConnectStart()
	model, err := r.h.dialer.Dial(ctx, sessionConfig(r.interviewID, r.block, ictx))
	r.metrics.RecordModelConnectEnd(err == nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to connect to speech model")
		r.metrics.RecordError("model_dial", "speech")
		code := protocol.CodeUpstream
		if errors.Is(err, context.Canceled) {
			code = protocol.CodeInternal
		}
		outcome = outcomeModelError
		r.reject(code, "interviewer unavailable")
		return
	}
	r.logger.Info().Msg("relay started")

	outcome = r.run(ctx, model)
	if err := model.Close(); err != nil {
		r.logger.Debug().Err(err).Msg("error closing speech model session")
	}
	r.close(closeCode(outcome))

	r.finish(ctx, ictx)
	r.logger.Info().Str("outcome", outcome).Msg("relay finished")
}

func sessionConfig(interviewID string, block *int32, ictx *protocol.GetContextResponse) speech.SessionConfig {
	cfg := speech.SessionConfig{
		InterviewID:    interviewID,
		BlockNumber:    block,
		JobDescription: ictx.JobDescription,
		Resume:         ictx.Resume,
		Persona:        ictx.Persona,
		Duration:       ictx.Duration(),
	}
	if ictx.SystemPrompt != nil {
		cfg.SystemPrompt = *ictx.SystemPrompt
	}
	if ictx.Language != nil {
		cfg.Language = *ictx.Language
	}
	if ictx.Question != nil {
		cfg.Question = *ictx.Question
	}
	return cfg
}

// run relays until the session ends and returns the outcome.
func (r *relay) run(ctx context.Context, model speech.Session) string {
	done := make(chan struct{})
	defer close(done)
	clientMsgs := r.readClient(done)
	events := model.Events()

	var finalizeDeadline <-chan time.Time
	finalizing := false

	for {
		select {
		case <-ctx.Done():
			return outcomeShutdown

		case msg, ok := <-clientMsgs:
			if !ok {
				clientMsgs = nil
				r.clientGone = true
				if finalizing {
					continue
				}
				r.logger.Info().Msg("client disconnected")
				return outcomeClientClosed
			}
			switch {
			case msg.AudioChunk != nil:
				if finalizing {
					continue
				}
				pcm := msg.AudioChunk.AudioContent
				r.metrics.RecordAudioBytes("in", int64(len(pcm)))
				if err := model.SendAudio(pcm); err != nil {
					r.logger.Debug().Err(err).Msg("dropping audio chunk")
				}
			case msg.EndRequest != nil:
				if finalizing {
					continue
				}
				finalizing = true
				r.logger.Info().Msg("end requested, finalizing")
				fctx, cancel := context.WithTimeout(ctx, r.h.opts.FinalizeTimeout)
				if err := model.Finalize(fctx); err != nil {
					r.logger.Warn().Err(err).Msg("speech model finalize failed")
				}
				cancel()
				finalizeDeadline = time.After(r.h.opts.FinalizeTimeout)
			}

		case ev, ok := <-events:
			if !ok {
				if finalizing {
					r.send(protocol.NewSessionEndedMessage(protocol.EndReasonUserInitiated))
					return outcomeCompleted
				}
				r.send(protocol.NewSessionEndedMessage(protocol.EndReasonModelEnded))
				return outcomeModelEnded
			}
			switch ev.Kind {
			case speech.EventTranscript:
				u := protocol.TranscriptUpdate{Speaker: ev.Speaker, Text: ev.Text, IsFinal: ev.IsFinal}
				r.acc.Add(u)
				r.send(&protocol.ServerMessage{TranscriptUpdate: &u})
			case speech.EventAudio:
				r.metrics.RecordAudioBytes("out", int64(len(ev.Audio)))
				r.send(protocol.NewAudioResponseMessage(ev.Audio))
			case speech.EventEnded:
				reason := ev.Reason
				if finalizing {
					reason = protocol.EndReasonUserInitiated
				}
				r.logger.Info().Str("reason", reason.String()).Msg("speech model ended the session")
				r.send(protocol.NewSessionEndedMessage(reason))
				if finalizing {
					return outcomeCompleted
				}
				return outcomeModelEnded
			case speech.EventError:
				r.logger.Error().Err(ev.Err).Msg("speech model error")
				r.metrics.RecordError("model_error", "speech")
				r.send(protocol.NewErrorMessage(protocol.CodeUpstream, "interviewer connection failed"))
				return outcomeModelError
			}

		case <-finalizeDeadline:
			r.logger.Warn().Dur("timeout", r.h.opts.FinalizeTimeout).Msg("finalize timed out, closing")
			r.send(protocol.NewSessionEndedMessage(protocol.EndReasonUserInitiated))
			return outcomeFinalizeTimeout
		}
	}
}

// readClient decodes client frames until the connection fails or done closes.
// The returned channel is closed when reading stops.
func (r *relay) readClient(done <-chan struct{}) <-chan *protocol.ClientMessage {
	out := make(chan *protocol.ClientMessage, 64)
	go func() {
		defer close(out)
		for {
			mt, data, err := r.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					r.logger.Warn().Err(err).Msg("client read error")
				}
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			msg, err := protocol.DecodeClientMessage(data)
			if err != nil {
				r.logger.Warn().Err(err).Msg("dropping malformed client message")
				continue
			}
			if msg.Empty() {
				continue
			}
			select {
			case out <- msg:
			case <-done:
				return
			}
		}
	}()
	return out
}

func (r *relay) send(msg *protocol.ServerMessage) {
	if r.clientGone {
		return
	}
	data, err := msg.MarshalWire()
	if err != nil {
		r.logger.Error().Err(err).Str("kind", msg.Kind()).Msg("failed to encode server message")
		return
	}
	_ = r.conn.SetWriteDeadline(time.Now().Add(r.h.opts.WriteTimeout))
	if err := r.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		r.logger.Warn().Err(err).Str("kind", msg.Kind()).Msg("failed to write to client")
		r.clientGone = true
	}
}

// reject sends an ErrorResponse and closes the channel.
func (r *relay) reject(code int32, message string) {
	r.send(protocol.NewErrorMessage(code, message))
	r.close(websocket.ClosePolicyViolation)
}

func (r *relay) close(code int) {
	if r.clientGone {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = r.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
	r.clientGone = true
}

func closeCode(outcome string) int {
	switch outcome {
	case outcomeModelError:
		return websocket.CloseInternalServerErr
	case outcomeShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

// finish persists the transcript and completes the interview after its last block.
func (r *relay) finish(ctx context.Context, ictx *protocol.GetContextResponse) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.h.opts.SubmitTimeout)
	defer cancel()

	blob, entries := r.acc.Flush()
	endedAt := time.Now()
	req := &protocol.SubmitTranscriptRequest{
		InterviewID: r.interviewID,
		Transcript:  blob,
		EndedAt:     endedAt,
		BlockNumber: r.block,
	}
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return r.h.backend.SubmitTranscript(ctx, req)
	}, r.h.opts.SubmitRetry, resilience.IsRetryableNetworkError)
	if err != nil {
		r.logger.Error().
			Err(err).
			Int("bytes", len(blob)).
			Int("entries", entries).
			Msg("failed to submit transcript")
		r.metrics.RecordError("submit_transcript", "backend")
		return
	}
	r.logger.Info().Int("bytes", len(blob)).Int("entries", entries).Msg("transcript submitted")

	if !lastBlock(r.block, ictx.TotalBlocks) {
		return
	}
	if err := r.h.backend.UpdateStatus(ctx, r.interviewID, protocol.StatusCompleted, endedAt); err != nil {
		r.logger.Error().Err(err).Msg("failed to mark interview completed")
		r.metrics.RecordError("update_status", "backend")
		return
	}
	r.logger.Info().Msg("interview completed")
}

// lastBlock reports whether finishing block completes the interview. Legacy
// interviews have no block and are always complete.
func lastBlock(block *int32, totalBlocks int32) bool {
	return block == nil || totalBlocks <= 0 || *block >= totalBlocks
}
