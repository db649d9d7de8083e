package speech

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/prepwise/voice-interview/internal/audio"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/resilience"
)

// Transcription is one recognition result for user audio.
type Transcription struct {
	Text       string
	IsFinal    bool
	Confidence float64
	// StartTime and Duration are in seconds from stream start.
	StartTime float64
	Duration  float64
}

// InputTranscriber transcribes the user's side of a session.
type InputTranscriber interface {
	Start(ctx context.Context) error
	SendAudio(pcm []byte) error
	Results() <-chan Transcription
	// Finish asks the recognizer to flush pending results.
	Finish()
	Close() error
}

// DeepgramConfig configures the Deepgram streaming recognizer.
type DeepgramConfig struct {
	APIKey   string
	Model    string
	Language string
}

// messageCallbackHandler embeds the SDK default handler and overrides the
// callbacks we care about.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramTranscriber streams linear16 16 kHz audio to Deepgram.
type DeepgramTranscriber struct {
	cfg       DeepgramConfig
	reconnect *resilience.ReconnectConfig
	breaker   *resilience.CircuitBreaker
	logger    zerolog.Logger

	mu       sync.RWMutex
	client   *listenClient.WSCallback
	isActive bool
	results  chan Transcription

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDeepgramTranscriber creates an idle transcriber. Call Start to connect.
func NewDeepgramTranscriber(cfg DeepgramConfig, breaker *resilience.CircuitBreaker, reconnect *resilience.ReconnectConfig, logger zerolog.Logger) *DeepgramTranscriber {
	return &DeepgramTranscriber{
		cfg:       cfg,
		breaker:   breaker,
		reconnect: reconnect,
		logger:    logger.With().Str("component", "deepgram").Logger(),
		results:   make(chan Transcription, 100),
	}
}

// Start opens the streaming connection. ctx bounds the transcriber's lifetime.
func (d *DeepgramTranscriber) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.ctx == nil {
		d.ctx, d.cancel = context.WithCancel(ctx)
	}
	d.mu.Unlock()
	return d.connect()
}

func (d *DeepgramTranscriber) connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram transcriber is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     audio.InputSampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().Interface("response", errorResponse).Msg("deepgram error")
			d.breaker.RecordResult(false)

			select {
			case <-d.ctx.Done():
				return nil
			default:
				d.mu.Lock()
				d.isActive = false
				d.mu.Unlock()
				go d.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(d.ctx, d.cfg.APIKey, nil, tOptions, callback)
	if err != nil {
		d.breaker.RecordResult(false)
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true
	d.breaker.RecordResult(true)

	d.logger.Info().Str("model", d.cfg.Model).Str("language", d.cfg.Language).Msg("deepgram streaming started")
	return nil
}

func (d *DeepgramTranscriber) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" && !msg.IsFinal {
			return
		}

		startTime := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			startTime = alt.Words[0].Start
			duration = alt.Words[len(alt.Words)-1].End - startTime
		}

		result := Transcription{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			StartTime:  startTime,
			Duration:   duration,
		}

		select {
		case d.results <- result:
		default:
			d.logger.Warn().Msg("transcription channel full, dropping result")
		}

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("deepgram message")
	}
}

// SendAudio forwards a chunk through the circuit breaker.
func (d *DeepgramTranscriber) SendAudio(pcm []byte) error {
	return d.breaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram transcriber is not active")
		}
		if _, err := client.Write(pcm); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})
}

func (d *DeepgramTranscriber) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()
	if alreadyActive {
		return
	}

	err := resilience.Reconnect(d.ctx, "deepgram", func(context.Context) error {
		return d.connect()
	}, d.reconnect)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to reconnect Deepgram")
		observability.RecordError("reconnect_failed", "deepgram")
	}
}

func (d *DeepgramTranscriber) Results() <-chan Transcription { return d.results }

// Finish flushes pending results and ends the stream.
func (d *DeepgramTranscriber) Finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isActive {
		return
	}
	d.client.Finish()
	d.isActive = false
}

// Close stops reconnection and the stream.
func (d *DeepgramTranscriber) Close() error {
	d.mu.RLock()
	cancel := d.cancel
	d.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	d.Finish()
	return nil
}

// transcribingSession overlays user transcripts from an InputTranscriber on a
// model session that does not transcribe input itself.
type transcribingSession struct {
	inner Session
	tap   InputTranscriber
	drain time.Duration

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// WithInputTranscription wraps dialer so every session also streams user audio
// to a transcriber built by newTap.
func WithInputTranscription(dialer Dialer, newTap func() InputTranscriber) Dialer {
	return DialerFunc(func(ctx context.Context, cfg SessionConfig) (Session, error) {
		inner, err := dialer.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		tap := newTap()
		if err := tap.Start(ctx); err != nil {
			_ = inner.Close()
			return nil, fmt.Errorf("start input transcription: %w", err)
		}
		return newTranscribingSession(inner, tap, 500*time.Millisecond), nil
	})
}

func newTranscribingSession(inner Session, tap InputTranscriber, drain time.Duration) *transcribingSession {
	s := &transcribingSession{
		inner:  inner,
		tap:    tap,
		drain:  drain,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *transcribingSession) run() {
	defer close(s.events)
	defer s.tap.Close()

	modelEvents := s.inner.Events()
	results := s.tap.Results()
	var drain <-chan time.Time

	for {
		select {
		case ev, ok := <-modelEvents:
			if !ok {
				modelEvents = nil
				drain = time.After(s.drain)
				continue
			}
			if ev.Kind == EventTranscript && ev.Speaker != protocol.SpeakerAI {
				// input transcripts come from the tap only
				continue
			}
			if !emit(s.events, s.done, ev) {
				return
			}
		case r, ok := <-results:
			if !ok {
				results = nil
				if modelEvents == nil {
					return
				}
				continue
			}
			if !emit(s.events, s.done, userTranscript(r)) {
				return
			}
		case <-drain:
			return
		case <-s.done:
			return
		}
	}
}

func (s *transcribingSession) SendAudio(pcm []byte) error {
	if err := s.inner.SendAudio(pcm); err != nil {
		return err
	}
	if err := s.tap.SendAudio(pcm); err != nil {
		// the model keeps the conversation going without input transcripts
		observability.RecordError("tap_send_failed", "speech")
	}
	return nil
}

func (s *transcribingSession) Finalize(ctx context.Context) error {
	s.tap.Finish()
	return s.inner.Finalize(ctx)
}

func (s *transcribingSession) Events() <-chan Event { return s.events }

func (s *transcribingSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.inner.Close()
}

func userTranscript(r Transcription) Event {
	return Event{Kind: EventTranscript, Speaker: protocol.SpeakerUser, Text: r.Text, IsFinal: r.IsFinal}
}
