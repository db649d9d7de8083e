package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prepwise/voice-interview/internal/audio"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/resilience"
)

const (
	writeWait = 10 * time.Second
	// eventBuffer bounds model events queued ahead of the relay.
	eventBuffer = 256
)

// modelMessage is the JSON envelope exchanged with the realtime model.
type modelMessage struct {
	Type    string         `json:"type"`
	Session *modelSetup    `json:"session,omitempty"`
	Audio   string         `json:"audio,omitempty"`
	Speaker string         `json:"speaker,omitempty"`
	Text    string         `json:"text,omitempty"`
	Final   bool           `json:"final,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Error   *modelErrorMsg `json:"error,omitempty"`
}

type modelSetup struct {
	Model            string `json:"model"`
	Voice            string `json:"voice,omitempty"`
	Instructions     string `json:"instructions"`
	Language         string `json:"language,omitempty"`
	InputSampleRate  int    `json:"input_sample_rate"`
	OutputSampleRate int    `json:"output_sample_rate"`
	MaxDurationMs    int64  `json:"max_duration_ms,omitempty"`
	TranscribeInput  bool   `json:"transcribe_input"`
}

type modelErrorMsg struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Message types.
const (
	msgSessionStart = "session.start"
	msgInputAudio   = "input_audio"
	msgFinalize     = "input_finalize"
	msgTranscript   = "transcript"
	msgAudio        = "audio"
	msgFinalized    = "finalized"
	msgSessionEnded = "session.ended"
	msgError        = "error"
)

// LiveConfig configures the realtime model connection.
type LiveConfig struct {
	URL    string
	APIKey string
	Model  string
	Voice  string
	// TranscribeInput asks the model to transcribe user audio itself. Disable it
	// when a separate input transcriber is attached.
	TranscribeInput bool
}

// LiveDialer opens realtime model sessions over a WebSocket.
type LiveDialer struct {
	cfg       LiveConfig
	dialer    *websocket.Dialer
	breaker   *resilience.CircuitBreaker
	reconnect *resilience.ReconnectConfig
}

// NewLiveDialer creates a dialer guarded by breaker. A nil reconnect config
// dials once.
func NewLiveDialer(cfg LiveConfig, breaker *resilience.CircuitBreaker, reconnect *resilience.ReconnectConfig) *LiveDialer {
	if reconnect == nil {
		reconnect = &resilience.ReconnectConfig{MaxAttempts: 1}
	}
	return &LiveDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		breaker:   breaker,
		reconnect: reconnect,
	}
}

// Dial connects and sends the session setup built from cfg.
func (d *LiveDialer) Dial(ctx context.Context, cfg SessionConfig) (Session, error) {
	header := http.Header{}
	if d.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	var conn *websocket.Conn
	dial := func(ctx context.Context) error {
		return d.breaker.Call(func() error {
			c, resp, err := d.dialer.DialContext(ctx, d.cfg.URL, header)
			if err != nil {
				if resp != nil {
					return fmt.Errorf("dial speech model: %w (status %d)", err, resp.StatusCode)
				}
				return fmt.Errorf("dial speech model: %w", err)
			}
			conn = c
			return nil
		})
	}
	if err := resilience.Reconnect(ctx, "speech-model", dial, d.reconnect); err != nil {
		return nil, err
	}

	s := newLiveSession(conn, observability.SessionLogger("", cfg.InterviewID, cfg.BlockNumber))
	setup := modelMessage{
		Type: msgSessionStart,
		Session: &modelSetup{
			Model:            d.cfg.Model,
			Voice:            d.cfg.Voice,
			Instructions:     Instructions(cfg),
			Language:         cfg.Language,
			InputSampleRate:  audio.InputSampleRate,
			OutputSampleRate: audio.OutputSampleRate,
			MaxDurationMs:    cfg.Duration.Milliseconds(),
			TranscribeInput:  d.cfg.TranscribeInput,
		},
	}
	if err := s.write(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session setup: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// Instructions renders the system instructions for a session.
func Instructions(cfg SessionConfig) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	var b strings.Builder
	persona := cfg.Persona
	if persona == "" {
		persona = "a professional interviewer"
	}
	fmt.Fprintf(&b, "You are %s conducting a spoken mock interview.\n", persona)
	if cfg.JobDescription != "" {
		fmt.Fprintf(&b, "\nJob description:\n%s\n", cfg.JobDescription)
	}
	if cfg.Resume != "" {
		fmt.Fprintf(&b, "\nCandidate resume:\n%s\n", cfg.Resume)
	}
	if cfg.Question != "" {
		fmt.Fprintf(&b, "\nAsk this question and follow up on the answer:\n%s\n", cfg.Question)
	}
	if cfg.Duration > 0 {
		fmt.Fprintf(&b, "\nKeep the conversation within %d minutes.\n", int(cfg.Duration.Minutes()))
	}
	return b.String()
}

type liveSession struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}

	finalizing atomic.Bool
	closeOnce  sync.Once
}

func newLiveSession(conn *websocket.Conn, logger zerolog.Logger) *liveSession {
	return &liveSession{
		conn:   conn,
		logger: logger.With().Str("component", "speech-live").Logger(),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (s *liveSession) write(msg modelMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *liveSession) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *liveSession) SendAudio(pcm []byte) error {
	if s.closed() || s.finalizing.Load() {
		return ErrSessionClosed
	}
	return s.write(modelMessage{Type: msgInputAudio, Audio: base64.StdEncoding.EncodeToString(pcm)})
}

func (s *liveSession) Finalize(ctx context.Context) error {
	if s.closed() {
		return ErrSessionClosed
	}
	if !s.finalizing.CompareAndSwap(false, true) {
		return nil
	}
	return s.write(modelMessage{Type: msgFinalize})
}

func (s *liveSession) Events() <-chan Event { return s.events }

func (s *liveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *liveSession) readLoop() {
	defer close(s.events)

	for {
		var msg modelMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.handleReadError(err)
			return
		}

		switch msg.Type {
		case msgTranscript:
			speaker := parseSpeaker(msg.Speaker)
			if speaker == protocol.SpeakerUnspecified {
				s.logger.Debug().Str("speaker", msg.Speaker).Msg("dropping transcript with unknown speaker")
				continue
			}
			if !emit(s.events, s.done, Event{Kind: EventTranscript, Speaker: speaker, Text: msg.Text, IsFinal: msg.Final}) {
				return
			}

		case msgAudio:
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.logger.Warn().Err(err).Msg("dropping undecodable model audio")
				continue
			}
			if !emit(s.events, s.done, Event{Kind: EventAudio, Audio: pcm}) {
				return
			}

		case msgFinalized:
			return

		case msgSessionEnded:
			emit(s.events, s.done, Event{Kind: EventEnded, Reason: parseReason(msg.Reason)})
			return

		case msgError:
			text := "speech model error"
			if msg.Error != nil && msg.Error.Message != "" {
				text = msg.Error.Message
			}
			emit(s.events, s.done, Event{Kind: EventError, Err: errors.New(text)})
			return

		default:
			s.logger.Debug().Str("type", msg.Type).Msg("ignoring model message")
		}
	}
}

func (s *liveSession) handleReadError(err error) {
	if s.closed() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		if !s.finalizing.Load() {
			emit(s.events, s.done, Event{Kind: EventEnded, Reason: protocol.EndReasonModelEnded})
		}
		return
	}
	s.logger.Warn().Err(err).Msg("speech model connection lost")
	emit(s.events, s.done, Event{Kind: EventError, Err: fmt.Errorf("speech model connection: %w", err)})
}

func parseSpeaker(s string) protocol.Speaker {
	switch strings.ToLower(s) {
	case "user", "candidate":
		return protocol.SpeakerUser
	case "ai", "assistant", "model":
		return protocol.SpeakerAI
	default:
		return protocol.SpeakerUnspecified
	}
}

func parseReason(s string) protocol.EndReason {
	switch strings.ToLower(s) {
	case "timeout", "max_duration", "idle":
		return protocol.EndReasonTimeout
	case "user", "user_initiated":
		return protocol.EndReasonUserInitiated
	default:
		return protocol.EndReasonModelEnded
	}
}
