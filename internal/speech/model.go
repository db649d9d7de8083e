// Package speech connects relay sessions to a generative speech model.
//
// A Dialer opens one Session per interview block. The session accepts 16 kHz
// PCM16 user audio and emits transcript, audio (24 kHz PCM16), end and error
// events on a single channel that is closed when the session is over.
package speech

import (
	"context"
	"errors"
	"time"

	"github.com/prepwise/voice-interview/internal/protocol"
)

var (
	// ErrSessionClosed is returned when writing to a session after Close or Finalize.
	ErrSessionClosed = errors.New("speech session closed")
	// ErrUnknownProvider is returned by NewDialer for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown speech provider")
)

// EventKind tags a model Event.
type EventKind int

const (
	EventTranscript EventKind = iota + 1
	EventAudio
	EventEnded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventTranscript:
		return "transcript"
	case EventAudio:
		return "audio"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one message from the speech model.
type Event struct {
	Kind EventKind

	// EventTranscript
	Speaker protocol.Speaker
	Text    string
	IsFinal bool

	// EventAudio, 24 kHz mono PCM16
	Audio []byte

	// EventEnded
	Reason protocol.EndReason

	// EventError
	Err error
}

// SessionConfig seeds a model session with the interview context.
type SessionConfig struct {
	InterviewID    string
	BlockNumber    *int32
	JobDescription string
	Resume         string
	Persona        string
	SystemPrompt   string
	Language       string
	Question       string
	// Duration is the target interview length; zero means unbounded.
	Duration time.Duration
}

// Session is one live conversation with the model.
type Session interface {
	// SendAudio forwards a chunk of 16 kHz PCM16 user audio.
	SendAudio(pcm []byte) error
	// Finalize stops input. The model flushes its final transcript pieces and
	// then closes Events.
	Finalize(ctx context.Context) error
	// Events is closed when the session ends for any reason.
	Events() <-chan Event
	Close() error
}

// Dialer opens model sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg SessionConfig) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, cfg SessionConfig) (Session, error) {
	return f(ctx, cfg)
}

// emit delivers ev unless done is closed first.
func emit(events chan<- Event, done <-chan struct{}, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-done:
		return false
	}
}
