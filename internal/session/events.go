package session

import (
	"fmt"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// Event is anything the reducer reacts to.
type Event interface {
	isEvent()
}

// Progress events.
type (
	// ConnectionReady signals the client is ready to run a block. InitialBlockIndex
	// is ignored when the waiting state carries a target index.
	ConnectionReady struct{ InitialBlockIndex int }

	// Tick is the 250ms timer used for the answer and pause deadlines.
	Tick struct{}

	UserClickedNext     struct{}
	UserClickedContinue struct{}

	// InterviewEnded means the server ended the session on its own.
	InterviewEnded struct{}

	ConnectionError struct{ Err string }

	DevForceAnswerTimeout struct{}
	DevForceBlockComplete struct{}
)

// Driver events. These update the orthogonal snapshot fields only.
type (
	ConnectionStateChanged struct{ State ConnectionState }

	TranscriptPartial struct {
		Speaker protocol.Speaker
		Text    string
	}

	TranscriptCommit struct {
		Speaker protocol.Speaker
		Text    string
	}

	// TimerTick is the 1s elapsed-time counter.
	TimerTick struct{}
)

func (ConnectionReady) isEvent()        {}
func (Tick) isEvent()                   {}
func (UserClickedNext) isEvent()        {}
func (UserClickedContinue) isEvent()    {}
func (InterviewEnded) isEvent()         {}
func (ConnectionError) isEvent()        {}
func (DevForceAnswerTimeout) isEvent()  {}
func (DevForceBlockComplete) isEvent()  {}
func (ConnectionStateChanged) isEvent() {}
func (TranscriptPartial) isEvent()      {}
func (TranscriptCommit) isEvent()       {}
func (TimerTick) isEvent()              {}

// TranscriptEvent converts a wire update into the matching driver event.
func TranscriptEvent(u protocol.TranscriptUpdate) Event {
	if u.IsFinal {
		return TranscriptCommit{Speaker: u.Speaker, Text: u.Text}
	}
	return TranscriptPartial{Speaker: u.Speaker, Text: u.Text}
}

// EventName is used for logging.
func EventName(e Event) string {
	switch e := e.(type) {
	case ConnectionReady:
		return fmt.Sprintf("CONNECTION_READY{%d}", e.InitialBlockIndex)
	case Tick:
		return "TICK"
	case UserClickedNext:
		return "USER_CLICKED_NEXT"
	case UserClickedContinue:
		return "USER_CLICKED_CONTINUE"
	case InterviewEnded:
		return "INTERVIEW_ENDED"
	case ConnectionError:
		return "CONNECTION_ERROR"
	case DevForceAnswerTimeout:
		return "DEV_FORCE_ANSWER_TIMEOUT"
	case DevForceBlockComplete:
		return "DEV_FORCE_BLOCK_COMPLETE"
	case ConnectionStateChanged:
		return "CONNECTION_STATE_CHANGED"
	case TranscriptPartial:
		return "TRANSCRIPT_PARTIAL"
	case TranscriptCommit:
		return "TRANSCRIPT_COMMIT"
	case TimerTick:
		return "TIMER_TICK"
	default:
		return fmt.Sprintf("%T", e)
	}
}
