// Package session holds the client-side interview state machine. Reduce is a
// pure function: it never touches the network, the clock or the audio devices;
// side effects are returned as Commands for a driver to execute.
package session

import (
	"time"

	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/transcript"
)

// PauseDuration is how long the answer-timeout pause lasts before the block completes.
const PauseDuration = 3 * time.Second

// State is the progress variant of a session.
type State interface {
	Name() string
	isState()
}

// WaitingForConnection is the initial state and the state between blocks.
type WaitingForConnection struct {
	// TargetBlockIndex overrides the index carried by ConnectionReady when set.
	TargetBlockIndex *int
}

// Answering means the candidate is talking to the interviewer for BlockIndex.
type Answering struct {
	BlockIndex      int
	BlockStartTime  time.Time
	AnswerStartTime time.Time
}

// AnswerTimeoutPause is the short muted pause after the answer time limit elapsed.
type AnswerTimeoutPause struct {
	BlockIndex     int
	BlockStartTime time.Time
	PauseStartedAt time.Time
}

// BlockCompleteScreen waits for the candidate to continue to the next block.
type BlockCompleteScreen struct {
	CompletedBlockIndex int
}

// InterviewComplete is terminal.
type InterviewComplete struct{}

func (WaitingForConnection) Name() string { return "WAITING_FOR_CONNECTION" }
func (Answering) Name() string            { return "ANSWERING" }
func (AnswerTimeoutPause) Name() string   { return "ANSWER_TIMEOUT_PAUSE" }
func (BlockCompleteScreen) Name() string  { return "BLOCK_COMPLETE_SCREEN" }
func (InterviewComplete) Name() string    { return "INTERVIEW_COMPLETE" }

func (WaitingForConnection) isState() {}
func (Answering) isState()            {}
func (AnswerTimeoutPause) isState()   {}
func (BlockCompleteScreen) isState()  {}
func (InterviewComplete) isState()    {}

// ConnectionState mirrors the channel's lifecycle for display.
type ConnectionState string

const (
	ConnInitializing ConnectionState = "initializing"
	ConnConnecting   ConnectionState = "connecting"
	ConnLive         ConnectionState = "live"
	ConnEnding       ConnectionState = "ending"
	ConnError        ConnectionState = "error"
)

// Context is the per-interview configuration the reducer consults.
type Context struct {
	// AnswerTimeLimit of zero disables the answer timeout.
	AnswerTimeLimit time.Duration
	TotalBlocks     int
}

// Snapshot is everything the reducer owns.
type Snapshot struct {
	State       State
	Connection  ConnectionState
	Transcript  transcript.Buffer
	ElapsedTime time.Duration
	Err         string
}

// NewSnapshot returns the initial snapshot. A nil targetBlockIndex lets the
// first ConnectionReady pick the block.
func NewSnapshot(targetBlockIndex *int) Snapshot {
	return Snapshot{
		State:      WaitingForConnection{TargetBlockIndex: targetBlockIndex},
		Connection: ConnInitializing,
	}
}

// PendingUser is the candidate's in-progress recognition text.
func (s Snapshot) PendingUser() string { return s.Transcript.Pending(protocol.SpeakerUser) }

// PendingAI is the interviewer's in-progress generation text.
func (s Snapshot) PendingAI() string { return s.Transcript.Pending(protocol.SpeakerAI) }

// Done reports whether the session reached its terminal state.
func (s Snapshot) Done() bool {
	_, ok := s.State.(InterviewComplete)
	return ok
}
