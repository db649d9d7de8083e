// Package store persists interviews, blocks and feedback.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/prepwise/voice-interview/internal/protocol"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidTransition is returned when a terminal interview would be reopened.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// TranscriptSubmission stores one session's transcript. A nil BlockNumber
// targets the legacy interview column.
type TranscriptSubmission struct {
	InterviewID string
	BlockNumber *int32
	Transcript  []byte
	EndedAt     time.Time
}

// Store is the persistence contract shared by the control API, the backend
// RPC service and the feedback pipeline.
type Store interface {
	// CreateInterview inserts iv unless (UserID, IdempotencyKey) exists, in
	// which case the existing row is returned with created=false.
	CreateInterview(ctx context.Context, iv *Interview) (out *Interview, created bool, err error)
	// GetInterview loads the interview with blocks ordered by number.
	GetInterview(ctx context.Context, id string, withFeedback bool) (*Interview, error)
	GetBlock(ctx context.Context, interviewID string, number int32) (*Block, error)
	GetBlockByID(ctx context.Context, blockID string) (*Block, error)
	// ListBlocks returns blocks ordered by number with feedback preloaded.
	ListBlocks(ctx context.Context, interviewID string) ([]Block, error)

	UpdateStatus(ctx context.Context, interviewID string, status protocol.InterviewStatus, at time.Time) error
	// SubmitTranscript saves the transcript and completes the block in one
	// transaction. It returns the block, or nil for legacy submissions.
	SubmitTranscript(ctx context.Context, sub TranscriptSubmission) (*Block, error)

	// UpsertBlockFeedback creates fb or does nothing when the block already has feedback.
	UpsertBlockFeedback(ctx context.Context, fb *BlockFeedback) (created bool, err error)
	GetInterviewFeedback(ctx context.Context, interviewID string) (*InterviewFeedback, error)
	// CompleteWithFeedback upserts fb and marks the interview COMPLETED in one transaction.
	CompleteWithFeedback(ctx context.Context, fb *InterviewFeedback, at time.Time) (created bool, err error)

	Ping(ctx context.Context) error
}

// nextStatus applies the transition rules shared by both stores.
func nextStatus(current, next protocol.InterviewStatus) error {
	if current.Terminal() && !next.Terminal() {
		return ErrInvalidTransition
	}
	return nil
}

// storeInterviewTranscript keeps a transcript on the interview row. A legacy
// interview is completed in the same write unless it is already terminal.
func storeInterviewTranscript(iv *Interview, sub TranscriptSubmission, legacy bool) {
	iv.Transcript = sub.Transcript
	status := iv.InterviewStatus()
	if legacy && !status.Terminal() {
		status = protocol.StatusCompleted
	}
	if status.Terminal() {
		stamp(iv, status, sub.EndedAt)
	} else if iv.EndedAt == nil {
		ended := sub.EndedAt
		iv.EndedAt = &ended
	}
}

func stamp(iv *Interview, status protocol.InterviewStatus, at time.Time) {
	iv.Status = status.String()
	if status == protocol.StatusInProgress && iv.StartedAt == nil {
		iv.StartedAt = &at
	}
	if status.Terminal() && iv.EndedAt == nil {
		iv.EndedAt = &at
	}
}
