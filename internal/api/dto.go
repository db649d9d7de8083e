package api

import (
	"time"

	"github.com/prepwise/voice-interview/internal/store"
)

// CreateInterviewRequest creates an interview. Without blocks the interview
// runs as a single legacy session.
type CreateInterviewRequest struct {
	IdempotencyKey     string         `json:"idempotencyKey" validate:"required,max=128"`
	JobDescription     string         `json:"jobDescription" validate:"required"`
	Resume             string         `json:"resume"`
	Persona            string         `json:"persona" validate:"max=100"`
	DurationMs         int64          `json:"durationMs" validate:"gte=0"`
	Language           string         `json:"language" validate:"omitempty,max=16"`
	AnswerTimeLimitSec int            `json:"answerTimeLimitSec" validate:"gte=0,lte=3600"`
	Blocks             []BlockRequest `json:"blocks" validate:"max=20,dive"`
}

type BlockRequest struct {
	Question string `json:"question" validate:"required"`
}

func (r *CreateInterviewRequest) toModel(userID string) *store.Interview {
	iv := &store.Interview{
		UserID:             userID,
		IdempotencyKey:     r.IdempotencyKey,
		JobDescription:     r.JobDescription,
		Resume:             r.Resume,
		Persona:            r.Persona,
		DurationMs:         r.DurationMs,
		Language:           r.Language,
		AnswerTimeLimitSec: r.AnswerTimeLimitSec,
	}
	for i, b := range r.Blocks {
		iv.Blocks = append(iv.Blocks, store.Block{BlockNumber: int32(i + 1), Question: b.Question})
	}
	return iv
}

type InterviewResponse struct {
	ID                 string                `json:"id"`
	Status             string                `json:"status"`
	JobDescription     string                `json:"jobDescription"`
	Persona            string                `json:"persona,omitempty"`
	DurationMs         int64                 `json:"durationMs"`
	Language           string                `json:"language,omitempty"`
	AnswerTimeLimitSec int                   `json:"answerTimeLimitSec"`
	StartedAt          *time.Time            `json:"startedAt,omitempty"`
	EndedAt            *time.Time            `json:"endedAt,omitempty"`
	CreatedAt          time.Time             `json:"createdAt"`
	Blocks             []BlockResponse       `json:"blocks"`
	Feedback           *store.FeedbackFields `json:"feedback,omitempty"`
}

type BlockResponse struct {
	ID          string               `json:"id"`
	BlockNumber int32                `json:"blockNumber"`
	Question    string               `json:"question"`
	Status      string               `json:"status"`
	Feedback    *BlockFeedbackResult `json:"feedback,omitempty"`
}

type BlockFeedbackResult struct {
	Score int `json:"score"`
	store.FeedbackFields
}

func toInterviewResponse(iv *store.Interview) InterviewResponse {
	resp := InterviewResponse{
		ID:                 iv.ID,
		Status:             iv.Status,
		JobDescription:     iv.JobDescription,
		Persona:            iv.Persona,
		DurationMs:         iv.DurationMs,
		Language:           iv.Language,
		AnswerTimeLimitSec: iv.AnswerTimeLimitSec,
		StartedAt:          iv.StartedAt,
		EndedAt:            iv.EndedAt,
		CreatedAt:          iv.CreatedAt,
		Blocks:             make([]BlockResponse, 0, len(iv.Blocks)),
	}
	for _, b := range iv.Blocks {
		br := BlockResponse{ID: b.ID, BlockNumber: b.BlockNumber, Question: b.Question, Status: b.Status}
		if b.Feedback != nil {
			br.Feedback = &BlockFeedbackResult{Score: b.Feedback.Score, FeedbackFields: b.Feedback.FeedbackFields}
		}
		resp.Blocks = append(resp.Blocks, br)
	}
	if iv.Feedback != nil {
		fields := iv.Feedback.FeedbackFields
		resp.Feedback = &fields
	}
	return resp
}

// TokenResponse carries a freshly minted bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	// WorkerURL is where the websocket token is presented.
	WorkerURL string `json:"workerUrl,omitempty"`
}

// Response is the envelope every endpoint returns.
type Response[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

func success[T any](message string, data T) Response[T] {
	return Response[T]{Success: true, Message: message, Data: data}
}
