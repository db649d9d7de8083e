package backend

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/prepwise/voice-interview/internal/feedback"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/prompts"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/store"
)

// Service implements BackendServer over the store.
type Service struct {
	store    store.Store
	prompts  *prompts.Catalog
	enqueuer feedback.Enqueuer
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates the backend service. Transcript submissions enqueue
// feedback jobs on enqueuer.
func NewService(st store.Store, catalog *prompts.Catalog, enqueuer feedback.Enqueuer) *Service {
	if catalog == nil {
		catalog = prompts.Default()
	}
	return &Service{
		store:    st,
		prompts:  catalog,
		enqueuer: enqueuer,
		logger:   observability.GetLogger().With().Str("component", "backend").Logger(),
		now:      time.Now,
	}
}

var _ BackendServer = (*Service)(nil)

func (s *Service) GetContext(ctx context.Context, req *protocol.GetContextRequest) (*protocol.GetContextResponse, error) {
	iv, err := s.store.GetInterview(ctx, req.InterviewID, false)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &protocol.GetContextResponse{
		JobDescription: iv.JobDescription,
		Resume:         iv.Resume,
		Persona:        iv.Persona,
		DurationMs:     iv.DurationMs,
		TotalBlocks:    int32(len(iv.Blocks)),
	}
	if iv.Language != "" {
		resp.Language = &iv.Language
	}

	if iv.Legacy() {
		return resp, nil
	}
	if req.BlockNumber == nil {
		return nil, status.Error(codes.InvalidArgument, "block number is required for block interviews")
	}

	block, err := s.store.GetBlock(ctx, req.InterviewID, *req.BlockNumber)
	if err != nil {
		return nil, toStatus(err)
	}
	if iv.AnswerTimeLimitSec > 0 {
		resp.DurationMs = int64(iv.AnswerTimeLimitSec) * 1000
	}
	resp.Question = &block.Question

	prompt, err := s.prompts.SystemPrompt(prompts.SessionInput{
		PersonaID:       iv.Persona,
		JobDescription:  iv.JobDescription,
		Resume:          iv.Resume,
		Language:        iv.Language,
		Question:        block.Question,
		BlockNumber:     block.BlockNumber,
		TotalBlocks:     resp.TotalBlocks,
		DurationMinutes: int(resp.Duration().Round(time.Minute) / time.Minute),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	resp.SystemPrompt = &prompt
	return resp, nil
}

func (s *Service) UpdateStatus(ctx context.Context, req *protocol.UpdateStatusRequest) (*protocol.SuccessResponse, error) {
	if req.Status == protocol.StatusUnspecified {
		return nil, status.Error(codes.InvalidArgument, "status is required")
	}
	at := req.EndedAt
	if at.IsZero() {
		at = s.now()
	}
	if err := s.store.UpdateStatus(ctx, req.InterviewID, req.Status, at); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info().
		Str("interview_id", req.InterviewID).
		Str("status", req.Status.String()).
		Msg("interview status updated")
	return &protocol.SuccessResponse{Success: true}, nil
}

func (s *Service) SubmitTranscript(ctx context.Context, req *protocol.SubmitTranscriptRequest) (*protocol.SuccessResponse, error) {
	endedAt := req.EndedAt
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	block, err := s.store.SubmitTranscript(ctx, store.TranscriptSubmission{
		InterviewID: req.InterviewID,
		BlockNumber: req.BlockNumber,
		Transcript:  req.Transcript,
		EndedAt:     endedAt,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	job := feedback.Job{Kind: feedback.JobTranscript, ID: req.InterviewID}
	if block != nil {
		job = feedback.Job{Kind: feedback.JobBlock, ID: block.ID}
	}
	logger := s.logger.With().
		Str("interview_id", req.InterviewID).
		Int("bytes", len(req.Transcript)).
		Str("job", job.String()).
		Logger()

	// Enqueue failures do not fail the submission.
	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(ctx, job); err != nil {
			logger.Error().Err(err).Msg("failed to enqueue feedback job")
		}
	}
	logger.Info().Msg("transcript stored")
	return &protocol.SuccessResponse{Success: true}, nil
}

func (s *Service) SubmitFeedback(ctx context.Context, req *protocol.SubmitFeedbackRequest) (*protocol.SuccessResponse, error) {
	fb := &store.InterviewFeedback{
		ID:          uuid.NewString(),
		InterviewID: req.InterviewID,
		FeedbackFields: store.FeedbackFields{
			Summary:                  req.Summary,
			Strengths:                req.Strengths,
			ContentAndStructure:      req.ContentAndStructure,
			CommunicationAndDelivery: req.CommunicationAndDelivery,
			Presentation:             req.Presentation,
		},
	}
	created, err := s.store.CompleteWithFeedback(ctx, fb, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "interview not found")
		}
		return nil, toStatus(err)
	}
	s.logger.Info().Str("interview_id", req.InterviewID).Bool("created", created).Msg("interview feedback submitted")
	return &protocol.SuccessResponse{Success: true}, nil
}
