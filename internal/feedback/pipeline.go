package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/prompts"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/store"
)

// Pipeline runs feedback jobs against the store.
type Pipeline struct {
	store    store.Store
	prompts  *prompts.Catalog
	gen      Generator
	enqueuer Enqueuer
	logger   zerolog.Logger
	now      func() time.Time
}

// NewPipeline wires a pipeline. enqueuer receives follow-up interview jobs;
// when nil they run inline.
func NewPipeline(st store.Store, catalog *prompts.Catalog, gen Generator, enqueuer Enqueuer) *Pipeline {
	if catalog == nil {
		catalog = prompts.Default()
	}
	return &Pipeline{
		store:    st,
		prompts:  catalog,
		gen:      gen,
		enqueuer: enqueuer,
		logger:   observability.GetLogger().With().Str("component", "feedback").Logger(),
		now:      time.Now,
	}
}

// SetEnqueuer replaces the follow-up enqueuer. Used when the queue is built
// after the pipeline.
func (p *Pipeline) SetEnqueuer(e Enqueuer) { p.enqueuer = e }

// Handle dispatches job. It is the queue consumer's Handler.
func (p *Pipeline) Handle(ctx context.Context, job Job) error {
	var err error
	switch job.Kind {
	case JobBlock:
		err = p.GenerateBlockFeedback(ctx, job.ID)
	case JobInterview:
		err = p.MaybeGenerateInterviewFeedback(ctx, job.ID)
	case JobTranscript:
		err = p.GenerateInterviewTranscriptFeedback(ctx, job.ID)
	default:
		err = job.validate()
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordFeedbackJob(string(job.Kind), outcome)
	return err
}

// GenerateBlockFeedback reviews one answered block and then checks whether
// the whole interview can be summarised.
func (p *Pipeline) GenerateBlockFeedback(ctx context.Context, blockID string) error {
	ctx, span := observability.StartSpan(ctx, "feedback.GenerateBlockFeedback")
	defer span.End()
	span.SetAttributes(attribute.String("block_id", blockID))
	logger := p.logger.With().Str("block_id", blockID).Logger()

	block, err := p.store.GetBlockByID(ctx, blockID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Msg("block not found, skipping feedback")
		return nil
	}
	if err != nil {
		return fail(span, fmt.Errorf("load block: %w", err))
	}
	if block.Feedback != nil {
		logger.Debug().Msg("block already has feedback")
		return p.followUp(ctx, block.InterviewID)
	}

	text, ok := p.transcriptText(logger, block.Transcript)
	if !ok {
		return nil
	}

	iv, err := p.store.GetInterview(ctx, block.InterviewID, false)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Str("interview_id", block.InterviewID).Msg("interview not found, skipping feedback")
		return nil
	}
	if err != nil {
		return fail(span, fmt.Errorf("load interview: %w", err))
	}

	prompt, err := p.prompts.BlockFeedbackPrompt(prompts.BlockFeedbackInput{
		JobDescription: iv.JobDescription,
		Question:       block.Question,
		Transcript:     text,
	})
	if err != nil {
		return fail(span, err)
	}

	res, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		return fail(span, fmt.Errorf("generate block feedback: %w", err))
	}

	created, err := p.store.UpsertBlockFeedback(ctx, &store.BlockFeedback{
		ID:             uuid.NewString(),
		BlockID:        block.ID,
		InterviewID:    block.InterviewID,
		Score:          res.Score,
		FeedbackFields: res.Fields(),
	})
	if err != nil {
		return fail(span, fmt.Errorf("save block feedback: %w", err))
	}
	logger.Info().
		Bool("created", created).
		Int32("block_number", block.BlockNumber).
		Int("score", res.Score).
		Msg("block feedback stored")

	return p.followUp(ctx, block.InterviewID)
}

// MaybeGenerateInterviewFeedback writes the holistic review once every block
// has feedback, completing the interview in the same transaction.
func (p *Pipeline) MaybeGenerateInterviewFeedback(ctx context.Context, interviewID string) error {
	ctx, span := observability.StartSpan(ctx, "feedback.MaybeGenerateInterviewFeedback")
	defer span.End()
	span.SetAttributes(attribute.String("interview_id", interviewID))
	logger := p.logger.With().Str("interview_id", interviewID).Logger()

	iv, err := p.store.GetInterview(ctx, interviewID, true)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Msg("interview not found, skipping feedback")
		return nil
	}
	if err != nil {
		return fail(span, fmt.Errorf("load interview: %w", err))
	}
	if iv.Feedback != nil {
		logger.Debug().Msg("interview already has feedback")
		return nil
	}
	if iv.Legacy() {
		return p.GenerateInterviewTranscriptFeedback(ctx, interviewID)
	}

	blocks, err := p.store.ListBlocks(ctx, interviewID)
	if err != nil {
		return fail(span, fmt.Errorf("list blocks: %w", err))
	}
	summaries := make([]prompts.BlockSummary, 0, len(blocks))
	for _, b := range blocks {
		if b.Feedback == nil {
			logger.Debug().Int32("block_number", b.BlockNumber).Msg("waiting for block feedback")
			return nil
		}
		summaries = append(summaries, prompts.BlockSummary{
			Number:                   b.BlockNumber,
			Question:                 b.Question,
			Summary:                  b.Feedback.Summary,
			Strengths:                b.Feedback.Strengths,
			ContentAndStructure:      b.Feedback.ContentAndStructure,
			CommunicationAndDelivery: b.Feedback.CommunicationAndDelivery,
			Presentation:             b.Feedback.Presentation,
		})
	}

	prompt, err := p.prompts.InterviewFeedbackPrompt(prompts.InterviewFeedbackInput{
		JobDescription: iv.JobDescription,
		Blocks:         summaries,
	})
	if err != nil {
		return fail(span, err)
	}
	return p.complete(ctx, span, logger, interviewID, prompt)
}

// GenerateInterviewTranscriptFeedback reviews a legacy interview whose
// transcript sits on the interview row.
func (p *Pipeline) GenerateInterviewTranscriptFeedback(ctx context.Context, interviewID string) error {
	ctx, span := observability.StartSpan(ctx, "feedback.GenerateInterviewTranscriptFeedback")
	defer span.End()
	span.SetAttributes(attribute.String("interview_id", interviewID))
	logger := p.logger.With().Str("interview_id", interviewID).Logger()

	iv, err := p.store.GetInterview(ctx, interviewID, true)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Msg("interview not found, skipping feedback")
		return nil
	}
	if err != nil {
		return fail(span, fmt.Errorf("load interview: %w", err))
	}
	if iv.Feedback != nil {
		logger.Debug().Msg("interview already has feedback")
		return nil
	}
	if !iv.Legacy() {
		logger.Warn().Msg("interview has blocks, transcript feedback skipped")
		return nil
	}

	text, ok := p.transcriptText(logger, iv.Transcript)
	if !ok {
		return nil
	}
	prompt, err := p.prompts.TranscriptFeedbackPrompt(prompts.TranscriptFeedbackInput{
		JobDescription: iv.JobDescription,
		Transcript:     text,
	})
	if err != nil {
		return fail(span, err)
	}
	return p.complete(ctx, span, logger, interviewID, prompt)
}

func (p *Pipeline) complete(ctx context.Context, span trace.Span, logger zerolog.Logger, interviewID, prompt string) error {
	res, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		return fail(span, fmt.Errorf("generate interview feedback: %w", err))
	}
	created, err := p.store.CompleteWithFeedback(ctx, &store.InterviewFeedback{
		ID:             uuid.NewString(),
		InterviewID:    interviewID,
		FeedbackFields: res.Fields(),
	}, p.now())
	if err != nil {
		return fail(span, fmt.Errorf("save interview feedback: %w", err))
	}
	logger.Info().Bool("created", created).Msg("interview feedback stored")
	return nil
}

// transcriptText decodes a stored blob. Missing or malformed transcripts are
// logged and reported as not ok.
func (p *Pipeline) transcriptText(logger zerolog.Logger, blob []byte) (string, bool) {
	entries, err := protocol.DecodeTranscript(blob)
	if errors.Is(err, protocol.ErrEmptyTranscript) {
		logger.Info().Msg("transcript is empty, skipping feedback")
		return "", false
	}
	if err != nil {
		logger.Warn().Err(err).Msg("malformed transcript, skipping feedback")
		observability.RecordFeedbackJob("decode", "skipped")
		return "", false
	}
	return protocol.FormatTranscript(entries), true
}

func (p *Pipeline) followUp(ctx context.Context, interviewID string) error {
	job := Job{Kind: JobInterview, ID: interviewID}
	if p.enqueuer == nil {
		return p.MaybeGenerateInterviewFeedback(ctx, interviewID)
	}
	if err := p.enqueuer.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", job, err)
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
