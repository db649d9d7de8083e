package feedback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/store"
)

type fakeGenerator struct {
	calls   atomic.Int32
	err     error
	prompts chan string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (Result, error) {
	g.calls.Add(1)
	if g.prompts != nil {
		select {
		case g.prompts <- prompt:
		default:
		}
	}
	if g.err != nil {
		return Result{}, g.err
	}
	return Result{
		Summary:                  "solid answer",
		Strengths:                "clear structure",
		ContentAndStructure:      "used STAR",
		CommunicationAndDelivery: "steady pace",
		Presentation:             "confident",
		Score:                    7,
	}, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func (q *recordingQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}

func sampleTranscript() []byte {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return protocol.EncodeTranscript([]protocol.TranscriptEntry{
		{Speaker: protocol.SpeakerAI, Text: "Tell me about a conflict.", Timestamp: at, IsFinal: true},
		{Speaker: protocol.SpeakerUser, Text: "I once disagreed with a lead.", Timestamp: at.Add(2 * time.Second), IsFinal: true},
	})
}

func seedInterview(t *testing.T, st store.Store, blocks int) *store.Interview {
	t.Helper()
	iv := &store.Interview{
		UserID:         "user-1",
		IdempotencyKey: t.Name(),
		JobDescription: "Backend engineer",
		Persona:        "mentor",
	}
	for i := 1; i <= blocks; i++ {
		iv.Blocks = append(iv.Blocks, store.Block{BlockNumber: int32(i), Question: "Question"})
	}
	out, created, err := st.CreateInterview(context.Background(), iv)
	require.NoError(t, err)
	require.True(t, created)
	return out
}

func submit(t *testing.T, st store.Store, interviewID string, block *int32, blob []byte) *store.Block {
	t.Helper()
	b, err := st.SubmitTranscript(context.Background(), store.TranscriptSubmission{
		InterviewID: interviewID,
		BlockNumber: block,
		Transcript:  blob,
		EndedAt:     time.Now(),
	})
	require.NoError(t, err)
	return b
}

func TestGenerateBlockFeedbackStoresAndEnqueuesFollowUp(t *testing.T) {
	st := store.NewMemStore()
	gen := &fakeGenerator{prompts: make(chan string, 1)}
	q := &recordingQueue{}
	p := NewPipeline(st, nil, gen, q)

	iv := seedInterview(t, st, 2)
	b := submit(t, st, iv.ID, protocol.BlockNumber(1), sampleTranscript())

	require.NoError(t, p.GenerateBlockFeedback(context.Background(), b.ID))

	blocks, err := st.ListBlocks(context.Background(), iv.ID)
	require.NoError(t, err)
	require.NotNil(t, blocks[0].Feedback)
	assert.Equal(t, 7, blocks[0].Feedback.Score)
	assert.Nil(t, blocks[1].Feedback)
	assert.Equal(t, []Job{{Kind: JobInterview, ID: iv.ID}}, q.Jobs())
	assert.Contains(t, <-gen.prompts, "I once disagreed with a lead.")
}

func TestGenerateBlockFeedbackSkipsUnusableTranscripts(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"malformed", []byte{0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemStore()
			gen := &fakeGenerator{}
			q := &recordingQueue{}
			p := NewPipeline(st, nil, gen, q)

			iv := seedInterview(t, st, 1)
			b := submit(t, st, iv.ID, protocol.BlockNumber(1), tt.blob)

			require.NoError(t, p.GenerateBlockFeedback(context.Background(), b.ID))
			assert.Zero(t, gen.calls.Load())
			assert.Empty(t, q.Jobs())

			got, err := st.GetInterview(context.Background(), iv.ID, true)
			require.NoError(t, err)
			assert.Equal(t, protocol.StatusPending.String(), got.Status)
		})
	}
}

func TestGenerateBlockFeedbackMissingBlock(t *testing.T) {
	p := NewPipeline(store.NewMemStore(), nil, &fakeGenerator{}, &recordingQueue{})
	assert.NoError(t, p.GenerateBlockFeedback(context.Background(), "missing"))
}

func TestGenerateBlockFeedbackGeneratorErrorPropagates(t *testing.T) {
	st := store.NewMemStore()
	boom := errors.New("model unavailable")
	q := &recordingQueue{}
	p := NewPipeline(st, nil, &fakeGenerator{err: boom}, q)

	iv := seedInterview(t, st, 1)
	b := submit(t, st, iv.ID, protocol.BlockNumber(1), sampleTranscript())

	err := p.GenerateBlockFeedback(context.Background(), b.ID)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, q.Jobs())

	blocks, err := st.ListBlocks(context.Background(), iv.ID)
	require.NoError(t, err)
	assert.Nil(t, blocks[0].Feedback)
}

func TestGenerateBlockFeedbackRedeliveryIsNoop(t *testing.T) {
	st := store.NewMemStore()
	gen := &fakeGenerator{}
	q := &recordingQueue{}
	p := NewPipeline(st, nil, gen, q)

	iv := seedInterview(t, st, 2)
	b := submit(t, st, iv.ID, protocol.BlockNumber(1), sampleTranscript())
	require.NoError(t, p.GenerateBlockFeedback(context.Background(), b.ID))

	// a second delivery must not reach the model, even when it is down
	gen.err = errors.New("llm down")
	require.NoError(t, p.GenerateBlockFeedback(context.Background(), b.ID))
	assert.Equal(t, int32(1), gen.calls.Load())

	blocks, err := st.ListBlocks(context.Background(), iv.ID)
	require.NoError(t, err)
	require.NotNil(t, blocks[0].Feedback)
	assert.Equal(t, 7, blocks[0].Feedback.Score)
}

func TestConcurrentBlockFeedbackCreatesOneRow(t *testing.T) {
	st := store.NewMemStore()
	q := &recordingQueue{}
	p := NewPipeline(st, nil, &fakeGenerator{}, q)

	iv := seedInterview(t, st, 1)
	b := submit(t, st, iv.ID, protocol.BlockNumber(1), sampleTranscript())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.GenerateBlockFeedback(context.Background(), b.ID))
		}()
	}
	wg.Wait()

	blocks, err := st.ListBlocks(context.Background(), iv.ID)
	require.NoError(t, err)
	require.NotNil(t, blocks[0].Feedback)
	assert.NotEmpty(t, q.Jobs())
}

func TestMaybeGenerateInterviewFeedbackWaitsForAllBlocks(t *testing.T) {
	st := store.NewMemStore()
	gen := &fakeGenerator{}
	p := NewPipeline(st, nil, gen, &recordingQueue{})

	iv := seedInterview(t, st, 2)
	b1 := submit(t, st, iv.ID, protocol.BlockNumber(1), sampleTranscript())
	require.NoError(t, p.GenerateBlockFeedback(context.Background(), b1.ID))

	require.NoError(t, p.MaybeGenerateInterviewFeedback(context.Background(), iv.ID))
	assert.EqualValues(t, 1, gen.calls.Load())
	_, err := st.GetInterviewFeedback(context.Background(), iv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	b2 := submit(t, st, iv.ID, protocol.BlockNumber(2), sampleTranscript())
	require.NoError(t, p.GenerateBlockFeedback(context.Background(), b2.ID))
	require.NoError(t, p.MaybeGenerateInterviewFeedback(context.Background(), iv.ID))

	fb, err := st.GetInterviewFeedback(context.Background(), iv.ID)
	require.NoError(t, err)
	assert.Equal(t, "solid answer", fb.Summary)

	got, err := st.GetInterview(context.Background(), iv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCompleted.String(), got.Status)

	// a redelivered job is a no-op
	calls := gen.calls.Load()
	require.NoError(t, p.MaybeGenerateInterviewFeedback(context.Background(), iv.ID))
	assert.Equal(t, calls, gen.calls.Load())
}

func TestFollowUpRunsInlineWithoutEnqueuer(t *testing.T) {
	st := store.NewMemStore()
	p := NewPipeline(st, nil, &fakeGenerator{}, nil)

	iv := seedInterview(t, st, 1)
	b := submit(t, st, iv.ID, protocol.BlockNumber(1), sampleTranscript())
	require.NoError(t, p.GenerateBlockFeedback(context.Background(), b.ID))

	got, err := st.GetInterview(context.Background(), iv.ID, true)
	require.NoError(t, err)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, protocol.StatusCompleted.String(), got.Status)
}

func TestGenerateInterviewTranscriptFeedbackLegacy(t *testing.T) {
	st := store.NewMemStore()
	gen := &fakeGenerator{}
	p := NewPipeline(st, nil, gen, &recordingQueue{})

	iv := seedInterview(t, st, 0)
	require.Nil(t, submit(t, st, iv.ID, nil, sampleTranscript()))

	require.NoError(t, p.Handle(context.Background(), Job{Kind: JobTranscript, ID: iv.ID}))

	got, err := st.GetInterview(context.Background(), iv.ID, true)
	require.NoError(t, err)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, protocol.StatusCompleted.String(), got.Status)
}

func TestGenerateInterviewTranscriptFeedbackIgnoresBlockInterviews(t *testing.T) {
	st := store.NewMemStore()
	gen := &fakeGenerator{}
	p := NewPipeline(st, nil, gen, &recordingQueue{})

	iv := seedInterview(t, st, 2)
	require.NoError(t, p.GenerateInterviewTranscriptFeedback(context.Background(), iv.ID))
	assert.Zero(t, gen.calls.Load())
}

func TestHandleRejectsUnknownKind(t *testing.T) {
	p := NewPipeline(store.NewMemStore(), nil, &fakeGenerator{}, nil)
	assert.Error(t, p.Handle(context.Background(), Job{Kind: "bogus", ID: "x"}))
}
