package feedback

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelQueueDelivers(t *testing.T) {
	q := NewChannelQueue(3, time.Millisecond)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Job, 1)
	require.NoError(t, q.Consume(ctx, func(ctx context.Context, job Job) error {
		got <- job
		return nil
	}))

	require.NoError(t, q.Enqueue(ctx, Job{Kind: JobBlock, ID: "b1"}))
	select {
	case job := <-got:
		assert.Equal(t, Job{Kind: JobBlock, ID: "b1"}, job)
	case <-time.After(2 * time.Second):
		t.Fatal("job not delivered")
	}
}

func TestChannelQueueRedeliversUntilMaxAttempts(t *testing.T) {
	q := NewChannelQueue(3, time.Millisecond)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, q.Consume(ctx, func(ctx context.Context, job Job) error {
		if calls.Add(1) == 3 {
			close(done)
		}
		return errors.New("transient")
	}))

	require.NoError(t, q.Enqueue(ctx, Job{Kind: JobInterview, ID: "iv1"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	q := NewChannelQueue(1, 0)
	defer q.Close()
	assert.Error(t, q.Enqueue(context.Background(), Job{Kind: JobBlock}))
	assert.Error(t, q.Enqueue(context.Background(), Job{Kind: "other", ID: "x"}))
}
