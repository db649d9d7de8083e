package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/prepwise/voice-interview/internal/observability"
)

const jobTopic = "interview.feedback"

// ChannelQueue is an in-process Queue on a watermill go channel. Jobs
// published before Consume starts are dropped.
type ChannelQueue struct {
	pubSub      *gochannel.GoChannel
	maxAttempts int
	backoff     time.Duration
	logger      zerolog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

// NewChannelQueue creates a queue that redelivers a failing job up to
// maxAttempts times, waiting backoff between attempts.
func NewChannelQueue(maxAttempts int, backoff time.Duration) *ChannelQueue {
	return &ChannelQueue{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewStdLogger(false, false),
		),
		maxAttempts: max(maxAttempts, 1),
		backoff:     backoff,
		logger:      observability.GetLogger().With().Str("component", "feedback-queue").Str("backend", "gochannel").Logger(),
		attempts:    make(map[string]int),
	}
}

func (q *ChannelQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := q.pubSub.Publish(jobTopic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", job, err)
	}
	return nil
}

func (q *ChannelQueue) Consume(ctx context.Context, h Handler) error {
	messages, err := q.pubSub.Subscribe(ctx, jobTopic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", jobTopic, err)
	}
	go func() {
		for msg := range messages {
			q.process(ctx, msg, h)
		}
	}()
	return nil
}

func (q *ChannelQueue) process(ctx context.Context, msg *message.Message, h Handler) {
	job, err := decodeJob(msg.Payload)
	if err != nil {
		q.logger.Error().Err(err).Str("message_id", msg.UUID).Msg("dropping invalid feedback job")
		msg.Ack()
		return
	}

	if err := h(ctx, job); err != nil {
		attempt := q.recordAttempt(msg.UUID)
		logger := q.logger.With().Err(err).Str("job", job.String()).Int("attempt", attempt).Logger()
		if attempt >= q.maxAttempts {
			logger.Error().Msg("feedback job failed, giving up")
			observability.RecordFeedbackJob(string(job.Kind), "dropped")
			q.forget(msg.UUID)
			msg.Ack()
			return
		}
		logger.Warn().Msg("feedback job failed, redelivering")
		select {
		case <-ctx.Done():
		case <-time.After(q.backoff):
		}
		msg.Nack()
		return
	}

	q.forget(msg.UUID)
	msg.Ack()
}

func (q *ChannelQueue) recordAttempt(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts[id]++
	return q.attempts[id]
}

func (q *ChannelQueue) forget(id string) {
	q.mu.Lock()
	delete(q.attempts, id)
	q.mu.Unlock()
}

func (q *ChannelQueue) Close() error {
	return q.pubSub.Close()
}
