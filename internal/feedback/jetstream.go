package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/prepwise/voice-interview/internal/observability"
)

// JetStreamConfig names the stream and durable consumer used for jobs.
type JetStreamConfig struct {
	URL          string
	Stream       string
	Subject      string
	Durable      string
	MaxDeliver   int
	AckWait      time.Duration
	RetryDelay   time.Duration
	SetupTimeout time.Duration
}

// DefaultJetStreamConfig returns the stream layout used by the API service.
func DefaultJetStreamConfig(url string) JetStreamConfig {
	return JetStreamConfig{
		URL:          url,
		Stream:       "FEEDBACK",
		Subject:      "feedback.jobs",
		Durable:      "feedback-worker",
		MaxDeliver:   5,
		AckWait:      2 * time.Minute,
		RetryDelay:   10 * time.Second,
		SetupTimeout: 5 * time.Second,
	}
}

// JetStreamQueue is a durable Queue on a NATS JetStream work queue.
type JetStreamQueue struct {
	cfg    JetStreamConfig
	nc     *nats.Conn
	js     jetstream.JetStream
	cc     jetstream.ConsumeContext
	logger zerolog.Logger
}

// NewJetStreamQueue connects to NATS and ensures the work queue stream exists.
func NewJetStreamQueue(cfg JetStreamConfig) (*JetStreamQueue, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("interview-feedback"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SetupTimeout)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
	}

	return &JetStreamQueue{
		cfg:    cfg,
		nc:     nc,
		js:     js,
		logger: observability.GetLogger().With().Str("component", "feedback-queue").Str("backend", "jetstream").Logger(),
	}, nil
}

func (q *JetStreamQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(ctx, q.cfg.Subject, data); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", job, q.cfg.Subject, err)
	}
	return nil
}

func (q *JetStreamQueue) Consume(ctx context.Context, h Handler) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       q.cfg.Durable,
		FilterSubject: q.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.process(ctx, msg, h)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	q.cc = cc
	go func() {
		<-ctx.Done()
		cc.Stop()
	}()

	q.logger.Info().Str("subject", q.cfg.Subject).Str("durable", q.cfg.Durable).Msg("consuming feedback jobs")
	return nil
}

func (q *JetStreamQueue) process(ctx context.Context, msg jetstream.Msg, h Handler) {
	job, err := decodeJob(msg.Data())
	if err != nil {
		q.logger.Error().Err(err).Msg("dropping invalid feedback job")
		_ = msg.Term()
		return
	}

	if err := h(ctx, job); err != nil {
		delivered := uint64(1)
		if meta, mErr := msg.Metadata(); mErr == nil {
			delivered = meta.NumDelivered
		}
		logger := q.logger.With().Err(err).Str("job", job.String()).Uint64("delivered", delivered).Logger()
		if q.cfg.MaxDeliver > 0 && delivered >= uint64(q.cfg.MaxDeliver) {
			logger.Error().Msg("feedback job failed, giving up")
			observability.RecordFeedbackJob(string(job.Kind), "dropped")
			_ = msg.Term()
			return
		}
		logger.Warn().Msg("feedback job failed, redelivering")
		_ = msg.NakWithDelay(q.cfg.RetryDelay)
		return
	}

	if err := msg.Ack(); err != nil {
		q.logger.Warn().Err(err).Str("job", job.String()).Msg("failed to ack feedback job")
	}
}

// Ping reports whether the NATS connection is up.
func (q *JetStreamQueue) Ping(context.Context) (bool, error) {
	if !q.nc.IsConnected() {
		return false, fmt.Errorf("nats status %s", q.nc.Status())
	}
	return true, nil
}

func (q *JetStreamQueue) Close() error {
	if q.cc != nil {
		q.cc.Stop()
	}
	if q.nc != nil {
		q.nc.Close()
	}
	return nil
}
