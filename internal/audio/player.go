package audio

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	playerFrame = 20 * time.Millisecond
	// DefaultPlayerCapacity holds two minutes of 24 kHz model audio.
	DefaultPlayerCapacity = OutputSampleRate * BytesPerSample * 120
)

// BufferedPlayer queues 24 kHz model audio and drains it to a sink at
// real-time pace. Clear drops everything queued, which is how barge-in
// silences the interviewer.
type BufferedPlayer struct {
	ring   *RingBuffer
	sink   io.Writer
	frame  int
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	dropped int
}

// NewBufferedPlayer writes drained PCM to sink. capacity <= 0 uses DefaultPlayerCapacity.
func NewBufferedPlayer(sink io.Writer, capacity int, logger zerolog.Logger) *BufferedPlayer {
	if capacity <= 0 {
		capacity = DefaultPlayerCapacity
	}
	return &BufferedPlayer{
		ring:   NewRingBuffer(capacity),
		sink:   sink,
		frame:  int(float64(OutputSampleRate)*playerFrame.Seconds()) * BytesPerSample,
		logger: logger.With().Str("component", "player").Logger(),
	}
}

// Start launches the drain loop. It is a no-op when already running.
func (p *BufferedPlayer) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.drain(ctx, p.done)
}

// Enqueue queues pcm for playback. Audio that does not fit is dropped.
func (p *BufferedPlayer) Enqueue(pcm []byte) {
	n := p.ring.Write(pcm)
	if n < len(pcm) {
		p.mu.Lock()
		p.dropped += len(pcm) - n
		p.mu.Unlock()
		p.logger.Warn().Int("dropped_bytes", len(pcm)-n).Msg("playback queue full")
	}
}

// Clear discards queued audio.
func (p *BufferedPlayer) Clear() {
	p.ring.Clear()
}

// IsPlaying reports whether audio is queued.
func (p *BufferedPlayer) IsPlaying() bool {
	return !p.ring.IsEmpty()
}

// Dropped is the number of bytes discarded because the queue was full.
func (p *BufferedPlayer) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Stop halts the drain loop and discards queued audio.
func (p *BufferedPlayer) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	p.ring.Clear()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *BufferedPlayer) drain(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(playerFrame)
	defer ticker.Stop()

	buf := make([]byte, p.frame)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := p.ring.Read(buf)
		if n == 0 {
			continue
		}
		if _, err := p.sink.Write(buf[:n]); err != nil {
			p.logger.Error().Err(err).Msg("playback sink write failed")
		}
	}
}
