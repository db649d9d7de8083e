package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/youpy/go-wav"
)

// DefaultChunkDuration is how much audio each captured chunk carries.
const DefaultChunkDuration = 100 * time.Millisecond

type wavInput interface {
	io.Reader
	io.ReaderAt
}

// WavSource replays a WAV file as if it were a microphone: chunks are
// downmixed, resampled to 16 kHz and delivered in real time. After the file
// ends it keeps delivering silence so the recogniser can close the utterance.
type WavSource struct {
	reader   *wav.Reader
	closer   io.Closer
	rate     int
	channels int
	chunk    time.Duration
	logger   zerolog.Logger

	muted  atomic.Bool
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenWavSource opens path as a capture source.
func OpenWavSource(path string, logger zerolog.Logger) (*WavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav %s: %w", path, err)
	}
	src, err := NewWavSource(f, logger)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewWavSource reads WAV data from r. Only 16-bit PCM is accepted.
func NewWavSource(r wavInput, logger zerolog.Logger) (*WavSource, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("read wav format: %w", err)
	}
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported wav bit depth %d, want 16", format.BitsPerSample)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		return nil, fmt.Errorf("unsupported wav channel count %d", format.NumChannels)
	}

	return &WavSource{
		reader:   reader,
		rate:     int(format.SampleRate),
		channels: int(format.NumChannels),
		chunk:    DefaultChunkDuration,
		logger:   logger.With().Str("component", "wav_capture").Logger(),
	}, nil
}

// SampleRate is the file's native rate.
func (s *WavSource) SampleRate() int { return s.rate }

// SetMuted drops captured chunks while true.
func (s *WavSource) SetMuted(muted bool) { s.muted.Store(muted) }

// Muted reports the mute flag.
func (s *WavSource) Muted() bool { return s.muted.Load() }

// Start delivers 16 kHz PCM chunks to deliver until ctx is cancelled or Stop
// is called. Calling Start on a running source is a no-op.
func (s *WavSource) Start(ctx context.Context, deliver func(pcm []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.muted.Store(false)

	go s.run(ctx, deliver, s.done)
	return nil
}

// Stop halts delivery and waits for the capture goroutine.
func (s *WavSource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops capture and releases the file.
func (s *WavSource) Close() error {
	s.Stop()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *WavSource) run(ctx context.Context, deliver func([]byte), done chan struct{}) {
	defer close(done)

	perChunk := uint32(float64(s.rate) * s.chunk.Seconds())
	if perChunk == 0 {
		perChunk = 1
	}
	silence := make([]byte, int(float64(InputSampleRate)*s.chunk.Seconds())*BytesPerSample)

	ticker := time.NewTicker(s.chunk)
	defer ticker.Stop()

	eof := false
	for {
		pcm := silence
		if !eof {
			chunk, err := s.readChunk(perChunk)
			switch {
			case errors.Is(err, io.EOF):
				eof = true
				s.logger.Debug().Msg("wav source exhausted, sending silence")
			case err != nil:
				s.logger.Error().Err(err).Msg("wav read failed")
				return
			}
			if len(chunk) > 0 {
				pcm = chunk
			}
		}

		if !s.muted.Load() {
			deliver(pcm)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *WavSource) readChunk(n uint32) ([]byte, error) {
	samples, err := s.reader.ReadSamples(n)
	if len(samples) == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}

	raw := make([]int16, 0, len(samples)*s.channels)
	for _, smp := range samples {
		for c := 0; c < s.channels && c < len(smp.Values); c++ {
			raw = append(raw, int16(smp.Values[c]))
		}
	}
	mono := DownmixToMono(raw, s.channels)
	return SamplesToBytes(Resample(mono, s.rate, InputSampleRate)), nil
}
