package audio

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/youpy/go-wav"
)

// WavSink collects mono 16-bit PCM and writes it as a WAV file on Close.
// The WAV header needs the sample count up front, so samples are held in memory.
type WavSink struct {
	mu      sync.Mutex
	out     io.WriteCloser
	rate    int
	samples []wav.Sample
	partial []byte
	closed  bool
}

// CreateWavSink creates path and returns a sink that writes rate-Hz audio to it.
func CreateWavSink(path string, rate int) (*WavSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav %s: %w", path, err)
	}
	return NewWavSink(f, rate), nil
}

// NewWavSink writes to out on Close.
func NewWavSink(out io.WriteCloser, rate int) *WavSink {
	return &WavSink{out: out, rate: rate}
}

// Write appends little-endian PCM. An odd trailing byte is kept for the next call.
func (s *WavSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}

	data := append(s.partial, p...)
	even := len(data) &^ 1
	pcm, err := BytesToSamples(data[:even])
	if err != nil {
		return 0, err
	}
	for _, v := range pcm {
		s.samples = append(s.samples, wav.Sample{Values: [2]int{int(v), int(v)}})
	}
	s.partial = append(s.partial[:0:0], data[even:]...)
	return len(p), nil
}

// Samples returns how many samples have been collected.
func (s *WavSink) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Close writes the WAV file and closes the underlying writer.
func (s *WavSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	w := wav.NewWriter(s.out, uint32(len(s.samples)), 1, uint32(s.rate), 16)
	if err := w.WriteSamples(s.samples); err != nil {
		s.out.Close()
		return fmt.Errorf("write wav samples: %w", err)
	}
	return s.out.Close()
}
