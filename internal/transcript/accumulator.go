package transcript

import (
	"sync"
	"time"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// Accumulator is the relay-side source of truth for a session's transcript.
type Accumulator struct {
	mu  sync.Mutex
	buf Buffer
	now func() time.Time
}

// NewAccumulator returns an empty accumulator stamped with the wall clock.
func NewAccumulator() *Accumulator {
	return &Accumulator{now: time.Now}
}

// Add merges one update.
func (a *Accumulator) Add(u protocol.TranscriptUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = a.buf.Apply(u, a.now())
}

// Flush commits pending partials and returns the encoded transcript and its entry count.
func (a *Accumulator) Flush() ([]byte, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = a.buf.Flush(a.now())
	return a.buf.Marshal(), a.buf.Len()
}

// Entries returns the committed entries.
func (a *Accumulator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Committed()
}
