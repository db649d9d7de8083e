package audio

import "sync"

// RingBuffer is a fixed-size FIFO of 16-bit PCM. Writes never split a sample
// and stop when the buffer is full; the player treats the remainder as dropped.
type RingBuffer struct {
	mu   sync.Mutex
	data []byte
	head int // next byte to read
	n    int // bytes queued
}

// NewRingBuffer creates a buffer holding up to capacity bytes, rounded down to
// whole samples.
func NewRingBuffer(capacity int) *RingBuffer {
	capacity &^= 1
	if capacity < BytesPerSample {
		capacity = BytesPerSample
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// Write queues as many whole samples of pcm as fit and returns the byte count.
func (rb *RingBuffer) Write(pcm []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	want := min(len(pcm), len(rb.data)-rb.n) &^ 1
	tail := (rb.head + rb.n) % len(rb.data)
	first := copy(rb.data[tail:], pcm[:want])
	copy(rb.data, pcm[first:want])
	rb.n += want
	return want
}

// Read moves up to len(out) queued bytes into out.
func (rb *RingBuffer) Read(out []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	want := min(len(out), rb.n)
	end := min(rb.head+want, len(rb.data))
	first := copy(out, rb.data[rb.head:end])
	copy(out[first:want], rb.data)
	rb.head = (rb.head + want) % len(rb.data)
	rb.n -= want
	return want
}

// Available is the number of queued bytes.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.n
}

// Space is the number of bytes that can still be written.
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.data) - rb.n
}

// Clear drops everything queued. Barge-in uses it to silence the interviewer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head, rb.n = 0, 0
}

func (rb *RingBuffer) IsEmpty() bool { return rb.Available() == 0 }

func (rb *RingBuffer) IsFull() bool { return rb.Space() < BytesPerSample }
