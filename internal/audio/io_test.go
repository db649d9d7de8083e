package audio

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youpy/go-wav"
)

type closingBuffer struct {
	mu sync.Mutex
	bytes.Buffer
	closed bool
}

func (b *closingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func (b *closingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Len()
}

func (b *closingBuffer) Close() error {
	b.closed = true
	return nil
}

func makeWav(t *testing.T, rate, channels int, samples []int16) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(samples)), uint16(channels), uint32(rate), 16)
	ws := make([]wav.Sample, len(samples))
	for i, s := range samples {
		ws[i] = wav.Sample{Values: [2]int{int(s), int(s)}}
	}
	require.NoError(t, w.WriteSamples(ws))
	return buf.Bytes()
}

func TestWavSinkWritesReadableFile(t *testing.T) {
	out := &closingBuffer{}
	sink := NewWavSink(out, OutputSampleRate)

	pcm := SamplesToBytes([]int16{100, -200, 300, -400})
	_, err := sink.Write(pcm[:3])
	require.NoError(t, err)
	_, err = sink.Write(pcm[3:])
	require.NoError(t, err)
	assert.Equal(t, 4, sink.Samples())
	require.NoError(t, sink.Close())
	assert.True(t, out.closed)

	r := wav.NewReader(bytes.NewReader(out.Bytes()))
	format, err := r.Format()
	require.NoError(t, err)
	assert.Equal(t, uint32(OutputSampleRate), format.SampleRate)
	assert.Equal(t, uint16(1), format.NumChannels)

	samples, err := r.ReadSamples(4)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	assert.Equal(t, -400, samples[3].Values[0])

	_, err = sink.Write(pcm)
	assert.Error(t, err)
}

func TestWavSourceDeliversResampledChunks(t *testing.T) {
	samples := make([]int16, 4800) // 100ms at 48kHz
	for i := range samples {
		samples[i] = 1000
	}
	src, err := NewWavSource(bytes.NewReader(makeWav(t, 48000, 1, samples)), zerolog.Nop())
	require.NoError(t, err)
	src.chunk = 10 * time.Millisecond
	assert.Equal(t, 48000, src.SampleRate())

	chunks := make(chan []byte, 64)
	require.NoError(t, src.Start(context.Background(), func(pcm []byte) {
		select {
		case chunks <- pcm:
		default:
		}
	}))
	defer src.Stop()

	first := <-chunks
	// 10ms at 16kHz
	assert.Len(t, first, 160*BytesPerSample)
	got, err := BytesToSamples(first)
	require.NoError(t, err)
	assert.Equal(t, int16(1000), got[0])
}

func TestWavSourceMuteDropsChunks(t *testing.T) {
	src, err := NewWavSource(bytes.NewReader(makeWav(t, 16000, 1, make([]int16, 160))), zerolog.Nop())
	require.NoError(t, err)
	src.chunk = 5 * time.Millisecond

	var mu sync.Mutex
	count := 0
	require.NoError(t, src.Start(context.Background(), func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	src.SetMuted(true)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	before := count
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	src.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, before, count)
	assert.True(t, src.Muted())
}

func TestWavSourceRejectsNonPCM16(t *testing.T) {
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, 1, 1, 16000, 8)
	require.NoError(t, w.WriteSamples([]wav.Sample{{Values: [2]int{1, 1}}}))

	_, err := NewWavSource(bytes.NewReader(buf.Bytes()), zerolog.Nop())
	assert.Error(t, err)
}

func TestBufferedPlayerDrainsAndClears(t *testing.T) {
	sink := &closingBuffer{}
	p := NewBufferedPlayer(sink, 0, zerolog.Nop())

	p.Enqueue(make([]byte, 960*2))
	assert.True(t, p.IsPlaying())

	p.Start(context.Background())
	assert.Eventually(t, func() bool { return sink.Len() == 960*2 }, time.Second, 5*time.Millisecond)
	assert.False(t, p.IsPlaying())

	p.Enqueue(make([]byte, 960*50))
	p.Clear()
	assert.False(t, p.IsPlaying())
	p.Stop()
}

func TestBufferedPlayerDropsOverflow(t *testing.T) {
	p := NewBufferedPlayer(&closingBuffer{}, 10, zerolog.Nop())
	p.Enqueue(make([]byte, 16))
	assert.Equal(t, 6, p.Dropped())
}
