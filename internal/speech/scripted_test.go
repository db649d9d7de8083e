package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepwise/voice-interview/internal/audio"
	"github.com/prepwise/voice-interview/internal/protocol"
)

type fixedSynth struct {
	pcm []byte
	err error
}

func (f fixedSynth) Synthesize(context.Context, string) ([]byte, error) { return f.pcm, f.err }

func loudChunk(samples int) []byte {
	b := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000)
		if i%2 == 1 {
			v = -8000
		}
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func quietChunk(samples int) []byte { return make([]byte, samples*2) }

func testScriptedDialer(synth Synthesizer) *ScriptedDialer {
	return NewScriptedDialer(ScriptedConfig{
		Synth:     synth,
		Opening:   "Hello.",
		Followups: []string{"Go on."},
		Closing:   "Done.",
		VAD:       &audio.VADConfig{EnergyThreshold: 500, SilenceFrames: 5, FrameSize: 320},
	})
}

// nextFinal reads events until an AI final transcript arrives.
func nextFinal(t *testing.T, events <-chan Event) (Event, []Event) {
	t.Helper()
	var seen []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "events closed before final")
			seen = append(seen, ev)
			if ev.Kind == EventTranscript && ev.IsFinal {
				return ev, seen
			}
		case <-timeout:
			t.Fatal("no final transcript")
		}
	}
}

func TestScriptedSpeaksQuestionWithPartials(t *testing.T) {
	pcm := make([]byte, 1200)
	sess, err := testScriptedDialer(fixedSynth{pcm: pcm}).Dial(context.Background(), SessionConfig{
		InterviewID: "iv",
		Question:    "Why Go?",
	})
	require.NoError(t, err)
	defer sess.Close()

	final, seen := nextFinal(t, sess.Events())
	assert.Equal(t, "Hello. Why Go?", final.Text)
	assert.Equal(t, protocol.SpeakerAI, final.Speaker)

	var partials []string
	audioBytes := 0
	for _, ev := range seen {
		switch {
		case ev.Kind == EventTranscript && !ev.IsFinal:
			partials = append(partials, ev.Text)
		case ev.Kind == EventAudio:
			audioBytes += len(ev.Audio)
		}
	}
	assert.Equal(t, []string{"Hello.", "Hello. Why"}, partials)
	assert.Equal(t, len(pcm), audioBytes)
}

func TestScriptedRespondsAfterAnswer(t *testing.T) {
	sess, err := testScriptedDialer(fixedSynth{}).Dial(context.Background(), SessionConfig{InterviewID: "iv"})
	require.NoError(t, err)
	defer sess.Close()

	nextFinal(t, sess.Events())

	require.NoError(t, sess.SendAudio(loudChunk(1600)))
	require.NoError(t, sess.SendAudio(quietChunk(1600)))
	final, _ := nextFinal(t, sess.Events())
	assert.Equal(t, "Go on.", final.Text)

	require.NoError(t, sess.SendAudio(loudChunk(1600)))
	require.NoError(t, sess.SendAudio(quietChunk(1600)))
	final, _ = nextFinal(t, sess.Events())
	assert.Equal(t, "Done.", final.Text)
}

func TestScriptedFinalizeClosesEvents(t *testing.T) {
	sess, err := testScriptedDialer(fixedSynth{}).Dial(context.Background(), SessionConfig{InterviewID: "iv"})
	require.NoError(t, err)
	defer sess.Close()

	nextFinal(t, sess.Events())
	require.NoError(t, sess.Finalize(context.Background()))
	assert.ErrorIs(t, sess.SendAudio(loudChunk(10)), ErrSessionClosed)

	assert.Empty(t, collect(t, sess.Events()))
}

func TestScriptedDurationEndsWithTimeout(t *testing.T) {
	sess, err := testScriptedDialer(fixedSynth{err: errors.New("tts down")}).Dial(context.Background(), SessionConfig{
		InterviewID: "iv",
		Duration:    50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer sess.Close()

	events := collect(t, sess.Events())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventEnded, last.Kind)
	assert.Equal(t, protocol.EndReasonTimeout, last.Reason)
}

func TestSilenceSynthesizerPacing(t *testing.T) {
	pcm, err := SilenceSynthesizer{}.Synthesize(context.Background(), "one two three four five")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, audio.DurationOf(len(pcm), audio.OutputSampleRate), 0.001)
}
