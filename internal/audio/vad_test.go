package audio

import (
	"testing"
)

func constFrame(n int, v int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestVADDetector_SpeechThenSilence(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500, SilenceFrames: 3, FrameSize: 320})

	_, started, _ := vad.ProcessFrame(constFrame(320, 5000))
	if !started {
		t.Error("Expected speech to start on first loud frame")
	}

	var ended bool
	for i := 0; i < 3; i++ {
		_, _, ended = vad.ProcessFrame(constFrame(320, 10))
		if i < 2 && ended {
			t.Errorf("Speech ended too early on silent frame %d", i)
		}
	}
	if !ended {
		t.Error("Expected speech to end after 3 silent frames")
	}
	if vad.IsSpeaking() {
		t.Error("Expected detector to be idle")
	}
}

func TestVADDetector_ProcessChunkCarriesRemainder(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500, SilenceFrames: 2, FrameSize: 320})

	// 200 samples is less than a frame; nothing is classified yet
	if started, _ := vad.ProcessChunk(constFrame(200, 5000)); started {
		t.Error("Expected no decision on a partial frame")
	}
	if started, _ := vad.ProcessChunk(constFrame(200, 5000)); !started {
		t.Error("Expected speech start once a full frame accumulated")
	}
	if _, ended := vad.ProcessChunk(constFrame(1600, 0)); !ended {
		t.Error("Expected speech end after a long silent chunk")
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(nil)
	vad.ProcessFrame(constFrame(320, 5000))
	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected reset detector to be idle")
	}
}

func TestDetectSilence(t *testing.T) {
	if !DetectSilence(constFrame(320, 10), 500) {
		t.Error("Expected low-energy frame to be silence")
	}
	if DetectSilence(constFrame(320, 5000), 500) {
		t.Error("Expected high-energy frame not to be silence")
	}
}
