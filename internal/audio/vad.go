package audio

// VADConfig holds configuration for energy-based voice activity detection.
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech
	SilenceFrames   int     // consecutive silent frames that end an utterance
	FrameSize       int     // samples per frame
}

// DefaultVADConfig returns settings for 16 kHz input: 20 ms frames, 600 ms of silence ends speech.
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   30,
		FrameSize:       InputSampleRate / 50,
	}
}

// VADDetector tracks speech start/end across frames. Not safe for concurrent use.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
	carry          []int16
}

// NewVADDetector creates a detector; nil config means DefaultVADConfig.
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame classifies one frame and returns (isSpeaking, speechStarted, speechEnded).
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool
	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// ProcessChunk splits an arbitrary-length chunk into frames, carrying the
// remainder to the next call. It reports whether speech started or ended
// anywhere in the chunk.
func (v *VADDetector) ProcessChunk(samples []int16) (started, ended bool) {
	buf := append(v.carry, samples...)
	n := v.config.FrameSize
	i := 0
	for ; i+n <= len(buf); i += n {
		_, s, e := v.ProcessFrame(buf[i : i+n])
		started = started || s
		ended = ended || e
	}
	v.carry = append(v.carry[:0:0], buf[i:]...)
	return started, ended
}

// Reset clears detector state.
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
	v.carry = nil
}

// IsSpeaking returns whether speech is currently detected.
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// DetectSilence reports whether samples fall under the energy threshold.
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
