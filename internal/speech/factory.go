package speech

import (
	"fmt"
	"time"

	"github.com/prepwise/voice-interview/internal/audio"
	"github.com/prepwise/voice-interview/internal/config"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/resilience"
)

// NewDialer builds the dialer selected by SPEECH_PROVIDER, wrapped with the
// Deepgram input tap when enabled.
func NewDialer(cfg *config.Config) (Dialer, error) {
	reconnect := &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second

	var dialer Dialer
	switch cfg.SpeechProvider {
	case "live":
		dialer = NewLiveDialer(LiveConfig{
			URL:             cfg.SpeechModelURL,
			APIKey:          cfg.SpeechAPIKey,
			Model:           cfg.SpeechModel,
			Voice:           cfg.SpeechVoice,
			TranscribeInput: !cfg.DeepgramEnabled,
		}, resilience.NewCircuitBreaker("speech-model", cfg.CircuitBreakerMaxFailures, resetTimeout), reconnect)

	case "scripted":
		sc := DefaultScriptedConfig()
		if cfg.CartesiaAPIKey != "" {
			sc.Synth = NewCartesiaSynthesizer(CartesiaConfig{
				APIKey:  cfg.CartesiaAPIKey,
				URL:     cfg.CartesiaURL,
				VoiceID: cfg.CartesiaVoiceID,
				ModelID: cfg.CartesiaModelID,
			})
		}
		sc.VAD = &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       audio.InputSampleRate / 50,
		}
		dialer = NewScriptedDialer(sc)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.SpeechProvider)
	}

	if cfg.DeepgramEnabled {
		breaker := resilience.NewCircuitBreaker("deepgram", cfg.CircuitBreakerMaxFailures, resetTimeout)
		dgCfg := DeepgramConfig{APIKey: cfg.DeepgramAPIKey, Model: cfg.DeepgramModel, Language: cfg.DeepgramLanguage}
		dialer = WithInputTranscription(dialer, func() InputTranscriber {
			return NewDeepgramTranscriber(dgCfg, breaker, reconnect, observability.GetLogger())
		})
	}
	return dialer, nil
}
