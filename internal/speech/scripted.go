package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepwise/voice-interview/internal/audio"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/protocol"
)

// ScriptedConfig configures the local scripted interviewer.
type ScriptedConfig struct {
	Synth Synthesizer
	// Opening is spoken before the block question.
	Opening string
	// Followups are spoken in order, one after each detected user answer.
	Followups []string
	// Closing is spoken once the followups run out, then the session waits for the client.
	Closing string
	// WordDelay paces the growing AI partials.
	WordDelay time.Duration
	VAD       *audio.VADConfig
}

// DefaultScriptedConfig speaks silence-paced lines at a natural rate.
func DefaultScriptedConfig() ScriptedConfig {
	return ScriptedConfig{
		Synth:   SilenceSynthesizer{},
		Opening: "Hi, thanks for joining today.",
		Followups: []string{
			"Thanks. Could you walk me through a concrete example?",
			"What would you do differently next time?",
		},
		Closing:   "Great, that covers this question. Click next whenever you are ready.",
		WordDelay: 120 * time.Millisecond,
		VAD:       audio.DefaultVADConfig(),
	}
}

// ScriptedDialer runs an in-process interviewer that speaks scripted lines and
// listens with energy VAD. It never transcribes user audio; pair it with an
// InputTranscriber for user transcripts.
type ScriptedDialer struct {
	cfg ScriptedConfig
}

// NewScriptedDialer fills unset fields from DefaultScriptedConfig.
func NewScriptedDialer(cfg ScriptedConfig) *ScriptedDialer {
	def := DefaultScriptedConfig()
	if cfg.Synth == nil {
		cfg.Synth = def.Synth
	}
	if cfg.Opening == "" {
		cfg.Opening = def.Opening
	}
	if cfg.Followups == nil {
		cfg.Followups = def.Followups
	}
	if cfg.Closing == "" {
		cfg.Closing = def.Closing
	}
	if cfg.VAD == nil {
		cfg.VAD = def.VAD
	}
	return &ScriptedDialer{cfg: cfg}
}

func (d *ScriptedDialer) Dial(ctx context.Context, cfg SessionConfig) (Session, error) {
	s := &scriptedSession{
		cfg:     d.cfg,
		session: cfg,
		logger: observability.SessionLogger("", cfg.InterviewID, cfg.BlockNumber).
			With().Str("component", "speech-scripted").Logger(),
		vad:    audio.NewVADDetector(d.cfg.VAD),
		input:  make(chan []byte, 64),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		final:  make(chan struct{}),
	}
	go s.run()
	return s, nil
}

type scriptedSession struct {
	cfg     ScriptedConfig
	session SessionConfig
	logger  zerolog.Logger
	vad     *audio.VADDetector

	input  chan []byte
	events chan Event
	done   chan struct{}
	final  chan struct{}

	mu         sync.Mutex
	finalizing bool
	closeOnce  sync.Once
}

func (s *scriptedSession) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizing {
		return ErrSessionClosed
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.input <- pcm:
		return nil
	default:
		// the model is busy speaking; dropped input only delays turn detection
		return nil
	}
}

func (s *scriptedSession) Finalize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finalizing {
		s.finalizing = true
		close(s.final)
	}
	return nil
}

func (s *scriptedSession) Events() <-chan Event { return s.events }

func (s *scriptedSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *scriptedSession) run() {
	defer close(s.events)

	var deadline <-chan time.Time
	if s.session.Duration > 0 {
		timer := time.NewTimer(s.session.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	opening := s.cfg.Opening
	if s.session.Question != "" {
		opening += " " + s.session.Question
	} else {
		opening += " To start, tell me a little about yourself."
	}
	if !s.speak(opening) {
		return
	}

	next := 0
	for {
		select {
		case <-s.done:
			return
		case <-s.final:
			s.logger.Debug().Msg("finalized")
			return
		case <-deadline:
			emit(s.events, s.done, Event{Kind: EventEnded, Reason: protocol.EndReasonTimeout})
			return
		case pcm := <-s.input:
			samples, err := audio.BytesToSamples(pcm)
			if err != nil {
				continue
			}
			if _, ended := s.vad.ProcessChunk(samples); !ended {
				continue
			}
			line := s.cfg.Closing
			if next < len(s.cfg.Followups) {
				line = s.cfg.Followups[next]
			} else if next > len(s.cfg.Followups) {
				continue
			}
			next++
			if !s.speak(line) {
				return
			}
		}
	}
}

// speak streams text as growing partials with audio, then a final. It
// returns false once the session is closed.
func (s *scriptedSession) speak(text string) bool {
	pcm, err := s.cfg.Synth.Synthesize(context.Background(), text)
	if err != nil {
		s.logger.Warn().Err(err).Msg("synthesis failed, sending text only")
		pcm = nil
	}

	words := strings.Fields(text)
	chunk := len(pcm)
	if len(words) > 0 {
		chunk = (len(pcm) / len(words)) &^ 1
	}

	for i := range words {
		if i < len(words)-1 {
			partial := strings.Join(words[:i+1], " ")
			if !emit(s.events, s.done, Event{Kind: EventTranscript, Speaker: protocol.SpeakerAI, Text: partial}) {
				return false
			}
		}
		if chunk > 0 {
			end := (i + 1) * chunk
			if i == len(words)-1 {
				end = len(pcm)
			}
			if !emit(s.events, s.done, Event{Kind: EventAudio, Audio: pcm[i*chunk : end]}) {
				return false
			}
		}
		if s.cfg.WordDelay > 0 {
			select {
			case <-time.After(s.cfg.WordDelay):
			case <-s.done:
				return false
			}
		}
	}

	return emit(s.events, s.done, Event{Kind: EventTranscript, Speaker: protocol.SpeakerAI, Text: text, IsFinal: true})
}
