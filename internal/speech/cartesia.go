package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prepwise/voice-interview/internal/audio"
)

// Synthesizer renders interviewer lines as 24 kHz mono PCM16.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// CartesiaConfig configures the Cartesia TTS client.
type CartesiaConfig struct {
	APIKey  string
	URL     string
	VoiceID string
	ModelID string
	Timeout time.Duration
}

// CartesiaSynthesizer voices text through Cartesia's TTS API.
type CartesiaSynthesizer struct {
	cfg        CartesiaConfig
	httpClient *http.Client
}

// cartesiaRequest is the request payload for Cartesia TTS API
type cartesiaRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Language        string  `json:"language,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// NewCartesiaSynthesizer creates a Cartesia TTS client.
func NewCartesiaSynthesizer(cfg CartesiaConfig) *CartesiaSynthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CartesiaSynthesizer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Synthesize requests raw PCM at the model output rate.
func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	reqBody := cartesiaRequest{
		Text:            text,
		VoiceID:         c.cfg.VoiceID,
		ModelID:         c.cfg.ModelID,
		OutputFormat:    "pcm",
		SampleRate:      audio.OutputSampleRate,
		Speed:           1.0,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cartesia API returned status %d", resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cartesia audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio")
	}
	// PCM16 frames are two bytes wide
	return pcm[:len(pcm)&^1], nil
}

// SilenceSynthesizer paces speech with silence, roughly 150 words per minute.
// It stands in for TTS in local runs.
type SilenceSynthesizer struct{}

func (SilenceSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	words := len(strings.Fields(text))
	samples := words * audio.OutputSampleRate * 2 / 5
	return make([]byte, samples*audio.BytesPerSample), nil
}
