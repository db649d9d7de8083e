package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/prepwise/voice-interview/internal/resilience"
	"github.com/prepwise/voice-interview/internal/store"
)

// Result is a validated feedback document from the model.
type Result struct {
	Summary                  string `json:"summary" validate:"required"`
	Strengths                string `json:"strengths" validate:"required"`
	ContentAndStructure      string `json:"contentAndStructure" validate:"required"`
	CommunicationAndDelivery string `json:"communicationAndDelivery" validate:"required"`
	Presentation             string `json:"presentation" validate:"required"`
	Score                    int    `json:"score" validate:"min=0,max=10"`
}

// Fields converts r to the stored feedback sections.
func (r Result) Fields() store.FeedbackFields {
	return store.FeedbackFields{
		Summary:                  r.Summary,
		Strengths:                r.Strengths,
		ContentAndStructure:      r.ContentAndStructure,
		CommunicationAndDelivery: r.CommunicationAndDelivery,
		Presentation:             r.Presentation,
	}
}

// Generator turns a rendered prompt into feedback.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}

// ErrInvalidResult is returned when the model's answer does not validate.
var ErrInvalidResult = errors.New("feedback model returned an invalid result")

// LLMConfig configures an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LLMGenerator calls a chat completions API in JSON mode.
type LLMGenerator struct {
	cfg      LLMConfig
	client   *http.Client
	validate *validator.Validate
	breaker  *resilience.CircuitBreaker
	retry    *resilience.RetryConfig
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

const systemInstruction = "You are an interview coach. Answer with a single JSON object and nothing else."

// NewLLMGenerator creates a generator guarded by breaker and retried with retry.
func NewLLMGenerator(cfg LLMConfig, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig) *LLMGenerator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &LLMGenerator{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		validate: validator.New(),
		breaker:  breaker,
		retry:    retry,
	}
}

func (g *LLMGenerator) Generate(ctx context.Context, prompt string) (Result, error) {
	var content string
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return g.breaker.Call(func() error {
			var err error
			content, err = g.complete(ctx, prompt)
			return err
		})
	}, g.retry, resilience.IsRetryable)
	if err != nil {
		return Result{}, err
	}

	var res Result
	if err := json.Unmarshal([]byte(stripFences(content)), &res); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	if err := g.validate.Struct(res); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return res, nil
}

func (g *LLMGenerator) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.3,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", resilience.NewRetryableError(fmt.Errorf("chat request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resilience.NewRetryableError(fmt.Errorf("read chat response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("chat API status %d: %s", resp.StatusCode, truncate(string(raw), 200))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", resilience.NewRetryableError(err)
		}
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
