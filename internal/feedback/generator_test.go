package feedback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepwise/voice-interview/internal/resilience"
)

func chatServer(t *testing.T, status int, content string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Len(t, req.Messages, 2)

		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		resp := map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGenerator(url string) *LLMGenerator {
	return NewLLMGenerator(
		LLMConfig{BaseURL: url + "/v1", APIKey: "test-key", Model: "gpt-test", Timeout: time.Second},
		resilience.NewCircuitBreaker("llm-test", 5, time.Minute),
		&resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1},
	)
}

const validFeedback = `{"summary":"s","strengths":"st","contentAndStructure":"c","communicationAndDelivery":"d","presentation":"p","score":8}`

func TestLLMGeneratorParsesResult(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, http.StatusOK, "```json\n"+validFeedback+"\n```", &hits)

	res, err := newTestGenerator(srv.URL).Generate(context.Background(), "review this")
	require.NoError(t, err)
	assert.Equal(t, 8, res.Score)
	assert.Equal(t, "p", res.Fields().Presentation)
	assert.EqualValues(t, 1, hits.Load())
}

func TestLLMGeneratorRejectsInvalidResult(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "great job"},
		{"missing field", `{"summary":"s","strengths":"st","score":3}`},
		{"score out of range", `{"summary":"s","strengths":"st","contentAndStructure":"c","communicationAndDelivery":"d","presentation":"p","score":11}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := chatServer(t, http.StatusOK, tt.content, &hits)
			_, err := newTestGenerator(srv.URL).Generate(context.Background(), "review this")
			assert.ErrorIs(t, err, ErrInvalidResult)
		})
	}
}

func TestLLMGeneratorRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, http.StatusBadGateway, "", &hits)

	_, err := newTestGenerator(srv.URL).Generate(context.Background(), "review this")
	require.Error(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestLLMGeneratorDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, http.StatusUnauthorized, "", &hits)

	_, err := newTestGenerator(srv.URL).Generate(context.Background(), "review this")
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}
