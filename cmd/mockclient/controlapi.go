package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prepwise/voice-interview/internal/api"
)

type controlAPI struct {
	baseURL string
	token   string
}

func (c *controlAPI) interview(ctx context.Context, id string) (api.InterviewResponse, error) {
	var out api.Response[api.InterviewResponse]
	err := c.do(ctx, http.MethodGet, "/api/v1/interviews/"+id, &out)
	return out.Data, err
}

func (c *controlAPI) sessionToken(ctx context.Context, id string) (api.TokenResponse, error) {
	var out api.Response[api.TokenResponse]
	err := c.do(ctx, http.MethodPost, "/api/v1/interviews/"+id+"/ws-token", &out)
	return out.Data, err
}

func (c *controlAPI) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var failure api.Response[any]
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, failure.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
