package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler("interview-worker")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Service != "interview-worker" || status.Status != "healthy" {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(context.Context) (bool, error) { return true, nil }
	failing := func(context.Context) (bool, error) { return false, errors.New("connection refused") }

	tests := []struct {
		name   string
		checks []DependencyCheck
		code   int
	}{
		{"all healthy", []DependencyCheck{{Name: "backend", Check: ok}}, http.StatusOK},
		{"one failing", []DependencyCheck{{Name: "backend", Check: ok}, {Name: "redis", Check: failing}}, http.StatusServiceUnavailable},
		{"nil check ignored", []DependencyCheck{{Name: "deepgram"}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler("interview-worker", tt.checks...)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestCheckDependenciesReportsMessage(t *testing.T) {
	status, healthy := CheckDependencies(context.Background(), "api", DependencyCheck{
		Name:  "database",
		Check: func(context.Context) (bool, error) { return false, errors.New("timeout") },
	})
	if healthy {
		t.Fatal("Expected unhealthy")
	}
	if status.Dependencies["database"].Message != "timeout" {
		t.Errorf("Expected message 'timeout', got %q", status.Dependencies["database"].Message)
	}
	if status.Status != "not_ready" {
		t.Errorf("Expected not_ready, got %s", status.Status)
	}
}
