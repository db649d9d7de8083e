package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Relay session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_worker_active_sessions",
		Help: "Number of live relay sessions",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_worker_sessions_total",
		Help: "Total number of relay sessions by outcome",
	}, []string{"outcome"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_worker_session_duration_seconds",
		Help:    "Duration of relay sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	})

	// Speech model metrics
	modelConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_worker_model_connects_total",
		Help: "Total number of speech model dials",
	}, []string{"status"})

	modelConnectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_worker_model_connect_latency_seconds",
		Help:    "Speech model dial latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Backend metrics
	backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_backend_requests_total",
		Help: "Total number of backend RPCs",
	}, []string{"method", "status"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "interview_backend_latency_seconds",
		Help:    "Backend RPC latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"method"})

	transcriptSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_transcript_submissions_total",
		Help: "Transcript submissions by status",
	}, []string{"status"})

	// Feedback pipeline
	feedbackJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_feedback_jobs_total",
		Help: "Feedback jobs by kind and outcome",
	}, []string{"kind", "outcome"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_worker_audio_bytes_total",
		Help: "Total audio bytes relayed",
	}, []string{"direction"}) // in: client to model, out: model to client
)

// Metrics tracks metrics for a single relay session.
type Metrics struct {
	sessionID      string
	startTime      time.Time
	modelStartTime time.Time
	mu             sync.Mutex
	ended          bool
}

// NewSessionMetrics creates a metrics tracker for a session.
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session.
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session once.
func (m *Metrics) RecordSessionEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true

	activeSessions.Dec()
	totalSessions.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordModelConnectStart marks the start of a speech model dial.
func (m *Metrics) RecordModelConnectStart() {
	m.mu.Lock()
	m.modelStartTime = time.Now()
	m.mu.Unlock()
}

// RecordModelConnectEnd records the outcome of a speech model dial.
func (m *Metrics) RecordModelConnectEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.modelStartTime.IsZero() {
		modelConnectLatency.Observe(time.Since(m.modelStartTime).Seconds())
	}
	modelConnects.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error.
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records relayed audio bytes.
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordBackendCall records one backend RPC.
func RecordBackendCall(method string, start time.Time, success bool) {
	backendLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	backendRequests.WithLabelValues(method, statusLabel(success)).Inc()
}

// RecordTranscriptSubmission records the outcome of a transcript submission.
func RecordTranscriptSubmission(success bool) {
	transcriptSubmissions.WithLabelValues(statusLabel(success)).Inc()
}

// RecordFeedbackJob records one feedback job; outcome is e.g. "generated", "skipped", "error".
func RecordFeedbackJob(kind, outcome string) {
	feedbackJobs.WithLabelValues(kind, outcome).Inc()
}

// RecordError records an error outside a session.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric.
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter.
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
