package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds configuration for the worker, the control API and the mock client.
// Each binary validates only the section it needs.
type Config struct {
	// Worker (relay) server
	Port      string `envconfig:"PORT" default:"8080"`
	WorkerURL string `envconfig:"WORKER_URL" default:""` // public ws(s) base URL, used in logs and token responses

	// Speech model
	SpeechProvider    string `envconfig:"SPEECH_PROVIDER" default:"live"` // live, scripted
	SpeechModelURL    string `envconfig:"SPEECH_MODEL_URL" default:"wss://speech.example.com/v1/realtime"`
	SpeechAPIKey      string `envconfig:"SPEECH_API_KEY" default:""`
	SpeechModel       string `envconfig:"SPEECH_MODEL" default:"realtime-voice-1"`
	SpeechVoice       string `envconfig:"SPEECH_VOICE" default:"alloy"`
	FinalizeTimeoutMs int    `envconfig:"FINALIZE_TIMEOUT_MS" default:"5000"` // drain bound after EndRequest

	// Deepgram input transcription tap (optional)
	DeepgramEnabled  bool   `envconfig:"DEEPGRAM_ENABLED" default:"false"`
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Cartesia TTS, voices the scripted interviewer when configured
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaURL     string `envconfig:"CARTESIA_URL" default:"https://api.cartesia.ai/v1/tts"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Backend gRPC endpoint
	BackendURL        string `envconfig:"BACKEND_URL" default:"localhost:50051"`
	BackendTLSEnabled bool   `envconfig:"BACKEND_TLS_ENABLED" default:"false"`
	BackendTimeout    int    `envconfig:"BACKEND_TIMEOUT" default:"30"` // seconds

	// Auth
	JWTSecret      string `envconfig:"JWT_SECRET" default:""`
	JWTIssuer      string `envconfig:"JWT_ISSUER" default:"prepwise"`
	WorkerTokenTTL int    `envconfig:"WORKER_TOKEN_TTL" default:"60"` // minutes

	// Duplicate connection latch
	LatchBackend string `envconfig:"LATCH_BACKEND" default:"memory"` // memory, redis
	RedisURL     string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	LatchTTL     int    `envconfig:"LATCH_TTL" default:"3600"` // seconds

	// Control API
	APIPort  string `envconfig:"API_PORT" default:"8081"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50051"`

	// Database
	DatabaseURL       string `envconfig:"DATABASE_URL" default:""` // empty selects the in-memory store
	DBMaxOpenConns    int    `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DBMaxIdleConns    int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime int    `envconfig:"DB_CONN_MAX_LIFETIME" default:"300"` // seconds

	// Feedback queue
	QueueBackend string `envconfig:"QUEUE_BACKEND" default:"gochannel"` // gochannel, nats
	NATSURL      string `envconfig:"NATS_URL" default:"nats://localhost:4222"`

	// Feedback model (OpenAI-compatible chat completions)
	LLMBaseURL  string `envconfig:"LLM_BASE_URL" default:"https://api.openai.com/v1"`
	LLMAPIKey   string `envconfig:"LLM_API_KEY" default:""`
	LLMModel    string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMTimeout  int    `envconfig:"LLM_TIMEOUT" default:"60"` // seconds
	PromptsFile string `envconfig:"PROMPTS_FILE" default:""`  // empty uses the built-in catalog

	// Audio processing
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"5760000"` // playback queue in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"30"`

	// Resilience
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Observability
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	LogFile        string `envconfig:"LOG_FILE" default:""` // rotated with lumberjack when set
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	OtelEnabled    bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OtelEndpoint   string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4318"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration without touching .env (containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// ValidateWorker checks settings the relay worker cannot run without.
func (c *Config) ValidateWorker() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.SpeechProvider {
	case "live":
		if c.SpeechAPIKey == "" {
			return fmt.Errorf("SPEECH_API_KEY is required when SPEECH_PROVIDER=live")
		}
	case "scripted":
	default:
		return fmt.Errorf("unknown SPEECH_PROVIDER %q", c.SpeechProvider)
	}
	if c.DeepgramEnabled && c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required when DEEPGRAM_ENABLED=true")
	}
	return c.validateLatch()
}

// ValidateAPI checks settings the control API cannot run without.
func (c *Config) ValidateAPI() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.QueueBackend {
	case "gochannel", "nats":
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}
	return nil
}

func (c *Config) validateLatch() error {
	switch c.LatchBackend {
	case "memory", "redis":
		return nil
	default:
		return fmt.Errorf("unknown LATCH_BACKEND %q", c.LatchBackend)
	}
}

// FinalizeTimeout is FinalizeTimeoutMs as a duration.
func (c *Config) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
