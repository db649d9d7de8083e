package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// LogOptions controls the global logger.
type LogOptions struct {
	Level  string
	Pretty bool
	// File, when set, receives JSON logs as well, rotated by size.
	File string
}

// InitLogger initializes the global structured logger. Only the first call takes effect.
func InitLogger(opts LogOptions) {
	initOnce.Do(func() {
		zerolog.SetGlobalLevel(parseLevel(opts.Level))

		var console io.Writer = os.Stdout
		if opts.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}

		out := console
		if opts.File != "" {
			rotator := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    10, // megabytes
				MaxBackups: 5,
				MaxAge:     30, // days
				Compress:   true,
			}
			out = zerolog.MultiLevelWriter(console, rotator)
		}

		globalLogger = zerolog.New(out).With().Timestamp().Logger()
		log.Logger = globalLogger
	})
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the global logger, initializing it with defaults if needed.
func GetLogger() zerolog.Logger {
	InitLogger(LogOptions{Level: "info"})
	return globalLogger
}

// WithCorrelationID creates a logger with a correlation ID, generating one if empty.
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("correlation_id", correlationID).Logger()
}

// SessionLogger returns the per-connection logger used by relays and clients.
func SessionLogger(correlationID, interviewID string, blockNumber *int32) zerolog.Logger {
	ctx := WithCorrelationID(correlationID).With().Str("interview_id", interviewID)
	if blockNumber != nil {
		ctx = ctx.Int32("block_number", *blockNumber)
	}
	return ctx.Logger()
}

// NewCorrelationID generates a new correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}
