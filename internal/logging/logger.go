package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields carries structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

// Logger is a named, leveled structured logger.
type Logger struct {
	service string
	l       *zap.Logger
}

// NewLogger creates a JSON logger for the given component. The level is taken
// from LOG_LEVEL (debug, info, warn, error) and defaults to info.
func NewLogger(service string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(levelFromEnv())
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.InitialFields = map[string]interface{}{"service": service}

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewExample()
	}
	return &Logger{service: service, l: l}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{service: "nop", l: zap.NewNop()}
}

// Named returns a child logger for a sub-component sharing the same sink.
func (lg *Logger) Named(component string) *Logger {
	return &Logger{service: lg.service, l: lg.l.With(zap.String("component", component))}
}

func (lg *Logger) Debug(msg string, fields ...Fields) { lg.l.Debug(msg, toZap(fields)...) }
func (lg *Logger) Info(msg string, fields ...Fields)  { lg.l.Info(msg, toZap(fields)...) }
func (lg *Logger) Warn(msg string, fields ...Fields)  { lg.l.Warn(msg, toZap(fields)...) }
func (lg *Logger) Error(msg string, fields ...Fields) { lg.l.Error(msg, toZap(fields)...) }

// Fatal logs and exits the process.
func (lg *Logger) Fatal(msg string, fields ...Fields) { lg.l.Fatal(msg, toZap(fields)...) }

// Sync flushes buffered entries.
func (lg *Logger) Sync() error {
	return lg.l.Sync()
}

func toZap(fields []Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields[0]))
	for _, f := range fields {
		for k, v := range f {
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

func levelFromEnv() zapcore.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
