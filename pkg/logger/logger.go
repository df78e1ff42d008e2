package logger

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
)

// Log is the global logger
var Log *zap.Logger

// Options controls where log output goes.
type Options struct {
	Level string
	// File, when set, receives a rotated copy of the JSON log stream.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Initialize sets up the global logger with the specified log level
func Initialize(level string) error {
	return InitializeWithOptions(Options{Level: level})
}

// InitializeWithOptions sets up the global logger, optionally teeing into a rotated file.
func InitializeWithOptions(opts Options) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	customTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	atomicLevel := zap.NewAtomicLevelAt(zapLevel)
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atomicLevel),
	}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), atomicLevel))
	}

	Log = zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)
	return nil
}

type scoped struct {
	log    *zap.Logger
	syncID string
}

// WithLogger attaches a scoped logger to the context. If the context carries a
// sync id the logger is tagged with it here, so callers never add it themselves.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	syncID, err := audit.SyncIDFromContext(ctx)
	if err == nil {
		logger = logger.With(zap.String("sync_id", syncID))
	}
	return context.WithValue(ctx, loggerKey, scoped{log: logger, syncID: syncID})
}

// FromContext extracts a logger from the context, tagged with the sync ID when present
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Log
	}

	baseLogger := Log
	tagged := ""
	if s, ok := ctx.Value(loggerKey).(scoped); ok {
		baseLogger = s.log
		tagged = s.syncID
	}
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}

	if syncID, err := audit.SyncIDFromContext(ctx); err == nil && syncID != tagged {
		return baseLogger.With(zap.String("sync_id", syncID))
	}

	return baseLogger
}

// Sync flushes any buffered log entries
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// FromContextOr returns the logger from the context or the default logger if not found.
func FromContextOr(ctx context.Context, defaultLogger *zap.Logger) *zap.Logger {
	if s, ok := ctx.Value(loggerKey).(scoped); ok {
		return s.log
	}
	if defaultLogger != nil {
		return defaultLogger
	}
	if Log == nil {
		return zap.NewNop()
	}
	return Log
}

type contextKey int

const (
	loggerKey contextKey = iota
)
