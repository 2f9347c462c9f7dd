package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StatusFileName is the name of the per-row status log inside the log directory.
const StatusFileName = "xmppconv_status.log"

// StatusConfig configures the operational status log.
type StatusConfig struct {
	// Dir receives StatusFileName. Empty disables the file sink.
	Dir string
	// Console mirrors info-level status lines to stdout.
	Console bool
}

// StatusLogger writes one plain line per converted row and one per converter
// summary. It is kept apart from the diagnostic logger so that operators get
// a clean record of what was migrated.
type StatusLogger struct {
	l       *zap.Logger
	cleanup func()
}

func statusEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		MessageKey:       "message",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("[2006-01-02 15:04:05.000]"),
		ConsoleSeparator: " ",
	})
}

// NewStatusLogger opens the status log described by cfg.
func NewStatusLogger(cfg StatusConfig) (*StatusLogger, error) {
	var cores []zapcore.Core
	cleanup := func() {}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		sink, closeSink, err := zap.Open(filepath.Join(cfg.Dir, StatusFileName))
		if err != nil {
			return nil, fmt.Errorf("failed to open status log: %w", err)
		}
		cleanup = closeSink
		cores = append(cores, zapcore.NewCore(statusEncoder(), sink, zapcore.DebugLevel))
	}
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(statusEncoder(), zapcore.Lock(os.Stdout), zapcore.InfoLevel))
	}

	return &StatusLogger{l: zap.New(zapcore.NewTee(cores...)), cleanup: cleanup}, nil
}

// NewStatusLoggerFrom wraps an existing zap logger, mostly for tests.
func NewStatusLoggerFrom(l *zap.Logger) *StatusLogger {
	return &StatusLogger{l: l, cleanup: func() {}}
}

// NopStatusLogger discards everything.
func NopStatusLogger() *StatusLogger {
	return NewStatusLoggerFrom(zap.NewNop())
}

// OK records a successfully stored row.
func (s *StatusLogger) OK(id string) {
	s.l.Info(id + ": OK")
}

// Failed records a row that was counted as failed.
func (s *StatusLogger) Failed(id, reason string) {
	if id == "" {
		id = "n/a"
	}
	if reason == "" {
		s.l.Warn(id + " : FAILED")
		return
	}
	s.l.Warn(id + " : FAILED (" + reason + ")")
}

// Summary records the end of one converter run.
func (s *StatusLogger) Summary(name string, failed, total int64, state string) {
	s.l.Info(fmt.Sprintf("Conversion for %s %s, %d of %d failed", name, state, failed, total))
}

// Close flushes and releases the file sink.
func (s *StatusLogger) Close() error {
	// stdout cannot be synced on most terminals, so the error is dropped
	_ = s.l.Sync()
	s.cleanup()
	return nil
}
