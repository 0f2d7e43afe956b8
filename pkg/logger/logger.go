package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used throughout the application
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Fatal(msg string, keysAndValues ...interface{})
	WithFields(fields map[string]interface{}) Logger
}

// Config holds logger configuration
type Config struct {
	Level  string
	Format string // json or console
	Dir    string // when set, log to a per-run file under Dir
	Name   string // program name, used for file and symlink names
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New creates a new logger. When cfg.Dir is set the logger writes to a
// per-run file and repoints the "latest" symlink at it; otherwise it writes
// to stderr. Logger construction must not fail the process: on any file
// error it falls back to stderr and reports the problem there.
func New(cfg Config) Logger {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Dir != "" {
		if file, err := openRunFile(cfg.Dir, cfg.Name); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, logging to stderr: %v\n", err)
		} else {
			sink = zapcore.Lock(file)
		}
	}

	core := zapcore.NewCore(encoder, sink, level)
	return &zapLogger{sugar: zap.New(core).Sugar()}
}

// openRunFile creates the per-run log file and updates the latest symlink.
// A stale or missing symlink is not an error for the run itself.
func openRunFile(dir, name string) (*os.File, error) {
	if name == "" {
		name = "aws-snapshot"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.log", name, time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	latest := filepath.Join(dir, fmt.Sprintf("%s-latest.log", name))
	if err := UpdateSymlink(path, latest); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update latest log symlink: %v\n", err)
	}

	return file, nil
}

// UpdateSymlink repoints link at target, replacing any existing link.
func UpdateSymlink(target, link string) error {
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(target, link)
}

func (l *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *zapLogger) Fatal(msg string, keysAndValues ...interface{}) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

func (l *zapLogger) WithFields(fields map[string]interface{}) Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &zapLogger{sugar: l.sugar.With(args...)}
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}
