// Package logging builds the zap loggers used by multimech: a console
// logger for the operator and a JSON run log stored with each run's results.
package logging

import (
	"errors"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/torosent/multimech/internal/runner"
)

// RunLogName is the file name of the per-run log.
const RunLogName = "run.log"

// Config describes the console logger.
type Config struct {
	Level  string    // debug, info, warn, error
	Output io.Writer // defaults to os.Stderr
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New creates the console logger.
func New(cfg Config) *zap.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	encCfg := encoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), ParseLevel(cfg.Level))
	return zap.New(core)
}

// RunLog tees a logger into a JSON log file. Close flushes and releases
// the file.
type RunLog struct {
	*zap.Logger
	writer *lumberjack.Logger
}

// WithRunLog returns a logger writing to base and, at debug level, to the
// JSON file at path.
func WithRunLog(base *zap.Logger, path string) *RunLog {
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 3,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(writer), zapcore.DebugLevel)
	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	return &RunLog{Logger: logger, writer: writer}
}

func (r *RunLog) Close() error {
	_ = r.Logger.Sync()
	return r.writer.Close()
}

// FailureLogger records failed iterations at debug level and units that
// could not start at warn or error level.
type FailureLogger struct {
	log *zap.Logger
}

func NewFailureLogger(log *zap.Logger) *FailureLogger {
	return &FailureLogger{log: log}
}

func (f *FailureLogger) LogFailure(group string, worker int, err error) {
	if worker < 0 {
		f.log.Error("group failed to start", zap.String("group", group), zap.Error(err))
		return
	}
	var resErr *runner.ResourceError
	if errors.As(err, &resErr) {
		f.log.Warn("worker failed to start", zap.String("group", group), zap.Int("thread", worker), zap.Error(err))
		return
	}
	f.log.Debug("transaction failed",
		zap.String("group", group),
		zap.Int("thread", worker),
		zap.Error(err),
	)
}
