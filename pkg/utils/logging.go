package utils

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu  sync.RWMutex
	logger *zap.Logger
	root   *zap.SugaredLogger
	atom   = zap.NewAtomicLevel()
)

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO", "":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// InitLogger configures the process-wide logger. An empty logFile logs to stdout.
func InitLogger(levelStr, logFile string) error {
	level, err := ParseLogLevel(levelStr)
	if err != nil {
		return err
	}

	sink := zapcore.Lock(os.Stdout)
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.Lock(file)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	atom.SetLevel(level)
	l := zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, atom))

	logMu.Lock()
	logger = l
	root = l.Sugar()
	logMu.Unlock()
	return nil
}

// NewLogger returns a named child of the process logger, or a no-op logger
// when InitLogger has not run (tests, library use).
func NewLogger(name string) *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	if root == nil {
		return zap.NewNop().Sugar()
	}
	return root.Named(name)
}

// SetLevel changes the level of every logger created by NewLogger.
func SetLevel(levelStr string) error {
	level, err := ParseLogLevel(levelStr)
	if err != nil {
		return err
	}
	atom.SetLevel(level)
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if logger != nil {
		_ = logger.Sync()
	}
}
