package log

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar  *zap.SugaredLogger
	format = "console"
)

// Configure rebuilds the global logger. format is "json" for the zap
// production encoder or "console" for the human readable one.
func Configure(l Level, f string) error {
	zl, err := zapcore.ParseLevel(strings.ToLower(string(l)))
	if err != nil {
		return fmt.Errorf("log: invalid level %q: %w", l, err)
	}
	level.SetLevel(zl)

	logger, f, err := build(f)
	if err != nil {
		return err
	}

	mu.Lock()
	old := sugar
	sugar = logger.Sugar()
	format = f
	mu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
	return nil
}

// build creates a logger bound to the shared atomic level and returns the
// normalized format name.
func build(f string) (*zap.Logger, string, error) {
	var cfg zap.Config
	switch f {
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		f = "console"
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = level
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, f, fmt.Errorf("log: build logger: %w", err)
	}
	return logger, f, nil
}

func SetLevel(l Level) {
	if zl, err := zapcore.ParseLevel(strings.ToLower(string(l))); err == nil {
		level.SetLevel(zl)
	}
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s != nil {
		_ = s.Sync()
	}
}

func Debug(msg string, kv ...any) {
	get().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	get().Infow(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	get().Errorw(msg, append([]any{zap.Error(err)}, kv...)...)
}

func get() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s != nil {
		return s
	}

	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		return sugar
	}
	// Lazy default keeps whatever level SetLevel already chose.
	logger, f, err := build(format)
	if err != nil {
		return zap.NewNop().Sugar()
	}
	sugar, format = logger.Sugar(), f
	return sugar
}
