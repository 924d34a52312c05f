package log

import (
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
)

func reset(t *testing.T) {
	t.Helper()
	mu.Lock()
	sugar = nil
	format = "console"
	mu.Unlock()
	level.SetLevel(zapcore.InfoLevel)
	t.Cleanup(func() {
		mu.Lock()
		sugar = nil
		mu.Unlock()
		level.SetLevel(zapcore.InfoLevel)
	})
}

func TestLazyLoggerKeepsLevel(t *testing.T) {
	reset(t)
	SetLevel(LevelError)

	if get() == nil {
		t.Fatal("expected a logger")
	}
	if got := level.Level(); got != zapcore.ErrorLevel {
		t.Errorf("level = %s, want error", got)
	}
	if get().Desugar().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled after SetLevel(ERROR)")
	}
}

func TestConfigure(t *testing.T) {
	reset(t)
	if err := Configure("LOUD", "json"); err == nil {
		t.Fatal("expected invalid level error")
	}
	if err := Configure(LevelDebug, "json"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	mu.RLock()
	f := format
	mu.RUnlock()
	if f != "json" || !get().Desugar().Core().Enabled(zapcore.DebugLevel) {
		t.Errorf("format = %s, debug enabled = false", f)
	}
	if err := Configure(LevelInfo, "fancy"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	mu.RLock()
	f = format
	mu.RUnlock()
	if f != "console" {
		t.Errorf("unknown format should fall back to console, got %s", f)
	}
}

func TestConcurrentConfigureAndLog(t *testing.T) {
	reset(t)
	SetLevel(LevelError)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Debug("concurrent", "i", i)
		}()
		go func() {
			defer wg.Done()
			_ = Configure(LevelError, "console")
		}()
	}
	wg.Wait()
	Sync()
}
