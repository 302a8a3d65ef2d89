package obslog

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesConsoleToStderrSink(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Console: true, Format: "json", Stderr: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("state_transition", zap.String("to", "game_ready"))
	_ = logger.Sync()
	out := buf.String()
	if !strings.Contains(out, `"msg":"state_transition"`) || !strings.Contains(out, `"to":"game_ready"`) {
		t.Fatalf("unexpected log output: %q", out)
	}
}

func TestNewWithoutSinksIsNop(t *testing.T) {
	logger, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected a disabled core when no sink is configured")
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bridge.log")
	logger, err := New(Options{ToFile: true, File: path, Format: "bogus"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("target_fault")
	_ = logger.Sync()
	if normalizeFormat("bogus") != "legacy" {
		t.Fatalf("unknown formats should fall back to legacy")
	}
}
