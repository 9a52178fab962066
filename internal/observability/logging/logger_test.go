package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestTextLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, "warn")

	logger.Info("batch_settled", "count", 3)
	logger.Warn("quick_scan_failed", "document_id", "d1")

	out := buf.String()
	if strings.Contains(out, "batch_settled") {
		t.Fatalf("info record should be filtered: %s", out)
	}
	if !strings.Contains(out, "quick_scan_failed") || !strings.Contains(out, "document_id=d1") {
		t.Fatalf("expected warn record, got %s", out)
	}
}
