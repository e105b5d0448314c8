package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"WARN":   slog.LevelWarn,
		" error": slog.LevelError,
		"":       slog.LevelInfo,
		"bogus":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "trip_id", "ab12cd")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "ab12cd") {
		t.Fatalf("expected warn line with attrs: %q", out)
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != slog.Default() {
		t.Fatalf("expected default logger")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if OrDefault(l) != l {
		t.Fatalf("expected given logger")
	}
}
