package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentFollowsInit(t *testing.T) {
	log := Component("bucket").With("bucket", "cpu")

	var first, second bytes.Buffer
	InitWriter(&first, slog.LevelInfo, false)
	log.Info("day compressed")

	InitWriter(&second, slog.LevelWarn, true)
	log.Info("dropped")
	log.Warn("close evicted writer", "path", "/tmp/x")

	if got := first.String(); !strings.Contains(got, "component=bucket") || !strings.Contains(got, "bucket=cpu") {
		t.Errorf("text output missing attributes: %q", got)
	}
	got := second.String()
	if strings.Contains(got, "dropped") {
		t.Errorf("info record passed a warn level logger: %q", got)
	}
	if !strings.Contains(got, `"component":"bucket"`) || !strings.Contains(got, `"path":"/tmp/x"`) {
		t.Errorf("json output missing attributes: %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		err  bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
