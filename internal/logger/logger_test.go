package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONEmitsStructuredRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("request served", "route", "/v1/completions")

	out := buf.String()
	for _, want := range []string{`"level":"INFO"`, "request served", `"route":"/v1/completions"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q does not contain %q", out, want)
		}
	}
}

func TestJSONLevelGate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Debug("dropped")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("records below warn were written: %q", buf.String())
	}
	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn record missing from %q", buf.String())
	}
}

func TestWithAddsAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("component", "engine")
	log.Info("ready")
	if !strings.Contains(buf.String(), `"component":"engine"`) {
		t.Fatalf("bound attr missing from %q", buf.String())
	}
}

func TestDiscardDropsEverything(t *testing.T) {
	t.Parallel()

	log := Discard()
	log.Info("gone")
	log.With("k", "v").WithGroup("g").Error("also gone")
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)

	got := FromContext(WithContext(context.Background(), log))
	got.Info("carried")
	if !strings.Contains(buf.String(), "carried") {
		t.Fatalf("context logger lost: %q", buf.String())
	}

	if FromContext(context.Background()) == nil {
		t.Fatalf("FromContext without a logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrettyLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo)
	log.Info("model loaded", "backend", "stub", "note", "two words")

	out := buf.String()
	for _, want := range []string{"INFO", "model loaded", "backend=stub", `note="two words"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q does not contain %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("record not newline-terminated: %q", out)
	}
}

func TestPrettyLevelGate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelWarn)
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}

	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error disabled at warn level")
	}
}

func TestPrettyGroupPrefix(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(NewPrettyHandler(&buf, nil)).WithGroup("cache").WithGroup("node")
	log.Info("inserted", "handle", 7)

	if !strings.Contains(buf.String(), "cache.node.handle=7") {
		t.Fatalf("group prefix missing from %q", buf.String())
	}
}

func TestPrettyEmptyGroupReturnsSameHandler(t *testing.T) {
	t.Parallel()

	h := NewPrettyHandler(&bytes.Buffer{}, nil)
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatalf("empty group produced a new handler")
	}
}

func TestPrettyBoundAttrsPrecedeRecordAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil).WithAttrs([]slog.Attr{slog.String("service", "arbor")})
	slog.New(h).Info("up", "port", 8080)

	out := buf.String()
	svc := strings.Index(out, "service=arbor")
	port := strings.Index(out, "port=8080")
	if svc < 0 || port < 0 || svc > port {
		t.Fatalf("attr order wrong in %q", out)
	}
}

func TestPrettyGroupValue(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Info("req", slog.Group("peer", slog.String("ip", "::1"), slog.Int("port", 9)))

	if !strings.Contains(buf.String(), "peer={ip=::1 port=9}") {
		t.Fatalf("group value rendering wrong: %q", buf.String())
	}
}

func TestPrettySourceSuffix(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{AddSource: true})).Info("located")

	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("source suffix missing from %q", buf.String())
	}
}
