package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestDevHandlerFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newDevHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h)

	log.Info("server.start", "addr", "127.0.0.1:8080", "note", "two words")

	line := buf.String()
	if !strings.Contains(line, "[INFO]") {
		t.Fatalf("missing level tag: %q", line)
	}
	if !strings.Contains(line, "server.start") {
		t.Fatalf("missing message: %q", line)
	}
	if !strings.Contains(line, "addr=127.0.0.1:8080") {
		t.Fatalf("missing attr: %q", line)
	}
	if !strings.Contains(line, `note="two words"`) {
		t.Fatalf("value with spaces not quoted: %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color escapes with color disabled: %q", line)
	}
}

func TestDevHandlerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newDevHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	log := slog.New(h)

	log.Info("dropped")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record not filtered: %q", out)
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "[WARN]") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestDevHandlerWithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newDevHandler(&buf, nil, false)
	log := slog.New(h).With("component", "syncq")

	log.Info("syncq.commit", "address", "0xabc")

	line := buf.String()
	if !strings.Contains(line, "component=syncq") || !strings.Contains(line, "address=0xabc") {
		t.Fatalf("bound attrs missing: %q", line)
	}
}
