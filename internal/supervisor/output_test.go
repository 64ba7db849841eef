package supervisor

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLineWriter_SplitsLines(t *testing.T) {
	var buf bytes.Buffer
	w := newLineWriter(slog.New(slog.NewTextHandler(&buf, nil)), "stdout")

	_, _ = w.Write([]byte("first\nsec"))
	_, _ = w.Write([]byte("ond\r\n\nthird"))
	if strings.Contains(buf.String(), "third") {
		t.Fatal("partial line emitted before newline or Flush")
	}
	w.Flush()

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		i := strings.Index(line, "msg=")
		j := strings.Index(line, " stream=")
		msgs = append(msgs, line[i+len("msg="):j])
	}

	want := []string{"first", "second", "third"}
	if len(msgs) != len(want) {
		t.Fatalf("messages = %q, want %q", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message[%d] = %q, want %q", i, msgs[i], want[i])
		}
	}
}

func TestLineWriter_SplitsOverlongLines(t *testing.T) {
	var buf bytes.Buffer
	w := newLineWriter(slog.New(slog.NewJSONHandler(&buf, nil)), "stderr")

	n, err := w.Write(bytes.Repeat([]byte("x"), maxLineBytes+10))
	if err != nil || n != maxLineBytes+10 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("records before Flush = %d, want 1", got)
	}
	if len(w.buf) != 10 {
		t.Errorf("buffered = %d bytes, want 10", len(w.buf))
	}
}
