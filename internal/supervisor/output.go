package supervisor

import (
	"bytes"
	"log/slog"
)

// maxLineBytes caps a single forwarded log line; longer lines are split.
const maxLineBytes = 64 * 1024

// lineWriter turns a child output stream into one log record per line.
// exec.Cmd copies the pipe into it from a single goroutine and blocks while
// Write runs, so a slow log sink throttles the child instead of buffering.
type lineWriter struct {
	logger *slog.Logger
	stream string
	buf    []byte
}

func newLineWriter(logger *slog.Logger, stream string) *lineWriter {
	return &lineWriter{logger: logger, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = append(w.buf, p...)
			for len(w.buf) >= maxLineBytes {
				w.emit(w.buf[:maxLineBytes])
				w.buf = append(w.buf[:0], w.buf[maxLineBytes:]...)
			}
			break
		}
		w.buf = append(w.buf, p[:i]...)
		w.emit(w.buf)
		w.buf = w.buf[:0]
		p = p[i+1:]
	}
	return n, nil
}

// Flush logs a trailing partial line, if any.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Info(string(line), "stream", w.stream)
}
