package containerdriver

import (
	"bytes"
	"strings"
	"sync"
)

// lineWriter is an io.Writer that buffers partial writes and invokes onLine
// once per complete newline-terminated line, the way a container's raw
// stdio stream arrives in arbitrary chunk boundaries rather than whole
// lines. Safe for concurrent use since stdout and stderr are each drained
// by their own goroutine inside the containerd IO pump but may still race
// against Close.
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	onLine func(line string)
}

func newLineWriter(onLine func(line string)) *lineWriter {
	return &lineWriter{onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: put it back for the next Write and stop.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.onLine(strings.TrimSuffix(line, "\n"))
	}
}

// Close flushes any buffered partial line as a final line, mirroring how a
// container's last log line before exit often has no trailing newline.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.onLine(w.buf.String())
		w.buf.Reset()
	}
	return nil
}
