package command

import (
	"bytes"
	"sync"
)

// stderrTailLines is how many trailing stderr lines a streamed command keeps
// for its failure message.
const stderrTailLines = 20

// lineWriter splits written bytes into lines and hands each complete line to
// deliver. It optionally remembers the last few lines.
type lineWriter struct {
	mu      sync.Mutex
	stream  StreamName
	buf     []byte
	deliver func(StreamName, []byte)

	keep int
	tail [][]byte
}

func newLineWriter(stream StreamName, keep int, deliver func(StreamName, []byte)) *lineWriter {
	return &lineWriter{stream: stream, keep: keep, deliver: deliver}
}

// Write implements io.Writer.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.buf[:i], "\r")
		w.push(bytes.Clone(line))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush delivers a trailing line that was not newline terminated.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) == 0 {
		return
	}
	line := bytes.Clone(bytes.TrimRight(w.buf, "\r"))
	w.buf = nil
	w.push(line)
}

// Tail returns the remembered lines joined by newlines.
func (w *lineWriter) Tail() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.Join(w.tail, []byte("\n"))
}

func (w *lineWriter) push(line []byte) {
	if w.keep > 0 {
		w.tail = append(w.tail, line)
		if len(w.tail) > w.keep {
			w.tail = w.tail[len(w.tail)-w.keep:]
		}
	}
	w.deliver(w.stream, line)
}
