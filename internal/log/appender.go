package log

import (
	"io"
	"sync"

	"firestige.xyz/flowlens/internal/config"
)

// MultiWriter fans each log line out to every appender. A failing appender
// does not stop the others.
type MultiWriter struct {
	mu      sync.Mutex
	writers []io.Writer
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.mu.Lock()
	m.writers = append(m.writers, writer)
	m.mu.Unlock()
	return m
}

// AddFileAppender appends a size-rotated file.
func (m *MultiWriter) AddFileAppender(fc config.FileOutputConfig) *MultiWriter {
	return m.Add(fileWriter(fc))
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0, 2)}
}
