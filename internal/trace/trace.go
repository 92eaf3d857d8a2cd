// Package trace emits execution telemetry: a JSONL trace of instance
// lifecycle transitions and a DOT rendering of the instance DAG. Both are
// write-once run artifacts for external reporting tools; the engine never
// reads them back.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Event is one lifecycle transition of one task instance.
//
// Seq comes from the scheduler's logical clock, so event order is
// deterministic and never depends on wall-clock ties. DurationMS is only
// set on terminal transitions.
type Event struct {
	Seq        int64  `json:"seq"`
	Instance   string `json:"instance"`
	Template   string `json:"template"`
	Sample     string `json:"sample,omitempty"`
	State      string `json:"state"`
	Backend    string `json:"backend,omitempty"`
	CPUs       int    `json:"cpus,omitempty"`
	MemoryMB   int    `json:"memory_mb,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	CacheHit   bool   `json:"cache_hit,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Writer appends trace events as JSON lines.
type Writer struct {
	mu  sync.Mutex
	out io.WriteCloser
}

// NewWriter creates (truncating) the trace file at path.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	return &Writer{out: f}, nil
}

// NewWriterTo wraps an arbitrary sink; used by tests.
func NewWriterTo(w io.WriteCloser) *Writer {
	return &Writer{out: w}
}

// Emit appends one event. Trace failures are deliberately not fatal to the
// run; the caller logs and continues.
func (w *Writer) Emit(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = w.out.Write(line)
	return err
}

// Close flushes and closes the trace file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}
