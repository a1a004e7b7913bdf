package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ajitpratap0/resttap/pkg/flatten"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// Sink receives the records of every stream. Streams run concurrently, so
// implementations must be safe for concurrent use.
type Sink interface {
	WriteRecord(ctx context.Context, stream string, rec flatten.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, stream string, rec flatten.Record) error

// WriteRecord calls f.
func (f SinkFunc) WriteRecord(ctx context.Context, stream string, rec flatten.Record) error {
	return f(ctx, stream, rec)
}

// JSONLinesSink writes one {"stream": ..., "record": ...} object per line
// with sorted keys.
type JSONLinesSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewJSONLinesSink wraps w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: bufio.NewWriter(w)}
}

// WriteRecord encodes rec and appends it to the output.
func (s *JSONLinesSink) WriteRecord(_ context.Context, stream string, rec flatten.Record) error {
	line, err := jsonvalue.Encode(map[string]any{
		"type":   "RECORD",
		"stream": stream,
		"record": map[string]any(rec),
	})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.writeLine(line)
}

// WriteState appends the final state line.
func (s *JSONLinesSink) WriteState(state *State) error {
	data, err := state.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return s.writeLine(`{"type":"STATE","value":` + string(data) + `}`)
}

func (s *JSONLinesSink) writeLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// Flush writes buffered lines.
func (s *JSONLinesSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
