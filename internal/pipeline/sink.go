package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// Row is one result row of a query step.
type Row struct {
	Columns []string
	Values  []any
}

// Sink receives the rows of query steps.
type Sink interface {
	Emit(tick uint64, step string, row Row) error
}

// WriterSink writes one human-readable line per row:
//
//	tick 3: id: 1, vx: 10, vy: 5, px: 30, py: 15
//
// Thread-safety: WriterSink is safe for concurrent use via internal mutex.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a sink writing lines to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit writes row as a single line.
func (s *WriterSink) Emit(tick uint64, _ string, row Row) error {
	var b strings.Builder
	fmt.Fprintf(&b, "tick %d: ", tick)
	for i, col := range row.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col)
		b.WriteString(": ")
		b.WriteString(FormatValue(row.Values[i]))
	}
	b.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, b.String())
	return err
}

// LogSink emits each row as an info-level slog record, so the projection is
// visible at the default log level.
type LogSink struct {
	Logger *slog.Logger // Defaults to slog.Default() when nil.
}

// Emit logs row with one attribute per column.
func (s LogSink) Emit(tick uint64, step string, row Row) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, 2*len(row.Columns)+4)
	attrs = append(attrs, "tick", tick, "step", step)
	for i, col := range row.Columns {
		attrs = append(attrs, col, FormatValue(row.Values[i]))
	}
	logger.Info("projection row", attrs...)
	return nil
}

// MultiSink fans each row out to every sink, stopping at the first error.
type MultiSink []Sink

// Emit forwards row to each sink in order.
func (m MultiSink) Emit(tick uint64, step string, row Row) error {
	for _, s := range m {
		if err := s.Emit(tick, step, row); err != nil {
			return err
		}
	}
	return nil
}

// DiscardSink drops every row.
type DiscardSink struct{}

// Emit does nothing.
func (DiscardSink) Emit(uint64, string, Row) error { return nil }

// FormatValue renders a scanned SQLite value for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []byte:
		return string(x)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
