// Package mock provides mocks for pipeline transforms and allows to execute integration tests.
package mock

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/row"
)

// Meta is the default shape of rows produced by Source.
var Meta = row.NewMeta(
	row.Field{Name: "id", Type: row.TypeInteger},
	row.Field{Name: "value", Type: row.TypeString},
)

// ErrSourceInput is returned when source is wired with inputs.
var ErrSourceInput = errors.New("source doesn't accept inputs")

// Counter counts calls and rows of a mock. It's not thread-safe, so
// should not be checked while pipe is running.
type Counter struct {
	Calls int
	Rows  int
}

func (c *Counter) advance(rows int) {
	c.Calls++
	c.Rows += rows
}

// Hooks allows to mock open and close hooks.
type Hooks struct {
	Opened int
	Closed int

	ErrorOnOpen  error
	ErrorOnClose error
	// Flush rows are emitted when mock is closed.
	Flush []row.Row
}

func (h *Hooks) open() error {
	h.Opened++
	return h.ErrorOnOpen
}

func (h *Hooks) close(out *rowpipe.Output) error {
	h.Closed++
	if h.ErrorOnClose != nil {
		return h.ErrorOnClose
	}
	out.Emit(h.Flush...)
	return nil
}

// Source mocks a source transform. It emits a row per call until limit
// is reached.
type Source struct {
	Counter
	Hooks
	Limit    int
	Interval time.Duration
	// Shape of emitted rows. Meta is used if not set.
	Shape row.Meta
	// Value returns values of i-th row. Default is id and its string.
	Value       func(i int) []interface{}
	ErrorOnCall error
}

// Meta implements rowpipe.Transform.
func (m *Source) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) > 0 {
		return row.Meta{}, ErrSourceInput
	}
	return m.shape(), nil
}

// Open implements rowpipe.Transform.
func (m *Source) Open(context.Context) error {
	m.Counter = Counter{}
	return m.Hooks.open()
}

// Process implements rowpipe.Transform.
func (m *Source) Process(_ context.Context, _ rowpipe.Input, out *rowpipe.Output) error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	if m.Rows >= m.Limit {
		return io.EOF
	}
	time.Sleep(m.Interval)
	values := []interface{}{int64(m.Rows), strconv.Itoa(m.Rows)}
	if m.Value != nil {
		values = m.Value(m.Rows)
	}
	r, err := row.New(m.shape(), values...)
	if err != nil {
		return err
	}
	out.Emit(r)
	m.advance(1)
	return nil
}

// Close implements rowpipe.Transform.
func (m *Source) Close(_ context.Context, out *rowpipe.Output) error {
	return m.Hooks.close(out)
}

func (m *Source) shape() row.Meta {
	if m.Shape.Len() == 0 {
		return Meta
	}
	return m.Shape
}

// Processor mocks a transform with inputs. It emits every input row
// unchanged unless Fn is provided.
type Processor struct {
	Counter
	Hooks
	Interval time.Duration
	// FailAt is the number of call that returns ErrorOnCall. If it's zero,
	// every call fails with ErrorOnCall.
	FailAt      int
	ErrorOnCall error
	// Fn replaces default behaviour.
	Fn func(in rowpipe.Input, out *rowpipe.Output) error
}

// Meta implements rowpipe.Transform.
func (m *Processor) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) == 0 {
		return row.Meta{}, rowpipe.ErrNoInput
	}
	return inputs[0], nil
}

// Open implements rowpipe.Transform.
func (m *Processor) Open(context.Context) error {
	m.Counter = Counter{}
	return m.Hooks.open()
}

// Process implements rowpipe.Transform.
func (m *Processor) Process(_ context.Context, in rowpipe.Input, out *rowpipe.Output) error {
	if m.ErrorOnCall != nil && (m.FailAt == 0 || m.Calls+1 == m.FailAt) {
		m.Calls++
		return m.ErrorOnCall
	}
	time.Sleep(m.Interval)
	if m.Fn != nil {
		if err := m.Fn(in, out); err != nil {
			return err
		}
		m.advance(out.Len())
		return nil
	}
	var n int
	for _, r := range in {
		if !r.IsZero() {
			out.Emit(r)
			n++
		}
	}
	m.advance(n)
	return nil
}

// Close implements rowpipe.Transform.
func (m *Processor) Close(_ context.Context, out *rowpipe.Output) error {
	return m.Hooks.close(out)
}

// Sink mocks a transform without outputs. Buffer is not thread-safe, so
// should not be checked while pipe is running.
type Sink struct {
	Counter
	Hooks
	Interval    time.Duration
	Discard     bool
	ErrorOnCall error
	buffer      []row.Row
}

// Meta implements rowpipe.Transform.
func (m *Sink) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) == 0 {
		return row.Meta{}, rowpipe.ErrNoInput
	}
	return inputs[0], nil
}

// Open implements rowpipe.Transform.
func (m *Sink) Open(context.Context) error {
	m.Counter = Counter{}
	m.buffer = nil
	return m.Hooks.open()
}

// Process implements rowpipe.Transform.
func (m *Sink) Process(_ context.Context, in rowpipe.Input, _ *rowpipe.Output) error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	time.Sleep(m.Interval)
	var n int
	for _, r := range in {
		if r.IsZero() {
			continue
		}
		if !m.Discard {
			m.buffer = append(m.buffer, r)
		}
		n++
	}
	m.advance(n)
	return nil
}

// Close implements rowpipe.Transform.
func (m *Sink) Close(_ context.Context, out *rowpipe.Output) error {
	return m.Hooks.close(out)
}

// Buffer returns rows received by sink.
func (m *Sink) Buffer() []row.Row {
	return m.buffer
}
