package rowpipe

import (
	"context"

	"pipelined.dev/rowpipe/row"
)

// Transform is a unit of row processing. The transform value is its
// configuration and must not be changed after the pipe is created.
//
// Engine calls the methods in the following order: Meta once per compile,
// Open once per run, Process until inputs are exhausted, Close once per
// run if Open succeeded. Process and Close are called from a single
// goroutine.
type Transform interface {
	// Meta resolves the shape of emitted rows from the shapes of inputs.
	// It must be a pure function. ErrNoInput should be returned if inputs
	// are required, but none provided.
	Meta(inputs []row.Meta) (row.Meta, error)
	// Open allocates resources needed for the run.
	Open(ctx context.Context) error
	// Process handles one input. Sources have empty input and return
	// io.EOF when they are done.
	Process(ctx context.Context, in Input, out *Output) error
	// Close releases resources. Rows emitted during Close are delivered
	// only if the instance finishes normally.
	Close(ctx context.Context, out *Output) error
}

// Input is a set of rows passed into a single Process call. It's empty
// for sources and has a single row for transforms with merged inputs.
// Lockstep transforms get one row per input, ended inputs have zero rows.
type Input []row.Row

// Row returns the first non-zero row of the input.
func (in Input) Row() row.Row {
	for _, r := range in {
		if !r.IsZero() {
			return r
		}
	}
	return row.Row{}
}

type (
	// Output collects rows emitted during a single call. Collected rows
	// are sent to channels after the call returns.
	Output struct {
		rows    []row.Row
		routed  []routed
		rejects []rejected
	}

	routed struct {
		target string
		row    row.Row
	}

	rejected struct {
		row row.Row
		err error
	}
)

// Emit sends rows to the normal outputs.
func (o *Output) Emit(rows ...row.Row) {
	o.rows = append(o.rows, rows...)
}

// EmitTo sends rows to the output connected with target transform only.
func (o *Output) EmitTo(target string, rows ...row.Row) {
	for _, r := range rows {
		o.routed = append(o.routed, routed{target: target, row: r})
	}
}

// Reject sends the row with error description to the error output.
func (o *Output) Reject(r row.Row, err error) {
	o.rejects = append(o.rejects, rejected{row: r, err: err})
}

// Len returns number of rows emitted to normal outputs.
func (o *Output) Len() int {
	return len(o.rows) + len(o.routed)
}

func (o *Output) reset() {
	clear(o.rows)
	clear(o.routed)
	clear(o.rejects)
	o.rows = o.rows[:0]
	o.routed = o.routed[:0]
	o.rejects = o.rejects[:0]
}
