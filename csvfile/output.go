package csvfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"os"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/internal/validate"
	"pipelined.dev/rowpipe/row"
)

// OutputConfig describes the file written by Output.
type OutputConfig struct {
	Path      string `yaml:"path" validate:"required"`
	Delimiter string `yaml:"delimiter" validate:"omitempty,len=1"`
	// Header with field names is written before the first row.
	Header bool `yaml:"header"`
	Append bool `yaml:"append"`
}

// Output writes rows into a delimited file and passes them downstream.
type Output struct {
	cfg    OutputConfig
	file   *os.File
	buf    *bufio.Writer
	w      *csv.Writer
	header bool
	record []string
}

// NewOutput validates the config.
func NewOutput(cfg OutputConfig) (*Output, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	if _, err := delimiter(cfg.Delimiter); err != nil {
		return nil, err
	}
	return &Output{cfg: cfg}, nil
}

// Meta implements rowpipe.Transform.
func (o *Output) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) == 0 {
		return row.Meta{}, rowpipe.ErrNoInput
	}
	return inputs[0], nil
}

// Open implements rowpipe.Transform.
func (o *Output) Open(context.Context) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if o.cfg.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(o.cfg.Path, flags, 0o644)
	if err != nil {
		return err
	}
	comma, _ := delimiter(o.cfg.Delimiter)
	o.file = f
	o.buf = bufio.NewWriter(f)
	o.w = csv.NewWriter(o.buf)
	o.w.Comma = comma
	o.header = o.cfg.Header
	return nil
}

// Process implements rowpipe.Transform.
func (o *Output) Process(_ context.Context, in rowpipe.Input, out *rowpipe.Output) error {
	r := in.Row()
	m := r.Meta()
	if o.header {
		o.header = false
		if err := o.w.Write(m.Names()); err != nil {
			return err
		}
	}
	o.record = o.record[:0]
	for i := 0; i < r.Len(); i++ {
		o.record = append(o.record, m.Field(i).Type.Format(r.Value(i)))
	}
	if err := o.w.Write(o.record); err != nil {
		return err
	}
	out.Emit(r)
	return nil
}

// Close implements rowpipe.Transform. Buffered records are flushed.
func (o *Output) Close(context.Context, *rowpipe.Output) error {
	if o.file == nil {
		return nil
	}
	o.w.Flush()
	err := errors.Join(o.w.Error(), o.buf.Flush(), o.file.Close())
	o.file, o.buf, o.w = nil, nil, nil
	return err
}
