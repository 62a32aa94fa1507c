// Package generate provides a source of rows with constant values.
package generate

import (
	"context"
	"fmt"
	"io"
	"time"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/internal/validate"
	"pipelined.dev/rowpipe/row"
)

type (
	// Config of generated rows.
	Config struct {
		// Limit is the number of rows to generate. It's ignored if
		// NeverEnding is set.
		Limit       int  `yaml:"limit" validate:"gte=0"`
		NeverEnding bool `yaml:"never_ending"`
		// Interval is a delay before every row.
		Interval time.Duration `yaml:"interval" validate:"gte=0"`
		// RowNumberField adds a field with 1-based row number.
		RowNumberField string  `yaml:"row_number_field"`
		Fields         []Field `yaml:"fields" validate:"dive"`
	}

	// Field is a constant field of generated rows. Value is parsed with
	// the field type.
	Field struct {
		Name  string `yaml:"name" validate:"required"`
		Type  string `yaml:"type" validate:"required"`
		Value string `yaml:"value"`
	}
)

// Generate emits rows with constant values.
type Generate struct {
	cfg    Config
	meta   row.Meta
	values []interface{}
	n      int
}

// New validates the config and parses constant values.
func New(cfg Config) (*Generate, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	fields := make([]row.Field, 0, len(cfg.Fields)+1)
	values := make([]interface{}, 0, len(cfg.Fields)+1)
	for _, f := range cfg.Fields {
		t, err := row.ParseType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		v, err := t.Parse(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields = append(fields, row.Field{Name: f.Name, Type: t})
		values = append(values, v)
	}
	if cfg.RowNumberField != "" {
		fields = append(fields, row.Field{Name: cfg.RowNumberField, Type: row.TypeInteger})
		values = append(values, nil)
	}
	meta := row.NewMeta(fields...)
	if len(meta.Names()) != len(uniqueNames(meta)) {
		return nil, fmt.Errorf("duplicate field names in %v", meta)
	}
	return &Generate{cfg: cfg, meta: meta, values: values}, nil
}

// Meta implements rowpipe.Transform.
func (g *Generate) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) > 0 {
		return row.Meta{}, fmt.Errorf("generate doesn't accept inputs")
	}
	return g.meta, nil
}

// Open implements rowpipe.Transform.
func (g *Generate) Open(context.Context) error {
	g.n = 0
	return nil
}

// Process implements rowpipe.Transform.
func (g *Generate) Process(ctx context.Context, _ rowpipe.Input, out *rowpipe.Output) error {
	if !g.cfg.NeverEnding && g.n >= g.cfg.Limit {
		return io.EOF
	}
	if g.cfg.Interval > 0 {
		t := time.NewTimer(g.cfg.Interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	g.n++
	values := g.values
	if g.cfg.RowNumberField != "" {
		values = append(values[:len(values)-1:len(values)-1], int64(g.n))
	}
	r, err := row.New(g.meta, values...)
	if err != nil {
		return err
	}
	out.Emit(r)
	return nil
}

// Close implements rowpipe.Transform.
func (*Generate) Close(context.Context, *rowpipe.Output) error {
	return nil
}

func uniqueNames(m row.Meta) map[string]struct{} {
	names := make(map[string]struct{}, m.Len())
	for _, name := range m.Names() {
		names[name] = struct{}{}
	}
	return names
}
