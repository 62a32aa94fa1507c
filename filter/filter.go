// Package filter provides a transform that routes rows by conditions.
package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/internal/validate"
	"pipelined.dev/rowpipe/row"
)

// Operators of conditions.
const (
	Equal        = "="
	NotEqual     = "<>"
	Less         = "<"
	LessEqual    = "<="
	Greater      = ">"
	GreaterEqual = ">="
	IsNull       = "is null"
	IsNotNull    = "is not null"
	Contains     = "contains"
	StartsWith   = "starts with"
)

// ErrNotString is returned when string operator is applied to non-string
// field.
var ErrNotString = errors.New("operator requires string field")

type (
	// Config of the filter. Rows that match conditions are sent to True
	// target, others to False target. If target is empty, rows are sent
	// to all normal outputs or dropped when the other target is set.
	Config struct {
		Conditions []Condition `yaml:"conditions" validate:"required,dive"`
		// Any matches rows that satisfy at least one condition.
		Any   bool   `yaml:"any"`
		True  string `yaml:"true"`
		False string `yaml:"false"`
	}

	// Condition compares field with constant value. Value is parsed with
	// the field type.
	Condition struct {
		Field    string `yaml:"field" validate:"required"`
		Operator string `yaml:"operator" validate:"required,oneof='=' '<>' '<' '<=' '>' '>=' 'is null' 'is not null' 'contains' 'starts with'"`
		Value    string `yaml:"value"`
	}
)

// Filter routes rows that match conditions.
type Filter struct {
	cfg Config
	// predicates are compiled from the first row of the run.
	predicates []predicate
	shape      row.Meta
}

type predicate struct {
	Condition
	pos   int
	typ   row.Type
	value interface{}
}

// New validates the config.
func New(cfg Config) (*Filter, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	return &Filter{cfg: cfg}, nil
}

// Meta implements rowpipe.Transform. Conditions are verified against the
// input shape.
func (f *Filter) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) == 0 {
		return row.Meta{}, rowpipe.ErrNoInput
	}
	if _, err := f.compile(inputs[0]); err != nil {
		return row.Meta{}, err
	}
	return inputs[0], nil
}

func (f *Filter) compile(m row.Meta) ([]predicate, error) {
	predicates := make([]predicate, len(f.cfg.Conditions))
	for i, c := range f.cfg.Conditions {
		pos := m.Index(c.Field)
		if pos == -1 {
			return nil, fmt.Errorf("%w: %q in %v", row.ErrFieldNotFound, c.Field, m)
		}
		p := predicate{Condition: c, pos: pos, typ: m.Field(pos).Type}
		switch c.Operator {
		case IsNull, IsNotNull:
		case Contains, StartsWith:
			if p.typ != row.TypeString {
				return nil, fmt.Errorf("%w: %q is %v", ErrNotString, c.Field, p.typ)
			}
			p.value = c.Value
		default:
			v, err := p.typ.Parse(c.Value)
			if err != nil {
				return nil, fmt.Errorf("condition on %q: %w", c.Field, err)
			}
			p.value = v
		}
		predicates[i] = p
	}
	return predicates, nil
}

// Open implements rowpipe.Transform.
func (f *Filter) Open(context.Context) error {
	f.predicates, f.shape = nil, row.Meta{}
	return nil
}

// Process implements rowpipe.Transform.
func (f *Filter) Process(_ context.Context, in rowpipe.Input, out *rowpipe.Output) error {
	r := in.Row()
	if f.predicates == nil || !f.shape.Equal(r.Meta()) {
		predicates, err := f.compile(r.Meta())
		if err != nil {
			return err
		}
		f.predicates, f.shape = predicates, r.Meta()
	}
	matched, err := f.match(r)
	if err != nil {
		return err
	}
	target, other := f.cfg.True, f.cfg.False
	if !matched {
		target, other = other, target
	}
	switch {
	case target != "":
		out.EmitTo(target, r)
	case other == "" && matched:
		out.Emit(r)
	}
	return nil
}

func (f *Filter) match(r row.Row) (bool, error) {
	for _, p := range f.predicates {
		ok, err := p.eval(r.Value(p.pos))
		if err != nil {
			return false, err
		}
		if ok == f.cfg.Any {
			return ok, nil
		}
	}
	return !f.cfg.Any, nil
}

func (p predicate) eval(v interface{}) (bool, error) {
	switch p.Operator {
	case IsNull:
		return v == nil, nil
	case IsNotNull:
		return v != nil, nil
	case Contains:
		s, ok := v.(string)
		return ok && strings.Contains(s, p.value.(string)), nil
	case StartsWith:
		s, ok := v.(string)
		return ok && strings.HasPrefix(s, p.value.(string)), nil
	}
	// nulls never match comparisons.
	if v == nil || p.value == nil {
		return false, nil
	}
	c, err := row.Compare(p.typ, v, p.value)
	if err != nil {
		return false, err
	}
	switch p.Operator {
	case Equal:
		return c == 0, nil
	case NotEqual:
		return c != 0, nil
	case Less:
		return c < 0, nil
	case LessEqual:
		return c <= 0, nil
	case Greater:
		return c > 0, nil
	case GreaterEqual:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown operator %q", p.Operator)
}

// Close implements rowpipe.Transform.
func (*Filter) Close(context.Context, *rowpipe.Output) error {
	return nil
}
