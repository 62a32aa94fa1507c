// Package selectvalues provides a transform that selects, renames and
// removes fields of rows.
package selectvalues

import (
	"context"
	"fmt"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/internal/validate"
	"pipelined.dev/rowpipe/row"
)

type (
	// Config lists fields to keep in the provided order. If it's empty,
	// all fields except removed ones are kept.
	Config struct {
		Fields []Field  `yaml:"fields" validate:"dive"`
		Remove []string `yaml:"remove" validate:"dive,required"`
	}

	// Field is a selected field. Non-empty Rename changes its name.
	Field struct {
		Name   string `yaml:"name" validate:"required"`
		Rename string `yaml:"rename"`
	}
)

// Select projects rows with an explicit mapping.
type Select struct {
	cfg Config
	// mapping is resolved from the first row of the run.
	mapping row.Mapping
	target  row.Meta
	shape   row.Meta
}

// New validates the config.
func New(cfg Config) (*Select, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Fields) > 0 && len(cfg.Remove) > 0 {
		return nil, fmt.Errorf("fields and remove are mutually exclusive")
	}
	return &Select{cfg: cfg}, nil
}

// Meta implements rowpipe.Transform.
func (s *Select) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) == 0 {
		return row.Meta{}, rowpipe.ErrNoInput
	}
	_, target, err := s.resolve(inputs[0])
	return target, err
}

func (s *Select) resolve(m row.Meta) (row.Mapping, row.Meta, error) {
	names, renames := s.names(m)
	mapping, err := row.Select(m, names, renames)
	if err != nil {
		return nil, row.Meta{}, err
	}
	target, err := m.Project(mapping)
	if err != nil {
		return nil, row.Meta{}, err
	}
	seen := make(map[string]bool, target.Len())
	for _, name := range target.Names() {
		if seen[name] {
			return nil, row.Meta{}, fmt.Errorf("duplicate field %q in %v", name, target)
		}
		seen[name] = true
	}
	return mapping, target, nil
}

func (s *Select) names(m row.Meta) ([]string, map[string]string) {
	if len(s.cfg.Fields) > 0 {
		names := make([]string, len(s.cfg.Fields))
		renames := make(map[string]string)
		for i, f := range s.cfg.Fields {
			names[i] = f.Name
			if f.Rename != "" {
				renames[f.Name] = f.Rename
			}
		}
		return names, renames
	}
	removed := make(map[string]bool, len(s.cfg.Remove))
	for _, name := range s.cfg.Remove {
		removed[name] = true
	}
	names := make([]string, 0, m.Len())
	for _, name := range m.Names() {
		if !removed[name] {
			names = append(names, name)
		}
	}
	// removed fields must exist.
	for _, name := range s.cfg.Remove {
		if m.Index(name) == -1 {
			names = append(names, name)
		}
	}
	return names, nil
}

// Open implements rowpipe.Transform.
func (s *Select) Open(context.Context) error {
	s.mapping, s.target, s.shape = nil, row.Meta{}, row.Meta{}
	return nil
}

// Process implements rowpipe.Transform.
func (s *Select) Process(_ context.Context, in rowpipe.Input, out *rowpipe.Output) error {
	r := in.Row()
	if s.mapping == nil || !s.shape.Equal(r.Meta()) {
		mapping, target, err := s.resolve(r.Meta())
		if err != nil {
			return err
		}
		s.mapping, s.target, s.shape = mapping, target, r.Meta()
	}
	projected, err := s.mapping.Apply(s.target, r)
	if err != nil {
		return err
	}
	out.Emit(projected)
	return nil
}

// Close implements rowpipe.Transform.
func (*Select) Close(context.Context, *rowpipe.Output) error {
	return nil
}
