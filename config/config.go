// Package config loads pipeline definitions from YAML files.
//
// A file declares transforms by kind and hops between them:
//
//	name: people
//	buffer_size: 100
//	transforms:
//	  - name: input
//	    kind: csv_input
//	    options:
//	      path: people.csv
//	      header: true
//	      fields:
//	        - {name: id, type: integer}
//	        - {name: name}
//	  - name: output
//	    kind: csv_output
//	    options:
//	      path: out.csv
//	hops:
//	  - {from: input, to: output}
//
// Options of every kind are decoded into the config of the transform.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/csvfile"
	"pipelined.dev/rowpipe/filter"
	"pipelined.dev/rowpipe/generate"
	"pipelined.dev/rowpipe/internal/validate"
	"pipelined.dev/rowpipe/selectvalues"
	"pipelined.dev/rowpipe/tableoutput"
	"pipelined.dev/rowpipe/throttle"
	"pipelined.dev/rowpipe/unique"
)

// ErrUnknownKind is returned when registry has no factory for the kind.
var ErrUnknownKind = errors.New("unknown transform kind")

type (
	// File is a pipeline definition.
	File struct {
		Name       string      `yaml:"name"`
		BufferSize int         `yaml:"buffer_size" validate:"gte=0"`
		Transforms []Transform `yaml:"transforms" validate:"required,dive"`
		Hops       []Hop       `yaml:"hops" validate:"dive"`
	}

	// Transform declares a node of the pipeline.
	Transform struct {
		Name       string    `yaml:"name" validate:"required"`
		Kind       string    `yaml:"kind" validate:"required"`
		OnError    string    `yaml:"on_error"`
		MaxErrors  int       `yaml:"max_errors" validate:"gte=0"`
		Tolerated  bool      `yaml:"tolerated"`
		Distribute bool      `yaml:"distribute"`
		Input      string    `yaml:"input"`
		Options    yaml.Node `yaml:"options"`
	}

	// Hop connects two transforms.
	Hop struct {
		From   string `yaml:"from" validate:"required"`
		To     string `yaml:"to" validate:"required"`
		Error  bool   `yaml:"error"`
		Buffer int    `yaml:"buffer" validate:"gte=0"`
	}
)

// Factory creates a transform from its options. Options node is empty if
// transform has no options.
type Factory func(options *yaml.Node) (rowpipe.Transform, error)

// Registry maps transform kinds onto factories.
type Registry map[string]Factory

// Builtin returns registry of transforms provided by this module.
func Builtin() Registry {
	return Registry{
		"generate":      factory(generate.New),
		"csv_input":     factory(csvfile.NewInput),
		"csv_output":    factory(csvfile.NewOutput),
		"select_values": factory(selectvalues.New),
		"filter":        factory(filter.New),
		"unique":        factory(unique.New),
		"throttle":      factory(throttle.New),
		"table_output":  factory(tableoutput.New),
	}
}

// Kinds returns sorted kinds of the registry.
func (r Registry) Kinds() []string {
	kinds := make([]string, 0, len(r))
	for k := range r {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// factory decodes options strictly into config C and calls constructor.
func factory[C any, T rowpipe.Transform](build func(C) (T, error)) Factory {
	return func(options *yaml.Node) (rowpipe.Transform, error) {
		var cfg C
		if options != nil && options.Kind != 0 {
			b, err := yaml.Marshal(options)
			if err != nil {
				return nil, err
			}
			dec := yaml.NewDecoder(bytes.NewReader(b))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil {
				return nil, err
			}
		}
		t, err := build(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Load decodes and validates pipeline definition. Unknown keys are
// errors.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, errors.New("empty pipeline definition")
		}
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile loads pipeline definition from the file.
func LoadFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	f, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Graph creates transforms with registry factories.
func (f *File) Graph(r Registry) (rowpipe.Graph, error) {
	g := rowpipe.Graph{
		Transforms: make([]rowpipe.Definition, 0, len(f.Transforms)),
		Hops:       make([]rowpipe.Hop, 0, len(f.Hops)),
	}
	for i := range f.Transforms {
		t := &f.Transforms[i]
		def, err := t.definition(r)
		if err != nil {
			return rowpipe.Graph{}, fmt.Errorf("transform %q: %w", t.Name, err)
		}
		g.Transforms = append(g.Transforms, def)
	}
	for _, h := range f.Hops {
		g.Hops = append(g.Hops, rowpipe.Hop{
			From:   h.From,
			To:     h.To,
			Error:  h.Error,
			Buffer: h.Buffer,
		})
	}
	return g, nil
}

func (t *Transform) definition(r Registry) (rowpipe.Definition, error) {
	build, ok := r[t.Kind]
	if !ok {
		return rowpipe.Definition{}, fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}
	policy, err := rowpipe.ParseErrorPolicy(t.OnError)
	if err != nil {
		return rowpipe.Definition{}, err
	}
	mode, err := rowpipe.ParseInputMode(t.Input)
	if err != nil {
		return rowpipe.Definition{}, err
	}
	transform, err := build(&t.Options)
	if err != nil {
		return rowpipe.Definition{}, fmt.Errorf("%s: %w", t.Kind, err)
	}
	return rowpipe.Definition{
		Name:       t.Name,
		Transform:  transform,
		OnError:    policy,
		MaxErrors:  t.MaxErrors,
		Tolerated:  t.Tolerated,
		Distribute: t.Distribute,
		Input:      mode,
	}, nil
}

// Options returns pipe options defined in the file.
func (f *File) Options() []rowpipe.Option {
	var options []rowpipe.Option
	if f.Name != "" {
		options = append(options, rowpipe.WithName(f.Name))
	}
	if f.BufferSize > 0 {
		options = append(options, rowpipe.WithBufferSize(f.BufferSize))
	}
	return options
}
