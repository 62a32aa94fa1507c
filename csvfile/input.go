// Package csvfile provides transforms to read and write delimited text
// files.
package csvfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/internal/validate"
	"pipelined.dev/rowpipe/row"
)

const utf8BOM = "\uFEFF"

// ErrFieldCount is returned when a record has unexpected number of fields.
var ErrFieldCount = errors.New("wrong number of fields")

type (
	// InputConfig describes the file and the shape of its records.
	InputConfig struct {
		Path string `yaml:"path" validate:"required"`
		// Delimiter is a single character. Comma is used if empty.
		Delimiter string `yaml:"delimiter" validate:"omitempty,len=1"`
		// Header line is skipped.
		Header    bool    `yaml:"header"`
		TrimSpace bool    `yaml:"trim_space"`
		Fields    []Field `yaml:"fields" validate:"required,dive"`
	}

	// Field is a column of the file. Values are parsed with its type.
	Field struct {
		Name string `yaml:"name" validate:"required"`
		Type string `yaml:"type"`
	}
)

// Input reads rows from a delimited file.
type Input struct {
	cfg   InputConfig
	meta  row.Meta
	file  *os.File
	r     *csv.Reader
	line  int
	first bool
}

// NewInput validates the config.
func NewInput(cfg InputConfig) (*Input, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	if _, err := delimiter(cfg.Delimiter); err != nil {
		return nil, err
	}
	fields := make([]row.Field, len(cfg.Fields))
	for i, f := range cfg.Fields {
		t := row.TypeString
		if f.Type != "" {
			var err error
			if t, err = row.ParseType(f.Type); err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		fields[i] = row.Field{Name: f.Name, Type: t}
	}
	return &Input{cfg: cfg, meta: row.NewMeta(fields...)}, nil
}

// Meta implements rowpipe.Transform.
func (in *Input) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) > 0 {
		return row.Meta{}, fmt.Errorf("csv input doesn't accept inputs")
	}
	return in.meta, nil
}

// Open implements rowpipe.Transform.
func (in *Input) Open(context.Context) error {
	f, err := os.Open(in.cfg.Path)
	if err != nil {
		return err
	}
	comma, _ := delimiter(in.cfg.Delimiter)
	in.file = f
	in.r = csv.NewReader(bufio.NewReader(f))
	in.r.Comma = comma
	in.r.FieldsPerRecord = -1
	in.r.ReuseRecord = true
	in.line = 0
	in.first = true
	return nil
}

// Process implements rowpipe.Transform.
func (in *Input) Process(_ context.Context, _ rowpipe.Input, out *rowpipe.Output) error {
	record, err := in.next()
	if err != nil {
		return err
	}
	if in.first && in.cfg.Header {
		in.first = false
		if record, err = in.next(); err != nil {
			return err
		}
	}
	in.first = false
	if len(record) != in.meta.Len() {
		return fmt.Errorf("line %d: %w: expected %d, got %d", in.line, ErrFieldCount, in.meta.Len(), len(record))
	}
	values := make([]interface{}, len(record))
	for i, s := range record {
		if i == 0 && in.line == 1 {
			s = strings.TrimPrefix(s, utf8BOM)
		}
		if in.cfg.TrimSpace {
			s = strings.TrimSpace(s)
		}
		v, err := in.meta.Field(i).Type.Parse(s)
		if err != nil {
			return fmt.Errorf("line %d: field %q: %w", in.line, in.meta.Field(i).Name, err)
		}
		values[i] = v
	}
	r, err := row.New(in.meta, values...)
	if err != nil {
		return err
	}
	out.Emit(r)
	return nil
}

func (in *Input) next() ([]string, error) {
	record, err := in.r.Read()
	if err != nil {
		return nil, err
	}
	in.line++
	return record, nil
}

// Close implements rowpipe.Transform.
func (in *Input) Close(context.Context, *rowpipe.Output) error {
	if in.file == nil {
		return nil
	}
	err := in.file.Close()
	in.file, in.r = nil, nil
	return err
}

func delimiter(s string) (rune, error) {
	if s == "" {
		return ',', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r, nil
}
