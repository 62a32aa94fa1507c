// Package row provides the data model of rowpipe: typed rows and the
// metadata that describes their shape.
package row

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownType is returned when the type name or value is not known.
	ErrUnknownType = errors.New("unknown type")
	// ErrType is returned when a value doesn't match the field type.
	ErrType = errors.New("value type mismatch")
	// ErrArity is returned when number of values doesn't match the
	// metadata.
	ErrArity = errors.New("arity mismatch")
	// ErrFieldNotFound is returned when a mapping references a field that
	// is absent in the metadata.
	ErrFieldNotFound = errors.New("field not found")
)

// Field describes a single position of a row.
type Field struct {
	Name string
	Type Type
	// Length and Precision are display hints only. They are not part of
	// the structural comparison.
	Length    int
	Precision int
	// Origin is the name of the transform that introduced the field.
	Origin string
}

func (f Field) String() string {
	return fmt.Sprintf("%s:%v", f.Name, f.Type)
}

// Meta is an immutable ordered list of fields. Zero value describes an
// empty shape.
type Meta struct {
	fields []Field
}

// NewMeta creates metadata with a copy of provided fields.
func NewMeta(fields ...Field) Meta {
	return Meta{fields: append([]Field(nil), fields...)}
}

// Len returns number of fields.
func (m Meta) Len() int {
	return len(m.fields)
}

// Field returns the field at position i.
func (m Meta) Field(i int) Field {
	return m.fields[i]
}

// Fields returns a copy of fields.
func (m Meta) Fields() []Field {
	return append([]Field(nil), m.fields...)
}

// Index returns position of the field with provided name or -1.
func (m Meta) Index(name string) int {
	for i := range m.fields {
		if m.fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Names returns field names in order.
func (m Meta) Names() []string {
	names := make([]string, len(m.fields))
	for i := range m.fields {
		names[i] = m.fields[i].Name
	}
	return names
}

// Compatible returns true if both metadata have the same number of fields
// and the same types positionally. Names are ignored.
func (m Meta) Compatible(o Meta) bool {
	if len(m.fields) != len(o.fields) {
		return false
	}
	if len(m.fields) == 0 || &m.fields[0] == &o.fields[0] {
		return true
	}
	for i := range m.fields {
		if m.fields[i].Type != o.fields[i].Type {
			return false
		}
	}
	return true
}

// Equal returns true if metadata is compatible and all names match.
func (m Meta) Equal(o Meta) bool {
	if !m.Compatible(o) {
		return false
	}
	for i := range m.fields {
		if m.fields[i].Name != o.fields[i].Name {
			return false
		}
	}
	return true
}

// Append returns new metadata with fields added to the end.
func (m Meta) Append(fields ...Field) Meta {
	result := make([]Field, 0, len(m.fields)+len(fields))
	result = append(result, m.fields...)
	return Meta{fields: append(result, fields...)}
}

// Merge returns new metadata with fields of o that are not present in m
// by name.
func (m Meta) Merge(o Meta) Meta {
	var missing []Field
	for _, f := range o.fields {
		if m.Index(f.Name) == -1 {
			missing = append(missing, f)
		}
	}
	return m.Append(missing...)
}

// WithOrigin returns new metadata where every field without origin is
// attributed to provided transform.
func (m Meta) WithOrigin(origin string) Meta {
	result := m.Fields()
	for i := range result {
		if result[i].Origin == "" {
			result[i].Origin = origin
		}
	}
	return Meta{fields: result}
}

// Project returns the target shape of the mapping. Target positions must
// form a contiguous range starting at zero.
func (m Meta) Project(mp Mapping) (Meta, error) {
	fields := make([]Field, len(mp))
	set := make([]bool, len(mp))
	for _, p := range mp {
		if p.Source < 0 || p.Source >= len(m.fields) {
			return Meta{}, fmt.Errorf("%w: source position %d of %v", ErrFieldNotFound, p.Source, m)
		}
		if p.Target < 0 || p.Target >= len(mp) || set[p.Target] {
			return Meta{}, fmt.Errorf("invalid target position %d", p.Target)
		}
		fields[p.Target] = m.fields[p.Source]
		if p.Name != "" {
			fields[p.Target].Name = p.Name
		}
		set[p.Target] = true
	}
	return Meta{fields: fields}, nil
}

func (m Meta) String() string {
	s := make([]string, len(m.fields))
	for i := range m.fields {
		s[i] = m.fields[i].String()
	}
	return "{" + strings.Join(s, ",") + "}"
}

// Pair maps the source position onto the target position. Non-empty Name
// renames the field.
type Pair struct {
	Source int
	Target int
	Name   string
}

// Mapping is an explicit projection of one row shape onto another.
type Mapping []Pair

// Select creates a mapping that keeps the named fields in provided order.
// Renames maps source names to new names.
func Select(m Meta, names []string, renames map[string]string) (Mapping, error) {
	mp := make(Mapping, 0, len(names))
	for i, name := range names {
		pos := m.Index(name)
		if pos == -1 {
			return nil, fmt.Errorf("%w: %q in %v", ErrFieldNotFound, name, m)
		}
		mp = append(mp, Pair{Source: pos, Target: i, Name: renames[name]})
	}
	return mp, nil
}

// Apply projects the row onto the target shape.
func (mp Mapping) Apply(target Meta, r Row) (Row, error) {
	if target.Len() != len(mp) {
		return Row{}, fmt.Errorf("%w: mapping of %d fields for %v", ErrArity, len(mp), target)
	}
	values := make([]interface{}, len(mp))
	for _, p := range mp {
		if p.Source >= len(r.values) {
			return Row{}, fmt.Errorf("%w: source position %d of %v", ErrFieldNotFound, p.Source, r.meta)
		}
		values[p.Target] = r.values[p.Source]
	}
	return New(target, values...)
}
