package row

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is an immutable ordered tuple of values shaped by its metadata.
// Zero value is an empty row which is not a valid data row.
type Row struct {
	meta   Meta
	values []interface{}
}

// New creates a row. The number of values and their types must match the
// metadata. Values are copied, including the contents of binary values.
func New(meta Meta, values ...interface{}) (Row, error) {
	if len(values) != meta.Len() {
		return Row{}, fmt.Errorf("%w: %d values for %v", ErrArity, len(values), meta)
	}
	for i, v := range values {
		if f := meta.Field(i); !f.Type.Check(v) {
			return Row{}, fmt.Errorf("%w: field %q expects %v, got %T", ErrType, f.Name, f.Type, v)
		}
	}
	r := Row{
		meta:   meta,
		values: make([]interface{}, len(values)),
	}
	for i, v := range values {
		r.values[i] = clone(v)
	}
	return r, nil
}

// MustNew is like New but panics if the row is not valid.
func MustNew(meta Meta, values ...interface{}) Row {
	r, err := New(meta, values...)
	if err != nil {
		panic(err)
	}
	return r
}

// IsZero returns true if the row was not created with New.
func (r Row) IsZero() bool {
	return r.values == nil
}

// Meta returns row metadata.
func (r Row) Meta() Meta {
	return r.meta
}

// Len returns number of values.
func (r Row) Len() int {
	return len(r.values)
}

// Value returns value at position i. Binary values are copied.
func (r Row) Value(i int) interface{} {
	return clone(r.values[i])
}

// Values returns a copy of row values.
func (r Row) Values() []interface{} {
	values := make([]interface{}, len(r.values))
	for i, v := range r.values {
		values[i] = clone(v)
	}
	return values
}

// Get returns value of the named field.
func (r Row) Get(name string) (interface{}, bool) {
	i := r.meta.Index(name)
	if i == -1 {
		return nil, false
	}
	return clone(r.values[i]), true
}

// clone copies mutable values. Other supported values are immutable.
func clone(v interface{}) interface{} {
	if b, ok := v.([]byte); ok && b != nil {
		return bytes.Clone(b)
	}
	return v
}

// Extend creates a new row with the values appended. Meta must describe
// the resulting shape.
func (r Row) Extend(meta Meta, values ...interface{}) (Row, error) {
	all := make([]interface{}, 0, len(r.values)+len(values))
	all = append(all, r.values...)
	return New(meta, append(all, values...)...)
}

// Equal returns true if both rows have equal metadata and values.
func (r Row) Equal(o Row) bool {
	if !r.meta.Equal(o.meta) || len(r.values) != len(o.values) {
		return false
	}
	for i := range r.values {
		if !equalValue(r.values[i], o.values[i]) {
			return false
		}
	}
	return true
}

func (r Row) String() string {
	s := make([]string, len(r.values))
	for i := range r.values {
		s[i] = fmt.Sprintf("%s=%s", r.meta.Field(i).Name, r.meta.Field(i).Type.Format(r.values[i]))
	}
	return "[" + strings.Join(s, " ") + "]"
}

func equalValue(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	}
	return a == b
}
