// Package unique provides a transform that removes duplicate rows.
package unique

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeebo/xxh3"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/internal/validate"
	"pipelined.dev/rowpipe/row"
)

// ErrDuplicate is the cause of rejected duplicates.
var ErrDuplicate = errors.New("duplicate row")

// Config of unique rows. If Keys are empty, all fields are compared.
type Config struct {
	Keys []string `yaml:"keys" validate:"dive,required"`
	// RejectDuplicates sends duplicates to the error hop instead of
	// dropping them.
	RejectDuplicates bool `yaml:"reject_duplicates"`
}

// Unique passes the first row of every distinct key. Keys are compared
// by 128-bit hashes of their formatted values.
type Unique struct {
	cfg  Config
	seen map[xxh3.Uint128]struct{}
	buf  []byte
}

// New validates the config.
func New(cfg Config) (*Unique, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	return &Unique{cfg: cfg}, nil
}

// Meta implements rowpipe.Transform.
func (u *Unique) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) == 0 {
		return row.Meta{}, rowpipe.ErrNoInput
	}
	for _, key := range u.cfg.Keys {
		if inputs[0].Index(key) == -1 {
			return row.Meta{}, fmt.Errorf("%w: key %q in %v", row.ErrFieldNotFound, key, inputs[0])
		}
	}
	return inputs[0], nil
}

// Open implements rowpipe.Transform.
func (u *Unique) Open(context.Context) error {
	u.seen = make(map[xxh3.Uint128]struct{})
	return nil
}

// Process implements rowpipe.Transform.
func (u *Unique) Process(_ context.Context, in rowpipe.Input, out *rowpipe.Output) error {
	r := in.Row()
	key, err := u.hash(r)
	if err != nil {
		return err
	}
	if _, ok := u.seen[key]; ok {
		if u.cfg.RejectDuplicates {
			out.Reject(r, ErrDuplicate)
		}
		return nil
	}
	u.seen[key] = struct{}{}
	out.Emit(r)
	return nil
}

// hash writes formatted values prefixed with their length, so adjacent
// values can't shift into each other.
func (u *Unique) hash(r row.Row) (xxh3.Uint128, error) {
	m := r.Meta()
	u.buf = u.buf[:0]
	write := func(pos int) {
		v := r.Value(pos)
		if v == nil {
			u.buf = append(u.buf, 0)
			return
		}
		s := m.Field(pos).Type.Format(v)
		u.buf = append(u.buf, 1)
		u.buf = fmt.Appendf(u.buf, "%d:%s", len(s), s)
	}
	if len(u.cfg.Keys) == 0 {
		for i := 0; i < r.Len(); i++ {
			write(i)
		}
		return xxh3.Hash128(u.buf), nil
	}
	for _, key := range u.cfg.Keys {
		pos := m.Index(key)
		if pos == -1 {
			return xxh3.Uint128{}, fmt.Errorf("%w: key %q in %v", row.ErrFieldNotFound, key, m)
		}
		write(pos)
	}
	return xxh3.Hash128(u.buf), nil
}

// Close implements rowpipe.Transform.
func (u *Unique) Close(context.Context, *rowpipe.Output) error {
	u.seen = nil
	return nil
}
