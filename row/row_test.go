package row_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/rowpipe/row"
)

var people = row.NewMeta(
	row.Field{Name: "id", Type: row.TypeInteger},
	row.Field{Name: "name", Type: row.TypeString, Length: 64},
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		values []interface{}
		err    error
	}{
		{
			name:   "valid",
			values: []interface{}{int64(1), "ann"},
		},
		{
			name:   "null",
			values: []interface{}{int64(1), nil},
		},
		{
			name:   "arity",
			values: []interface{}{int64(1)},
			err:    row.ErrArity,
		},
		{
			name:   "type",
			values: []interface{}{1, "ann"},
			err:    row.ErrType,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, err := row.New(people, test.values...)
			if test.err != nil {
				assert.True(t, errors.Is(err, test.err))
				assert.True(t, r.IsZero())
				return
			}
			require.NoError(t, err)
			assert.False(t, r.IsZero())
			assert.Equal(t, test.values, r.Values())
		})
	}
}

func TestRowImmutable(t *testing.T) {
	values := []interface{}{int64(1), "ann"}
	r := row.MustNew(people, values...)
	values[1] = "bob"
	assert.Equal(t, "ann", r.Value(1))

	copied := r.Values()
	copied[1] = "bob"
	assert.Equal(t, "ann", r.Value(1))

	t.Run("binary", func(t *testing.T) {
		meta := row.NewMeta(row.Field{Name: "data", Type: row.TypeBinary})
		data := []byte("abc")
		r := row.MustNew(meta, data)
		data[0] = 'x'
		assert.Equal(t, []byte("abc"), r.Value(0))

		r.Value(0).([]byte)[0] = 'y'
		r.Values()[0].([]byte)[1] = 'y'
		v, _ := r.Get("data")
		v.([]byte)[2] = 'y'
		assert.Equal(t, []byte("abc"), r.Value(0))
	})
}

func TestRowEqual(t *testing.T) {
	meta := row.NewMeta(
		row.Field{Name: "amount", Type: row.TypeBigNumber},
		row.Field{Name: "at", Type: row.TypeTimestamp},
		row.Field{Name: "blob", Type: row.TypeBinary},
	)
	at := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	a := row.MustNew(meta, decimal.RequireFromString("1.50"), at, []byte{1, 2})
	b := row.MustNew(meta, decimal.RequireFromString("1.5"), at.In(time.FixedZone("x", 3600)), []byte{1, 2})
	c := row.MustNew(meta, decimal.RequireFromString("1.5"), at, []byte{1, 3})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestRowGetExtend(t *testing.T) {
	r := row.MustNew(people, int64(7), "ann")
	v, ok := r.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "ann", v)
	_, ok = r.Get("missing")
	assert.False(t, ok)

	extended := people.Append(row.Field{Name: "active", Type: row.TypeBoolean})
	e, err := r.Extend(extended, true)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(7), "ann", true}, e.Values())
	assert.Equal(t, "[id=7 name=ann active=true]", e.String())
}

func TestEmptyShape(t *testing.T) {
	r, err := row.New(row.Meta{})
	require.NoError(t, err)
	assert.False(t, r.IsZero())
	assert.True(t, row.Row{}.IsZero())
}
