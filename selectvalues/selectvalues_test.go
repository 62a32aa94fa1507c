package selectvalues_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/mock"
	"pipelined.dev/rowpipe/row"
	"pipelined.dev/rowpipe/selectvalues"
)

var meta = row.NewMeta(
	row.Field{Name: "id", Type: row.TypeInteger},
	row.Field{Name: "name", Type: row.TypeString},
	row.Field{Name: "score", Type: row.TypeNumber},
)

func source() *mock.Source {
	return &mock.Source{
		Limit: 2,
		Shape: meta,
		Value: func(i int) []interface{} {
			return []interface{}{int64(i), "n", float64(i) / 2}
		},
	}
}

func run(t *testing.T, s *selectvalues.Select) (*rowpipe.Pipe, []row.Row) {
	t.Helper()
	sink := &mock.Sink{}
	p, err := rowpipe.New(rowpipe.Graph{
		Transforms: []rowpipe.Definition{
			{Name: "source", Transform: source()},
			{Name: "select", Transform: s},
			{Name: "sink", Transform: sink},
		},
		Hops: []rowpipe.Hop{
			{From: "source", To: "select"},
			{From: "select", To: "sink"},
		},
	})
	require.NoError(t, err)
	res := p.Run(context.Background())
	require.NoError(t, res.Err)
	return p, sink.Buffer()
}

func TestSelect(t *testing.T) {
	s, err := selectvalues.New(selectvalues.Config{
		Fields: []selectvalues.Field{
			{Name: "score", Rename: "points"},
			{Name: "id"},
		},
	})
	require.NoError(t, err)
	p, rows := run(t, s)

	m, _ := p.Meta("select")
	assert.Equal(t, []string{"points", "id"}, m.Names())
	assert.Equal(t, row.TypeNumber, m.Field(0).Type)
	assert.Equal(t, "source", m.Field(0).Origin)
	require.Len(t, rows, 2)
	assert.Equal(t, []interface{}{0.5, int64(1)}, rows[1].Values())
}

func TestRemove(t *testing.T) {
	s, err := selectvalues.New(selectvalues.Config{Remove: []string{"name"}})
	require.NoError(t, err)
	p, rows := run(t, s)
	m, _ := p.Meta("select")
	assert.Equal(t, []string{"id", "score"}, m.Names())
	assert.Equal(t, []interface{}{int64(0), 0.0}, rows[0].Values())
}

func TestMissingField(t *testing.T) {
	testMissing := func(cfg selectvalues.Config) func(*testing.T) {
		return func(t *testing.T) {
			s, err := selectvalues.New(cfg)
			require.NoError(t, err)
			_, err = rowpipe.New(rowpipe.Graph{
				Transforms: []rowpipe.Definition{
					{Name: "source", Transform: source()},
					{Name: "select", Transform: s},
				},
				Hops: []rowpipe.Hop{{From: "source", To: "select"}},
			})
			var schemaErr *rowpipe.SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, "select", schemaErr.Transform)
			assert.ErrorIs(t, err, row.ErrFieldNotFound)
		}
	}
	t.Run("select", testMissing(selectvalues.Config{Fields: []selectvalues.Field{{Name: "age"}}}))
	t.Run("remove", testMissing(selectvalues.Config{Remove: []string{"age"}}))
}

func TestConfig(t *testing.T) {
	_, err := selectvalues.New(selectvalues.Config{
		Fields: []selectvalues.Field{{Name: "id"}},
		Remove: []string{"name"},
	})
	assert.Error(t, err)
	_, err = selectvalues.New(selectvalues.Config{Fields: []selectvalues.Field{{Rename: "x"}}})
	assert.Error(t, err)

	s, err := selectvalues.New(selectvalues.Config{Fields: []selectvalues.Field{
		{Name: "id", Rename: "name"},
		{Name: "name"},
	}})
	require.NoError(t, err)
	_, err = s.Meta([]row.Meta{meta})
	assert.Error(t, err, "duplicate names")
}
