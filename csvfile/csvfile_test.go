package csvfile_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/csvfile"
	"pipelined.dev/rowpipe/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var fields = []csvfile.Field{
	{Name: "id", Type: "integer"},
	{Name: "name"},
	{Name: "born", Type: "date"},
}

func TestCopy(t *testing.T) {
	input := writeFile(t, "\uFEFFid;name;born\n1;ann;1990-01-02\n2; bob ;\n")
	output := filepath.Join(t.TempDir(), "output.csv")

	source, err := csvfile.NewInput(csvfile.InputConfig{
		Path:      input,
		Delimiter: ";",
		Header:    true,
		TrimSpace: true,
		Fields:    fields,
	})
	require.NoError(t, err)
	writer, err := csvfile.NewOutput(csvfile.OutputConfig{Path: output, Header: true})
	require.NoError(t, err)
	sink := &mock.Sink{}

	res, err := rowpipe.Run(context.Background(), rowpipe.Graph{
		Transforms: []rowpipe.Definition{
			{Name: "input", Transform: source},
			{Name: "output", Transform: writer},
			{Name: "sink", Transform: sink},
		},
		Hops: []rowpipe.Hop{
			{From: "input", To: "output"},
			{From: "output", To: "sink"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, rowpipe.Finished, res.Status)

	rows := sink.Buffer()
	require.Len(t, rows, 2)
	assert.Equal(t, []interface{}{int64(1), "ann", time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)}, rows[0].Values())
	assert.Equal(t, []interface{}{int64(2), "bob", nil}, rows[1].Values())

	content, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "id,name,born\n1,ann,1990-01-02\n2,bob,\n", string(content))
}

func TestInputErrors(t *testing.T) {
	testInput := func(content string) func(*testing.T) {
		return func(t *testing.T) {
			source, err := csvfile.NewInput(csvfile.InputConfig{
				Path:   writeFile(t, content),
				Fields: fields,
			})
			require.NoError(t, err)
			res, err := rowpipe.Run(context.Background(), rowpipe.Graph{
				Transforms: []rowpipe.Definition{
					{Name: "input", Transform: source},
					{Name: "sink", Transform: &mock.Sink{}},
				},
				Hops: []rowpipe.Hop{{From: "input", To: "sink"}},
			})
			var rowErr *rowpipe.RowProcessingError
			require.ErrorAs(t, err, &rowErr)
			assert.Equal(t, "input", rowErr.Transform)
			assert.Equal(t, rowpipe.Failed, res.Status)
		}
	}
	t.Run("field count", testInput("1,ann\n"))
	t.Run("bad value", testInput("one,ann,\n"))
	t.Run("missing file", func(t *testing.T) {
		source, err := csvfile.NewInput(csvfile.InputConfig{
			Path:   filepath.Join(t.TempDir(), "missing.csv"),
			Fields: fields,
		})
		require.NoError(t, err)
		_, err = rowpipe.Run(context.Background(), rowpipe.Graph{
			Transforms: []rowpipe.Definition{
				{Name: "input", Transform: source},
				{Name: "sink", Transform: &mock.Sink{}},
			},
			Hops: []rowpipe.Hop{{From: "input", To: "sink"}},
		})
		var openErr *rowpipe.OpenError
		require.ErrorAs(t, err, &openErr)
	})
}

func TestConfig(t *testing.T) {
	_, err := csvfile.NewInput(csvfile.InputConfig{Path: "a.csv"})
	assert.Error(t, err, "fields are required")
	_, err = csvfile.NewInput(csvfile.InputConfig{Path: "a.csv", Delimiter: ";;", Fields: fields})
	assert.Error(t, err)
	_, err = csvfile.NewInput(csvfile.InputConfig{Path: "a.csv", Fields: []csvfile.Field{{Name: "x", Type: "money"}}})
	assert.Error(t, err)
	_, err = csvfile.NewOutput(csvfile.OutputConfig{Delimiter: "\""})
	assert.Error(t, err)
}
