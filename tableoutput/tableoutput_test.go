package tableoutput_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/mock"
	"pipelined.dev/rowpipe/row"
	"pipelined.dev/rowpipe/tableoutput"
)

// database creates sqlite file with provided statements executed.
func database(t *testing.T, statements ...string) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open(tableoutput.SQLite, dsn)
	require.NoError(t, err)
	defer db.Close()
	for _, s := range statements {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	return dsn
}

func count(t *testing.T, dsn, table string) int {
	t.Helper()
	db, err := sql.Open(tableoutput.SQLite, dsn)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// run executes source, table output and sink. Rejected rows are sent to
// errors sink.
func run(t *testing.T, source *mock.Source, cfg tableoutput.Config) (rowpipe.Result, *mock.Sink, *mock.Sink, error) {
	t.Helper()
	out, err := tableoutput.New(cfg)
	require.NoError(t, err)
	sink, errs := &mock.Sink{}, &mock.Sink{}
	res, err := rowpipe.Run(context.Background(), rowpipe.Graph{
		Transforms: []rowpipe.Definition{
			{Name: "source", Transform: source},
			{Name: "output", Transform: out},
			{Name: "sink", Transform: sink},
			{Name: "errors", Transform: errs},
		},
		Hops: []rowpipe.Hop{
			{From: "source", To: "output"},
			{From: "output", To: "sink"},
			{From: "output", To: "errors", Error: true},
		},
	})
	return res, sink, errs, err
}

func TestInsert(t *testing.T) {
	tests := []struct {
		name       string
		commitSize int
		batch      bool
	}{
		{name: "autocommit"},
		{name: "commit size", commitSize: 3},
		{name: "batch", commitSize: 4, batch: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dsn := database(t, `CREATE TABLE items (id INTEGER, value TEXT)`)
			_, sink, _, err := run(t, &mock.Source{Limit: 10}, tableoutput.Config{
				Driver:     tableoutput.SQLite,
				DSN:        dsn,
				Table:      "items",
				CommitSize: test.commitSize,
				Batch:      test.batch,
			})
			require.NoError(t, err)
			assert.Equal(t, 10, count(t, dsn, "items"))
			assert.Equal(t, 10, len(sink.Buffer()))
		})
	}
}

func TestReturnKeys(t *testing.T) {
	dsn := database(t, `CREATE TABLE items (key INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`)
	res, sink, _, err := run(t, &mock.Source{Limit: 3}, tableoutput.Config{
		Driver:     tableoutput.SQLite,
		DSN:        dsn,
		Table:      "items",
		ReturnKeys: true,
		KeyField:   "key",
		Fields:     []tableoutput.Field{{Column: "name", Stream: "value"}},
	})
	require.NoError(t, err)
	assert.Equal(t, rowpipe.Finished, res.Status)
	require.Equal(t, 3, len(sink.Buffer()))
	for i, r := range sink.Buffer() {
		key, ok := r.Get("key")
		require.True(t, ok)
		assert.Equal(t, int64(i+1), key)
		assert.Equal(t, 3, r.Len())
	}
}

func TestTruncate(t *testing.T) {
	dsn := database(t,
		`CREATE TABLE items (id INTEGER, value TEXT)`,
		`INSERT INTO items VALUES (100, 'a'), (101, 'b'), (102, 'c')`,
	)
	_, _, _, err := run(t, &mock.Source{Limit: 5}, tableoutput.Config{
		Driver:   tableoutput.SQLite,
		DSN:      dsn,
		Table:    "items",
		Truncate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, count(t, dsn, "items"))
}

func TestTableNameField(t *testing.T) {
	shape := row.NewMeta(
		row.Field{Name: "id", Type: row.TypeInteger},
		row.Field{Name: "target", Type: row.TypeString},
	)
	source := func() *mock.Source {
		return &mock.Source{
			Limit: 6,
			Shape: shape,
			Value: func(i int) []interface{} {
				return []interface{}{int64(i), []string{"odd", "even"}[i%2]}
			},
		}
	}
	t.Run("without name", func(t *testing.T) {
		dsn := database(t, `CREATE TABLE odd (id INTEGER)`, `CREATE TABLE even (id INTEGER)`)
		_, _, _, err := run(t, source(), tableoutput.Config{
			Driver:         tableoutput.SQLite,
			DSN:            dsn,
			TableNameField: "target",
			CommitSize:     2,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, count(t, dsn, "odd"))
		assert.Equal(t, 3, count(t, dsn, "even"))
	})
	t.Run("store name", func(t *testing.T) {
		dsn := database(t, `CREATE TABLE odd (id INTEGER, target TEXT)`, `CREATE TABLE even (id INTEGER, target TEXT)`)
		_, _, _, err := run(t, source(), tableoutput.Config{
			Driver:         tableoutput.SQLite,
			DSN:            dsn,
			TableNameField: "target",
			StoreTableName: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, count(t, dsn, "even WHERE target = 'even'"))
	})
	t.Run("invalid name", func(t *testing.T) {
		dsn := database(t)
		res, _, _, err := run(t, &mock.Source{
			Limit: 1,
			Shape: shape,
			Value: func(int) []interface{} { return []interface{}{int64(1), "x; DROP TABLE y"} },
		}, tableoutput.Config{
			Driver:         tableoutput.SQLite,
			DSN:            dsn,
			TableNameField: "target",
		})
		assert.Error(t, err)
		assert.Equal(t, rowpipe.Failed, res.Status)
	})
}

func TestPartition(t *testing.T) {
	shape := row.NewMeta(
		row.Field{Name: "id", Type: row.TypeInteger},
		row.Field{Name: "day", Type: row.TypeDate},
	)
	days := []time.Time{
		time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	source := &mock.Source{
		Limit: len(days),
		Shape: shape,
		Value: func(i int) []interface{} { return []interface{}{int64(i), days[i]} },
	}
	dsn := database(t,
		`CREATE TABLE events_202401 (id INTEGER, day TEXT)`,
		`CREATE TABLE events_202402 (id INTEGER, day TEXT)`,
	)
	_, _, _, err := run(t, source, tableoutput.Config{
		Driver:         tableoutput.SQLite,
		DSN:            dsn,
		Table:          "events",
		PartitionField: "day",
		PartitionBy:    tableoutput.Monthly,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count(t, dsn, "events_202401"))
	assert.Equal(t, 1, count(t, dsn, "events_202402"))
}

func TestIgnoreErrors(t *testing.T) {
	dsn := database(t, `CREATE TABLE items (id INTEGER PRIMARY KEY, value TEXT)`)
	source := &mock.Source{
		Limit: 6,
		Value: func(i int) []interface{} { return []interface{}{int64(i % 4), "v"} },
	}
	res, sink, errs, err := run(t, source, tableoutput.Config{
		Driver:       tableoutput.SQLite,
		DSN:          dsn,
		Table:        "items",
		IgnoreErrors: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, count(t, dsn, "items"))
	assert.Equal(t, 4, len(sink.Buffer()))
	require.Equal(t, 2, len(errs.Buffer()))
	tr, _ := res.Transform("output")
	assert.Equal(t, int64(2), tr.Rejected)
	transform, _ := errs.Buffer()[0].Get(rowpipe.ErrorTransformField)
	assert.Equal(t, "output", transform)
}

func TestInsertError(t *testing.T) {
	dsn := database(t, `CREATE TABLE items (id INTEGER PRIMARY KEY, value TEXT)`)
	source := &mock.Source{
		Limit: 3,
		Value: func(int) []interface{} { return []interface{}{int64(1), "v"} },
	}
	res, _, _, err := run(t, source, tableoutput.Config{
		Driver:     tableoutput.SQLite,
		DSN:        dsn,
		Table:      "items",
		CommitSize: 10,
	})
	var rowErr *rowpipe.RowProcessingError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "output", rowErr.Transform)
	assert.Equal(t, rowpipe.Failed, res.Status)
}

func TestOpenError(t *testing.T) {
	out, err := tableoutput.New(tableoutput.Config{
		Driver:   tableoutput.SQLite,
		DSN:      database(t),
		Table:    "missing",
		Truncate: true,
	})
	require.NoError(t, err)
	_, err = rowpipe.Run(context.Background(), rowpipe.Graph{
		Transforms: []rowpipe.Definition{
			{Name: "source", Transform: &mock.Source{Limit: 1}},
			{Name: "output", Transform: out},
		},
		Hops: []rowpipe.Hop{{From: "source", To: "output"}},
	})
	var openErr *rowpipe.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "output", openErr.Transform)
}

func TestMeta(t *testing.T) {
	tests := []struct {
		name string
		cfg  tableoutput.Config
		err  error
	}{
		{
			name: "missing stream field",
			cfg:  tableoutput.Config{Table: "t", Fields: []tableoutput.Field{{Column: "a", Stream: "missing"}}},
			err:  row.ErrFieldNotFound,
		},
		{
			name: "table name field type",
			cfg:  tableoutput.Config{TableNameField: "id"},
			err:  row.ErrType,
		},
		{
			name: "partition field type",
			cfg:  tableoutput.Config{Table: "t", PartitionField: "value", PartitionBy: tableoutput.Daily},
			err:  row.ErrType,
		},
		{
			name: "key field exists",
			cfg:  tableoutput.Config{Table: "t", ReturnKeys: true, KeyField: "id"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.cfg.Driver, test.cfg.DSN = tableoutput.SQLite, "unused"
			out, err := tableoutput.New(test.cfg)
			require.NoError(t, err)
			_, err = out.Meta([]row.Meta{mock.Meta})
			require.Error(t, err)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
			}
		})
	}

	out, err := tableoutput.New(tableoutput.Config{Driver: tableoutput.SQLite, DSN: "unused", Table: "t", ReturnKeys: true, KeyField: "key"})
	require.NoError(t, err)
	m, err := out.Meta([]row.Meta{mock.Meta})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "value", "key"}, m.Names())
	_, err = out.Meta(nil)
	assert.ErrorIs(t, err, rowpipe.ErrNoInput)
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   tableoutput.Config
		valid bool
	}{
		{name: "table", cfg: tableoutput.Config{Table: "t"}, valid: true},
		{name: "no table", cfg: tableoutput.Config{}},
		{name: "invalid table", cfg: tableoutput.Config{Table: "a b"}},
		{name: "table and field", cfg: tableoutput.Config{Table: "t", TableNameField: "f"}},
		{name: "store without field", cfg: tableoutput.Config{Table: "t", StoreTableName: true}},
		{name: "keys and batch", cfg: tableoutput.Config{Table: "t", ReturnKeys: true, KeyField: "k", Batch: true, CommitSize: 10}},
		{name: "keys without field", cfg: tableoutput.Config{Table: "t", ReturnKeys: true}},
		{name: "field without keys", cfg: tableoutput.Config{Table: "t", KeyField: "k"}},
		{name: "ignore errors in batch", cfg: tableoutput.Config{Table: "t", IgnoreErrors: true, Batch: true, CommitSize: 10}},
		{name: "batch without commit", cfg: tableoutput.Config{Table: "t", Batch: true}},
		{name: "truncate with field", cfg: tableoutput.Config{TableNameField: "f", Truncate: true}},
		{name: "truncate with partition", cfg: tableoutput.Config{Table: "t", Truncate: true, PartitionField: "d", PartitionBy: tableoutput.Daily}},
		{name: "partition with field", cfg: tableoutput.Config{TableNameField: "f", PartitionField: "d", PartitionBy: tableoutput.Daily}},
		{name: "partition without period", cfg: tableoutput.Config{Table: "t", PartitionField: "d"}},
		{name: "unknown period", cfg: tableoutput.Config{Table: "t", PartitionField: "d", PartitionBy: "year"}},
		{name: "duplicate column", cfg: tableoutput.Config{Table: "t", Fields: []tableoutput.Field{{Column: "a", Stream: "x"}, {Column: "a", Stream: "y"}}}},
		{name: "negative commit size", cfg: tableoutput.Config{Table: "t", CommitSize: -1}},
		{name: "partition", cfg: tableoutput.Config{Table: "t", PartitionField: "d", PartitionBy: tableoutput.Monthly}, valid: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.cfg.Driver, test.cfg.DSN = tableoutput.SQLite, "unused"
			err := test.cfg.Validate()
			if test.valid {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
		})
	}

	t.Run("driver rules", func(t *testing.T) {
		_, err := tableoutput.New(tableoutput.Config{Driver: "oracle", DSN: "x", Table: "t"})
		assert.Error(t, err)
		_, err = tableoutput.New(tableoutput.Config{Driver: tableoutput.Postgres, DSN: "x", Table: "t", ReturnKeys: true, KeyField: "k"})
		assert.ErrorIs(t, err, tableoutput.ErrConfig)
		_, err = tableoutput.New(tableoutput.Config{Driver: tableoutput.Postgres, DSN: "x", Table: "t", IgnoreErrors: true, CommitSize: 10})
		assert.ErrorIs(t, err, tableoutput.ErrConfig)
		_, err = tableoutput.New(tableoutput.Config{Driver: tableoutput.MySQL, DSN: "x", Table: "t", IgnoreErrors: true, CommitSize: 10})
		assert.NoError(t, err)
	})
}
