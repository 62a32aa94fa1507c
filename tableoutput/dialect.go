package tableoutput

import (
	"fmt"
	"strings"

	// registered drivers.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	SQLite    = "sqlite"
	Postgres  = "pgx"
	MySQL     = "mysql"
	SQLServer = "sqlserver"
)

// dialect holds SQL differences of drivers.
type dialect struct {
	open, close byte
	// placeholder returns i-th parameter, starting from 1.
	placeholder func(i int) string
	truncate    string
	// lastInsertID is true if driver returns generated keys in result.
	lastInsertID bool
	// abortsTx is true if failed statement aborts the transaction.
	abortsTx bool
}

var dialects = map[string]dialect{
	SQLite: {
		open: '"', close: '"',
		placeholder:  func(int) string { return "?" },
		truncate:     "DELETE FROM %s",
		lastInsertID: true,
	},
	Postgres: {
		open: '"', close: '"',
		placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
		truncate:    "TRUNCATE TABLE %s",
		abortsTx:    true,
	},
	MySQL: {
		open: '`', close: '`',
		placeholder:  func(int) string { return "?" },
		truncate:     "TRUNCATE TABLE %s",
		lastInsertID: true,
	},
	SQLServer: {
		open: '[', close: ']',
		placeholder: func(i int) string { return fmt.Sprintf("@p%d", i) },
		truncate:    "TRUNCATE TABLE %s",
	},
}

func (d dialect) quote(name string) string {
	escaped := strings.ReplaceAll(name, string(d.close), string([]byte{d.close, d.close}))
	return string(d.open) + escaped + string(d.close)
}

func (d dialect) qualified(schema, table string) string {
	if schema == "" {
		return d.quote(table)
	}
	return d.quote(schema) + "." + d.quote(table)
}

func (d dialect) insert(table string, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.quote(c)
		params[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoted, ", "), strings.Join(params, ", "))
}
