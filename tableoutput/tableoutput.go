// Package tableoutput provides a transform that inserts rows into a
// database table.
package tableoutput

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/internal/validate"
	"pipelined.dev/rowpipe/row"
)

const pingTimeout = 5 * time.Second

// TableOutput inserts every input row and passes it downstream. If keys
// are returned, generated key is appended to the row.
type TableOutput struct {
	cfg Config
	d   dialect

	db *sql.DB
	tx *sql.Tx
	// statements are prepared per target table.
	stmts       map[string]*sql.Stmt
	pending     []pending
	uncommitted int

	// plan is resolved from the first row of the run.
	plan  *plan
	shape row.Meta
}

type (
	plan struct {
		columns   []string
		positions []int
		table     int
		partition int
		output    row.Meta
	}

	pending struct {
		table  string
		values []interface{}
	}
)

// New validates the config.
func New(cfg Config) (*TableOutput, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TableOutput{cfg: cfg, d: dialects[cfg.Driver]}, nil
}

// Meta implements rowpipe.Transform. Mapped, table name and partition
// fields must exist in the input.
func (t *TableOutput) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) == 0 {
		return row.Meta{}, rowpipe.ErrNoInput
	}
	p, err := t.resolve(inputs[0])
	if err != nil {
		return row.Meta{}, err
	}
	return p.output, nil
}

func (t *TableOutput) resolve(m row.Meta) (*plan, error) {
	p := plan{table: -1, partition: -1, output: m}
	index := func(name string, types ...row.Type) (int, error) {
		pos := m.Index(name)
		if pos == -1 {
			return -1, fmt.Errorf("%w: %q in %v", row.ErrFieldNotFound, name, m)
		}
		if len(types) == 0 {
			return pos, nil
		}
		for _, typ := range types {
			if m.Field(pos).Type == typ {
				return pos, nil
			}
		}
		return -1, fmt.Errorf("%w: field %q is %v", row.ErrType, name, m.Field(pos).Type)
	}
	var err error
	if t.cfg.TableNameField != "" {
		if p.table, err = index(t.cfg.TableNameField, row.TypeString); err != nil {
			return nil, err
		}
	}
	if t.cfg.PartitionField != "" {
		if p.partition, err = index(t.cfg.PartitionField, row.TypeDate, row.TypeTimestamp); err != nil {
			return nil, err
		}
	}
	if len(t.cfg.Fields) > 0 {
		for _, f := range t.cfg.Fields {
			pos, err := index(f.Stream)
			if err != nil {
				return nil, err
			}
			p.columns = append(p.columns, f.Column)
			p.positions = append(p.positions, pos)
		}
	} else {
		for i, name := range m.Names() {
			if i == p.table && !t.cfg.StoreTableName {
				continue
			}
			p.columns = append(p.columns, name)
			p.positions = append(p.positions, i)
		}
	}
	if len(p.columns) == 0 {
		return nil, fmt.Errorf("no columns to insert from %v", m)
	}
	if t.cfg.ReturnKeys {
		if m.Index(t.cfg.KeyField) != -1 {
			return nil, fmt.Errorf("key field %q already exists in %v", t.cfg.KeyField, m)
		}
		p.output = m.Append(row.Field{Name: t.cfg.KeyField, Type: row.TypeInteger})
	}
	return &p, nil
}

// Open implements rowpipe.Transform. Connection is verified and the table
// is truncated if requested.
func (t *TableOutput) Open(ctx context.Context) error {
	db, err := sql.Open(t.cfg.Driver, t.cfg.DSN)
	if err != nil {
		return fmt.Errorf("%s: open: %w", t.cfg.Driver, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("%s: ping: %w", t.cfg.Driver, err)
	}
	if t.cfg.Truncate {
		query := fmt.Sprintf(t.d.truncate, t.d.qualified(t.cfg.Schema, t.cfg.Table))
		if _, err := db.ExecContext(ctx, query); err != nil {
			db.Close()
			return fmt.Errorf("%s: truncate: %w", t.cfg.Driver, err)
		}
	}
	t.db = db
	t.stmts = make(map[string]*sql.Stmt)
	t.pending = t.pending[:0]
	t.uncommitted = 0
	t.plan, t.shape = nil, row.Meta{}
	return nil
}

// Process implements rowpipe.Transform.
func (t *TableOutput) Process(ctx context.Context, in rowpipe.Input, out *rowpipe.Output) error {
	r := in.Row()
	if t.plan == nil || !t.shape.Equal(r.Meta()) {
		p, err := t.resolve(r.Meta())
		if err != nil {
			return err
		}
		t.plan, t.shape = p, r.Meta()
	}
	table, err := t.table(r)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(t.plan.positions))
	for i, pos := range t.plan.positions {
		values[i] = r.Value(pos)
	}

	if t.cfg.Batch {
		t.pending = append(t.pending, pending{table: table, values: values})
		out.Emit(r)
		return t.advance(ctx)
	}

	res, err := t.exec(ctx, table, values)
	if err != nil {
		if t.cfg.IgnoreErrors {
			out.Reject(r, err)
			return nil
		}
		return err
	}
	if t.cfg.ReturnKeys {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%s: generated key: %w", t.cfg.Driver, err)
		}
		if r, err = r.Extend(t.plan.output, id); err != nil {
			return err
		}
	}
	out.Emit(r)
	return t.advance(ctx)
}

// table returns the qualified name of the target table for the row.
func (t *TableOutput) table(r row.Row) (string, error) {
	name := t.cfg.Table
	if t.plan.table != -1 {
		v, _ := r.Value(t.plan.table).(string)
		if !validate.Identifier(v) {
			return "", fmt.Errorf("invalid table name %q in field %q", v, t.cfg.TableNameField)
		}
		name = v
	}
	if t.plan.partition != -1 {
		date, ok := r.Value(t.plan.partition).(time.Time)
		if !ok {
			return "", fmt.Errorf("partition field %q is null", t.cfg.PartitionField)
		}
		layout := "200601"
		if t.cfg.PartitionBy == Daily {
			layout = "20060102"
		}
		name = name + "_" + date.Format(layout)
	}
	return t.d.qualified(t.cfg.Schema, name), nil
}

func (t *TableOutput) exec(ctx context.Context, table string, values []interface{}) (sql.Result, error) {
	stmt, err := t.stmt(ctx, table)
	if err != nil {
		return nil, err
	}
	res, err := stmt.ExecContext(ctx, values...)
	if err != nil {
		return nil, fmt.Errorf("%s: insert into %s: %w", t.cfg.Driver, table, err)
	}
	return res, nil
}

// stmt returns insert statement prepared in the current transaction.
func (t *TableOutput) stmt(ctx context.Context, table string) (*sql.Stmt, error) {
	if t.cfg.CommitSize > 0 && t.tx == nil {
		tx, err := t.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: begin tx: %w", t.cfg.Driver, err)
		}
		t.tx = tx
	}
	if stmt, ok := t.stmts[table]; ok {
		return stmt, nil
	}
	query := t.d.insert(table, t.plan.columns)
	var (
		stmt *sql.Stmt
		err  error
	)
	if t.tx != nil {
		stmt, err = t.tx.PrepareContext(ctx, query)
	} else {
		stmt, err = t.db.PrepareContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: prepare %q: %w", t.cfg.Driver, query, err)
	}
	t.stmts[table] = stmt
	return stmt, nil
}

// advance counts inserted row and commits when commit size is reached.
func (t *TableOutput) advance(ctx context.Context) error {
	if t.cfg.CommitSize == 0 {
		return nil
	}
	t.uncommitted++
	if t.uncommitted < t.cfg.CommitSize {
		return nil
	}
	return t.commit(ctx)
}

// commit executes pending batch and commits the transaction.
func (t *TableOutput) commit(ctx context.Context) error {
	for _, p := range t.pending {
		if _, err := t.exec(ctx, p.table, p.values); err != nil {
			return errors.Join(err, t.rollback())
		}
	}
	t.pending = t.pending[:0]
	t.uncommitted = 0
	if t.tx == nil {
		return nil
	}
	err := t.closeStmts()
	if cerr := t.tx.Commit(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("%s: commit: %w", t.cfg.Driver, cerr))
	}
	t.tx = nil
	return err
}

func (t *TableOutput) rollback() error {
	t.pending = t.pending[:0]
	if t.tx == nil {
		return nil
	}
	err := errors.Join(t.closeStmts(), t.tx.Rollback())
	t.tx = nil
	return err
}

func (t *TableOutput) closeStmts() error {
	var errs []error
	for table, stmt := range t.stmts {
		errs = append(errs, stmt.Close())
		delete(t.stmts, table)
	}
	return errors.Join(errs...)
}

// Close implements rowpipe.Transform. Pending rows are committed.
func (t *TableOutput) Close(ctx context.Context, _ *rowpipe.Output) error {
	if t.db == nil {
		return nil
	}
	err := t.commit(ctx)
	err = errors.Join(err, t.closeStmts(), t.db.Close())
	t.db = nil
	return err
}

// String returns the target of the output.
func (t *TableOutput) String() string {
	if t.cfg.TableNameField != "" {
		return fmt.Sprintf("%s table from field %s", t.cfg.Driver, t.cfg.TableNameField)
	}
	return fmt.Sprintf("%s table %s", t.cfg.Driver, t.d.qualified(t.cfg.Schema, t.cfg.Table))
}
