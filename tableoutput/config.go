package tableoutput

import (
	"errors"
	"fmt"

	"pipelined.dev/rowpipe/internal/validate"
)

// ErrConfig is returned when settings contradict each other.
var ErrConfig = errors.New("invalid table output config")

// Partitioning periods.
const (
	Daily   = "day"
	Monthly = "month"
)

type (
	// Config of the table output.
	Config struct {
		Driver string `yaml:"driver" validate:"required,oneof=sqlite pgx mysql sqlserver"`
		DSN    string `yaml:"dsn" validate:"required"`
		Schema string `yaml:"schema" validate:"omitempty,identifier"`
		Table  string `yaml:"table" validate:"omitempty,identifier"`
		// CommitSize is the number of rows per transaction. Zero means
		// every row is committed by itself.
		CommitSize int `yaml:"commit_size" validate:"gte=0"`
		// Batch defers inserts until commit.
		Batch bool `yaml:"batch"`
		// ReturnKeys appends generated key as KeyField to passed rows.
		ReturnKeys bool   `yaml:"return_keys"`
		KeyField   string `yaml:"key_field"`
		Truncate   bool   `yaml:"truncate"`
		// TableNameField takes table name from the row. StoreTableName
		// inserts that field as a column too.
		TableNameField string `yaml:"table_name_field"`
		StoreTableName bool   `yaml:"store_table_name"`
		// PartitionField is a date field that adds a period suffix to the
		// table name.
		PartitionField string `yaml:"partition_field"`
		PartitionBy    string `yaml:"partition_by" validate:"omitempty,oneof=day month"`
		// Fields maps columns onto stream fields. All fields are inserted
		// by name if it's empty.
		Fields       []Field `yaml:"fields" validate:"dive"`
		IgnoreErrors bool    `yaml:"ignore_errors"`
	}

	// Field maps a table column onto a stream field.
	Field struct {
		Column string `yaml:"column" validate:"required"`
		Stream string `yaml:"stream" validate:"required"`
	}
)

// Validate checks field values and the rules between settings.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	d := dialects[c.Driver]
	switch {
	case c.Table == "" && c.TableNameField == "":
		return fmt.Errorf("%w: table or table name field is required", ErrConfig)
	case c.Table != "" && c.TableNameField != "":
		return fmt.Errorf("%w: table and table name field are mutually exclusive", ErrConfig)
	case c.StoreTableName && c.TableNameField == "":
		return fmt.Errorf("%w: store table name requires table name field", ErrConfig)
	case c.ReturnKeys && c.Batch:
		return fmt.Errorf("%w: batch updates are disabled when keys are returned", ErrConfig)
	case c.ReturnKeys && c.KeyField == "":
		return fmt.Errorf("%w: key field is required to return keys", ErrConfig)
	case c.ReturnKeys && !d.lastInsertID:
		return fmt.Errorf("%w: driver %s doesn't return generated keys", ErrConfig, c.Driver)
	case !c.ReturnKeys && c.KeyField != "":
		return fmt.Errorf("%w: key field is set, but keys are not returned", ErrConfig)
	case c.IgnoreErrors && c.Batch:
		return fmt.Errorf("%w: insert errors can't be ignored in batch updates", ErrConfig)
	case c.IgnoreErrors && c.CommitSize > 0 && d.abortsTx:
		return fmt.Errorf("%w: driver %s aborts transaction on error, commit size must be zero to ignore errors", ErrConfig, c.Driver)
	case c.Batch && c.CommitSize == 0:
		return fmt.Errorf("%w: batch updates require commit size", ErrConfig)
	case c.Truncate && c.TableNameField != "":
		return fmt.Errorf("%w: truncate is not possible with table name field", ErrConfig)
	case c.Truncate && c.PartitionField != "":
		return fmt.Errorf("%w: truncate is not possible with partitioning", ErrConfig)
	case c.PartitionField != "" && c.TableNameField != "":
		return fmt.Errorf("%w: partitioning is not possible with table name field", ErrConfig)
	case (c.PartitionField == "") != (c.PartitionBy == ""):
		return fmt.Errorf("%w: partitioning requires both field and period", ErrConfig)
	}
	columns := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		if columns[f.Column] {
			return fmt.Errorf("%w: duplicate column %q", ErrConfig, f.Column)
		}
		columns[f.Column] = true
	}
	return nil
}
