package federated

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// fromTable matches the first table reference after FROM, optionally
// schema qualified and quoted.
var fromTable = regexp.MustCompile(`(?is)\bfrom\s+("?[\w$]+"?(?:\s*\.\s*"?[\w$]+"?)*)`)

// TableName returns the schema and table under which the result of p is
// registered for the LOCAL plan. The schema is always p.Target. An Alias of
// the form "schema.table" contributes only its table part; an empty Alias
// falls back to the table read by p's SQL, then to the target itself.
func TableName(p Plan) (schema, table string) {
	schema = p.Target
	name := p.Alias
	if name == "" {
		if m := fromTable.FindStringSubmatch(p.SQL); m != nil {
			name = m[1]
		}
	}
	if name == "" {
		return schema, p.Target
	}
	parts := strings.Split(name, ".")
	table = strings.Trim(strings.TrimSpace(parts[len(parts)-1]), `"`)
	if table == "" {
		table = p.Target
	}
	return schema, table
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func sqliteType(dt types.DataType) string {
	var t string
	switch dt.Kind {
	case types.KindU64:
		t = "INTEGER"
	case types.KindF64:
		t = "REAL"
	case types.KindBool:
		t = "BOOLEAN"
	default:
		t = "TEXT"
	}
	if !dt.Nullable {
		t += " NOT NULL"
	}
	return t
}

// register attaches a database named after the plan target on c and loads
// records into one table of it.
func register(ctx context.Context, c *sql.Conn, p Plan, schema types.Schema, records []arrow.Record, attached map[string]bool) error {
	db, table := TableName(p)
	switch strings.ToLower(db) {
	case "main", "temp":
		return errors.Newf(errors.ErrorTypeConfig, "database alias %q is reserved", db)
	}

	if !attached[db] {
		if _, err := c.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE ':memory:' AS %s", quoteIdent(db))); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, fmt.Sprintf("failed to attach %s", db))
		}
		attached[db] = true
	}

	cols := make([]string, len(schema))
	marks := make([]string, len(schema))
	for i, col := range schema {
		cols[i] = quoteIdent(col.Name) + " " + sqliteType(col.Type)
		marks[i] = "?"
	}
	qualified := quoteIdent(db) + "." + quoteIdent(table)
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", qualified, strings.Join(cols, ", "))
	if _, err := c.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, fmt.Sprintf("failed to create %s.%s", db, table))
	}

	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to begin load transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", qualified, strings.Join(marks, ", ")))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to prepare load statement")
	}
	defer stmt.Close()

	args := make([]any, len(schema))
	for _, rec := range records {
		if int(rec.NumCols()) != len(schema) {
			return errors.Newf(errors.ErrorTypeSchema, "record has %d columns, schema has %d", rec.NumCols(), len(schema))
		}
		for row := 0; row < int(rec.NumRows()); row++ {
			for i := range schema {
				v, err := cell(rec.Column(i), row)
				if err != nil {
					return errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("column %s", schema[i].Name))
				}
				args[i] = v
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return errors.Wrap(err, errors.ErrorTypeQuery, fmt.Sprintf("failed to load %s.%s", db, table))
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to commit load transaction")
	}
	return nil
}

// cell converts one arrow value to a database/sql argument.
func cell(col arrow.Array, row int) (any, error) {
	if col.IsNull(row) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.Uint64:
		v := a.Value(row)
		if v > math.MaxInt64 {
			return nil, errors.Newf(errors.ErrorTypeData, "value %d exceeds the SQLite integer range", v)
		}
		return int64(v), nil
	case *array.Float64:
		return a.Value(row), nil
	case *array.Boolean:
		return a.Value(row), nil
	case *array.String:
		return a.Value(row), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeUnsupportedType, "unsupported arrow type %s", col.DataType())
	}
}
