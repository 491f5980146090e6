package sqldoc

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
)

// dialect covers the SQL differences between the SQLite and PostgreSQL
// renditions of the documents table.
type dialect interface {
	name() string
	driver() string
	goose() goose.Dialect
	placeholder(n int) string
	// valuePlaceholder is used where the bound value is compared with a
	// field extracted from the document.
	valuePlaceholder(n int) string
	dataPlaceholder(n int) string
	field(name string) string
	bind(v any) (any, error)
	lockClause() string
	readOptions() *sql.TxOptions
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }
func (sqliteDialect) driver() string { return "sqlite" }
func (sqliteDialect) goose() goose.Dialect { return goose.DialectSQLite3 }
func (sqliteDialect) placeholder(int) string { return "?" }
func (sqliteDialect) valuePlaceholder(int) string { return "?" }
func (sqliteDialect) dataPlaceholder(int) string { return "?" }
func (sqliteDialect) lockClause() string { return "" }
func (sqliteDialect) readOptions() *sql.TxOptions { return nil }
func (sqliteDialect) field(name string) string {
	return fmt.Sprintf("json_extract(data, '$.%s')", name)
}

func (sqliteDialect) bind(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, int, int32, int64, uint32, float32, float64:
		return t, nil
	case uint64:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return nil, fmt.Errorf("unsupported filter value %T", v)
	}
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }
func (postgresDialect) driver() string { return "pgx" }
func (postgresDialect) goose() goose.Dialect { return goose.DialectPostgres }
func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) valuePlaceholder(n int) string { return fmt.Sprintf("$%d::jsonb", n) }
func (postgresDialect) dataPlaceholder(n int) string { return fmt.Sprintf("$%d::jsonb", n) }
func (postgresDialect) lockClause() string { return " FOR UPDATE" }
func (postgresDialect) readOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}
func (postgresDialect) field(name string) string {
	return fmt.Sprintf("(data #> '{%s}')", strings.ReplaceAll(name, ".", ","))
}

func (postgresDialect) bind(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported filter value %T: %w", v, err)
	}
	return string(b), nil
}

// args accumulates positional arguments and renders placeholders.
type args struct {
	d    dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.placeholder(len(a.vals))
}

func (a *args) addValue(v any) (string, error) {
	b, err := a.d.bind(v)
	if err != nil {
		return "", err
	}
	a.vals = append(a.vals, b)
	return a.d.valuePlaceholder(len(a.vals)), nil
}

func (a *args) addData(data []byte) string {
	a.vals = append(a.vals, string(data))
	return a.d.dataPlaceholder(len(a.vals))
}
