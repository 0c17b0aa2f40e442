// Package tabular reads a panel table from a SQL database: SQLite files via
// modernc.org/sqlite and PostgreSQL via pgx's database/sql driver.
package tabular

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"rctcore/internal/panel"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "pgx"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// ErrUnsupportedURI is returned for locations that are not SQL databases.
var ErrUnsupportedURI = errors.New("tabular: unsupported database uri")

// IsSQL reports whether uri names a database this package can read.
func IsSQL(uri string) bool {
	_, _, err := driverFor(uri)
	return err == nil
}

// driverFor maps sqlite://path, postgres://... and postgresql://... to a
// database/sql driver name and DSN.
func driverFor(uri string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		path := strings.TrimPrefix(uri, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("%w: %q has no path", ErrUnsupportedURI, uri)
		}
		return driverSQLite, path, nil
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return driverPostgres, uri, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
}

// Reader reads whole tables into decoder columns.
type Reader struct {
	db     *sql.DB
	driver string
}

// Open connects to the database named by uri and verifies the connection.
func Open(ctx context.Context, uri string) (*Reader, error) {
	driver, dsn, err := driverFor(uri)
	if err != nil {
		return nil, err
	}
	openMu.Lock()
	db, err := sqlOpen(driver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &Reader{db: db, driver: driver}, nil
}

// Driver returns the database/sql driver in use.
func (r *Reader) Driver() string { return r.driver }

// Close releases the connection pool.
func (r *Reader) Close() error { return r.db.Close() }

var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteTable validates a table name, optionally schema-qualified, and quotes
// each part.
func quoteTable(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("tabular: invalid table name %q", name)
	}
	for i, p := range parts {
		if !identPart.MatchString(p) {
			return "", fmt.Errorf("tabular: invalid table name %q", name)
		}
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, "."), nil
}

// ReadTable selects every row of table. Columns declared with a numeric SQL
// type, or holding only numbers when untyped, become numeric columns; all
// others become strings. NULL is missing.
func (r *Reader) ReadTable(ctx context.Context, table string) ([]panel.Column, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, "SELECT * FROM "+quoted)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types %s: %w", table, err)
	}
	raw := make([][]any, len(types))
	for rows.Next() {
		cells := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		for i, c := range cells {
			raw[i] = append(raw[i], c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	out := make([]panel.Column, len(types))
	for i, ct := range types {
		col, err := toColumn(ct.Name(), ct.DatabaseTypeName(), raw[i])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		out[i] = col
	}
	return out, nil
}

// numericTypes are the column type names, as reported by sqlite declarations
// and pgx, that hold numbers. Precision suffixes such as DECIMAL(10,2) are
// stripped before lookup.
var numericTypes = map[string]bool{
	"INT": true, "INTEGER": true, "TINYINT": true, "SMALLINT": true, "MEDIUMINT": true,
	"BIGINT": true, "UNSIGNED BIG INT": true, "INT2": true, "INT4": true, "INT8": true,
	"REAL": true, "FLOAT": true, "FLOAT4": true, "FLOAT8": true, "DOUBLE": true,
	"DOUBLE PRECISION": true, "NUMERIC": true, "DECIMAL": true,
}

func numericType(dbType string) (numeric, known bool) {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if t == "" {
		return false, false
	}
	return numericTypes[strings.Join(strings.Fields(t), " ")], true
}

func toColumn(name, dbType string, values []any) (panel.Column, error) {
	numeric, known := numericType(dbType)
	if !known {
		numeric = allNumbers(values)
	}
	missing := make([]bool, len(values))
	if numeric {
		floats := make([]float64, len(values))
		for i, v := range values {
			f, ok, err := asFloat(v)
			if err != nil {
				return panel.Column{}, fmt.Errorf("column %s row %d: %w", name, i+1, err)
			}
			if !ok {
				f, missing[i] = math.NaN(), true
			}
			floats[i] = f
		}
		return panel.Column{Name: name, Floats: floats, Missing: missing}, nil
	}
	strs := make([]string, len(values))
	for i, v := range values {
		s, ok := asString(v)
		strs[i], missing[i] = s, !ok
	}
	return panel.Column{Name: name, Strings: strs, Missing: missing}, nil
}

func allNumbers(values []any) bool {
	seen := false
	for _, v := range values {
		switch v.(type) {
		case nil:
		case int64, int32, float64, float32:
			seen = true
		default:
			return false
		}
	}
	return seen
}

func asFloat(v any) (float64, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case int64:
		return float64(x), true, nil
	case int32:
		return float64(x), true, nil
	case float64:
		return x, !math.IsNaN(x), nil
	case float32:
		return float64(x), !math.IsNaN(float64(x)), nil
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	case []byte:
		return parseFloat(string(x))
	case string:
		return parseFloat(x)
	}
	return 0, false, fmt.Errorf("unsupported value type %T", v)
}

func parseFloat(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("not a number: %q", s)
	}
	return f, true, nil
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	}
	return fmt.Sprint(v), true
}
