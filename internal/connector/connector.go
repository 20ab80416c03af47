// Package connector opens target databases and runs bounded read-only
// operations against them: connectivity tests, scalar rule queries, table
// listings, and row previews.
package connector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// Connector executes read operations against one target database.
type Connector interface {
	// Ping verifies connectivity within the context deadline.
	Ping(ctx context.Context) error
	// QueryScalar runs a query expected to return a single value.
	QueryScalar(ctx context.Context, query string) (any, error)
	// ListTables returns table names visible to the connection.
	ListTables(ctx context.Context) ([]string, error)
	// PreviewRows returns up to limit rows from the named table as column
	// name to value maps.
	PreviewRows(ctx context.Context, table string, limit int) ([]map[string]any, error)
	// CollectSchema introspects up to tableLimit tables into a structural
	// snapshot.
	CollectSchema(ctx context.Context, tableLimit int) (*model.SchemaSnapshot, error)
	// Close releases the underlying pool.
	Close() error
}

// Factory builds a Connector for a stored connection.
type Factory interface {
	Open(ctx context.Context, conn *model.Connection) (Connector, error)
}

// DriverFactory opens connectors through database/sql drivers registered per
// connection type.
type DriverFactory struct{}

// NewDriverFactory creates the production connector factory.
func NewDriverFactory() *DriverFactory {
	return &DriverFactory{}
}

// Open decodes connection details and opens a pooled connector for the
// connection's type.
func (f *DriverFactory) Open(ctx context.Context, conn *model.Connection) (Connector, error) {
	details, err := conn.DecodeDetails()
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	var driver, dsn string
	var dialect dialect
	switch conn.Type {
	case model.ConnectionTypePostgres:
		driver, dsn = "pgx", postgresDSN(details)
		dialect = dialectPostgres
	case model.ConnectionTypeSnowflake:
		driver = "snowflake"
		dsn, err = snowflakeDSN(details)
		if err != nil {
			return nil, apperrors.Validation(err.Error())
		}
		dialect = dialectSnowflake
	case model.ConnectionTypeDuckDB:
		driver, dsn = "duckdb", details.Path
		dialect = dialectDuckDB
	default:
		return nil, apperrors.Validationf("unsupported connection type %q", conn.Type)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperrors.Upstream(fmt.Sprintf("open %s: %v", conn.Type, err))
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlConnector{db: db, dialect: dialect, schema: details.Schema}, nil
}

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSnowflake
	dialectDuckDB
)

type sqlConnector struct {
	db      *sql.DB
	dialect dialect
	schema  string
}

func (c *sqlConnector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return apperrors.Upstream(fmt.Sprintf("ping: %v", err))
	}
	return nil
}

func (c *sqlConnector) QueryScalar(ctx context.Context, query string) (any, error) {
	var value any
	if err := c.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Timeout("query timed out")
		}
		return nil, apperrors.Upstream(fmt.Sprintf("scalar query: %v", err))
	}
	return normalizeScalar(value), nil
}

func (c *sqlConnector) ListTables(ctx context.Context) ([]string, error) {
	query := c.listTablesQuery()
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Upstream(fmt.Sprintf("list tables: %v", err))
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Upstream(fmt.Sprintf("scan table name: %v", err))
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (c *sqlConnector) listTablesQuery() string {
	return fmt.Sprintf(
		`SELECT table_name FROM information_schema.tables WHERE table_schema = '%s' ORDER BY table_name`,
		sanitizeIdentifier(c.schemaName()))
}

func (c *sqlConnector) PreviewRows(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, QuoteIdentifier(table), limit)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Upstream(fmt.Sprintf("preview rows: %v", err))
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperrors.Upstream(fmt.Sprintf("columns: %v", err))
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.Upstream(fmt.Sprintf("scan row: %v", err))
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = normalizeScalar(values[i])
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (c *sqlConnector) Close() error {
	return c.db.Close()
}

// normalizeScalar converts driver byte slices to strings so values marshal
// cleanly to JSON.
func normalizeScalar(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// MarshalActual encodes an actual value for result storage.
func MarshalActual(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode actual value: %w", err)
	}
	return raw, nil
}
