package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// CollectSchema builds a structural snapshot from information_schema, which
// all three supported engines expose. Foreign keys and indexes are engine
// specific and come from the metadata manager's comprehensive collection;
// live introspection covers tables, columns, and primary keys.
func (c *sqlConnector) CollectSchema(ctx context.Context, tableLimit int) (*model.SchemaSnapshot, error) {
	if tableLimit <= 0 {
		tableLimit = 100
	}

	tables, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(tables) > tableLimit {
		tables = tables[:tableLimit]
	}

	columnsByTable, err := c.collectColumns(ctx)
	if err != nil {
		return nil, err
	}
	pkByTable, err := c.collectPrimaryKeys(ctx)
	if err != nil {
		// Not every engine grants key_column_usage; degrade to columns only.
		pkByTable = map[string][]string{}
	}

	snap := &model.SchemaSnapshot{CollectedAt: time.Now().UTC()}
	for _, name := range tables {
		snap.Tables = append(snap.Tables, model.TableSchema{
			Name:       name,
			Columns:    columnsByTable[strings.ToLower(name)],
			PrimaryKey: pkByTable[strings.ToLower(name)],
		})
	}
	return snap, nil
}

func (c *sqlConnector) collectColumns(ctx context.Context) (map[string][]model.ColumnSchema, error) {
	query := fmt.Sprintf(`
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = '%s'
		ORDER BY table_name, ordinal_position`, sanitizeIdentifier(c.schemaName()))

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Upstream(fmt.Sprintf("collect columns: %v", err))
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]model.ColumnSchema)
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, apperrors.Upstream(fmt.Sprintf("scan column: %v", err))
		}
		key := strings.ToLower(table)
		out[key] = append(out[key], model.ColumnSchema{
			Name:     column,
			Type:     dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	return out, rows.Err()
}

func (c *sqlConnector) collectPrimaryKeys(ctx context.Context) (map[string][]string, error) {
	query := fmt.Sprintf(`
		SELECT kcu.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = '%s'
		ORDER BY kcu.table_name, kcu.ordinal_position`, sanitizeIdentifier(c.schemaName()))

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Upstream(fmt.Sprintf("collect primary keys: %v", err))
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, apperrors.Upstream(fmt.Sprintf("scan primary key: %v", err))
		}
		key := strings.ToLower(table)
		out[key] = append(out[key], column)
	}
	return out, rows.Err()
}

func (c *sqlConnector) schemaName() string {
	if c.schema != "" {
		return c.schema
	}
	switch c.dialect {
	case dialectSnowflake:
		return "PUBLIC"
	case dialectDuckDB:
		return "main"
	default:
		return "public"
	}
}
