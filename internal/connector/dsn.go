package connector

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	// Target database drivers register themselves with database/sql.
	// The duckdb driver requires cgo and registers via driver_duckdb.go.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/snowflakedb/gosnowflake"

	"github.com/verity-dq/verity/internal/domain/model"
)

// postgresDSN builds a postgres URL with credentials escaped so passwords
// containing reserved characters round-trip intact.
func postgresDSN(d *model.ConnectionDetails) string {
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	port := d.Port
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}

	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.Schema != "" {
		q.Set("search_path", d.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// snowflakeDSN builds a Snowflake DSN through the driver's own config
// encoder, which handles escaping and account-locator formats.
func snowflakeDSN(d *model.ConnectionDetails) (string, error) {
	if d.Account == "" {
		return "", errors.New("snowflake connection requires account")
	}
	if d.User == "" {
		return "", errors.New("snowflake connection requires user")
	}
	cfg := gosnowflake.Config{
		Account:   d.Account,
		User:      d.User,
		Password:  d.Password,
		Database:  d.Database,
		Schema:    d.Schema,
		Warehouse: d.Warehouse,
		Role:      d.Role,
	}
	dsn, err := gosnowflake.DSN(&cfg)
	if err != nil {
		return "", fmt.Errorf("build snowflake dsn: %w", err)
	}
	return dsn, nil
}

// sanitizeIdentifier strips quote characters from an identifier interpolated
// into an information_schema filter.
func sanitizeIdentifier(s string) string {
	return strings.NewReplacer("'", "", `"`, "", ";", "").Replace(s)
}

// QuoteIdentifier double-quotes a table reference, preserving a single
// schema qualifier. Generated read queries interpolate identifiers through
// this to keep user-supplied table names out of the SQL grammar.
func QuoteIdentifier(s string) string {
	parts := strings.SplitN(s, ".", 2)
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, ``) + `"`
	}
	return strings.Join(parts, ".")
}
