//go:build cgo

package connector

import (
	// The duckdb driver registers itself with database/sql; it needs cgo.
	_ "github.com/marcboeker/go-duckdb"
)
