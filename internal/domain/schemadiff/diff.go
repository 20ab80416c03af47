// Package schemadiff computes typed differences between two schema
// snapshots. Comparison rules:
//   - table and column names compare case-insensitively
//   - column types compare as lowercased strings
//   - foreign keys compare by fingerprint
//     (sorted constrained cols | referred table | sorted referred cols)
//   - indices compare by (name, sorted cols, unique flag)
package schemadiff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/verity-dq/verity/internal/domain/model"
)

// Change is one detected difference between snapshots.
type Change struct {
	Type       model.ChangeType
	TableName  string
	ColumnName string // empty for table/PK-level changes
	Details    map[string]any
}

// Diff compares the previous snapshot against the current one and returns
// the full set of typed changes, ordered by table name then change type.
func Diff(previous, current *model.SchemaSnapshot) []Change {
	prevTables := indexTables(previous)
	currTables := indexTables(current)

	var changes []Change

	for key, curr := range currTables {
		prev, ok := prevTables[key]
		if !ok {
			changes = append(changes, Change{
				Type:      model.ChangeTableAdded,
				TableName: curr.Name,
				Details:   map[string]any{"columns": len(curr.Columns)},
			})
			continue
		}
		changes = append(changes, diffTable(prev, curr)...)
	}

	for key, prev := range prevTables {
		if _, ok := currTables[key]; !ok {
			changes = append(changes, Change{
				Type:      model.ChangeTableRemoved,
				TableName: prev.Name,
			})
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].TableName != changes[j].TableName {
			return changes[i].TableName < changes[j].TableName
		}
		if changes[i].Type != changes[j].Type {
			return changes[i].Type < changes[j].Type
		}
		return changes[i].ColumnName < changes[j].ColumnName
	})

	return changes
}

func indexTables(s *model.SchemaSnapshot) map[string]model.TableSchema {
	out := make(map[string]model.TableSchema)
	if s == nil {
		return out
	}
	for _, t := range s.Tables {
		out[strings.ToLower(t.Name)] = t
	}
	return out
}

func diffTable(prev, curr model.TableSchema) []Change {
	var changes []Change
	changes = append(changes, diffColumns(prev, curr)...)
	changes = append(changes, diffPrimaryKey(prev, curr)...)
	changes = append(changes, diffForeignKeys(prev, curr)...)
	changes = append(changes, diffIndexes(prev, curr)...)
	return changes
}

func diffColumns(prev, curr model.TableSchema) []Change {
	prevCols := make(map[string]model.ColumnSchema, len(prev.Columns))
	for _, c := range prev.Columns {
		prevCols[strings.ToLower(c.Name)] = c
	}
	currCols := make(map[string]model.ColumnSchema, len(curr.Columns))
	for _, c := range curr.Columns {
		currCols[strings.ToLower(c.Name)] = c
	}

	var changes []Change
	for key, cc := range currCols {
		pc, ok := prevCols[key]
		if !ok {
			changes = append(changes, Change{
				Type:       model.ChangeColumnAdded,
				TableName:  curr.Name,
				ColumnName: cc.Name,
				Details:    map[string]any{"type": cc.Type, "nullable": cc.Nullable},
			})
			continue
		}
		if strings.ToLower(pc.Type) != strings.ToLower(cc.Type) {
			changes = append(changes, Change{
				Type:       model.ChangeColumnTypeChanged,
				TableName:  curr.Name,
				ColumnName: cc.Name,
				Details:    map[string]any{"from": pc.Type, "to": cc.Type},
			})
		}
		if pc.Nullable != cc.Nullable {
			changes = append(changes, Change{
				Type:       model.ChangeColumnNullabilityChanged,
				TableName:  curr.Name,
				ColumnName: cc.Name,
				Details:    map[string]any{"from": pc.Nullable, "to": cc.Nullable},
			})
		}
	}
	for key, pc := range prevCols {
		if _, ok := currCols[key]; !ok {
			changes = append(changes, Change{
				Type:       model.ChangeColumnRemoved,
				TableName:  curr.Name,
				ColumnName: pc.Name,
			})
		}
	}
	return changes
}

func diffPrimaryKey(prev, curr model.TableSchema) []Change {
	prevPK := normalizeCols(prev.PrimaryKey)
	currPK := normalizeCols(curr.PrimaryKey)

	switch {
	case len(prevPK) == 0 && len(currPK) > 0:
		return []Change{{
			Type:      model.ChangePrimaryKeyAdded,
			TableName: curr.Name,
			Details:   map[string]any{"columns": currPK},
		}}
	case len(prevPK) > 0 && len(currPK) == 0:
		return []Change{{
			Type:      model.ChangePrimaryKeyRemoved,
			TableName: curr.Name,
			Details:   map[string]any{"columns": prevPK},
		}}
	case len(prevPK) > 0 && strings.Join(prevPK, ",") != strings.Join(currPK, ","):
		return []Change{{
			Type:      model.ChangePrimaryKeyChanged,
			TableName: curr.Name,
			Details:   map[string]any{"from": prevPK, "to": currPK},
		}}
	}
	return nil
}

// fkFingerprint builds the identity used to compare foreign keys:
// sorted constrained cols | referred table | sorted referred cols.
func fkFingerprint(fk model.ForeignKey) string {
	return strings.Join(normalizeCols(fk.ConstrainedCols), ",") + "|" +
		strings.ToLower(fk.ReferredTable) + "|" +
		strings.Join(normalizeCols(fk.ReferredCols), ",")
}

func diffForeignKeys(prev, curr model.TableSchema) []Change {
	prevFKs := make(map[string]model.ForeignKey, len(prev.ForeignKeys))
	for _, fk := range prev.ForeignKeys {
		prevFKs[fkFingerprint(fk)] = fk
	}
	currFKs := make(map[string]model.ForeignKey, len(curr.ForeignKeys))
	for _, fk := range curr.ForeignKeys {
		currFKs[fkFingerprint(fk)] = fk
	}

	var changes []Change
	for fp, fk := range currFKs {
		if _, ok := prevFKs[fp]; !ok {
			changes = append(changes, Change{
				Type:      model.ChangeForeignKeyAdded,
				TableName: curr.Name,
				Details:   map[string]any{"referred_table": fk.ReferredTable, "fingerprint": fp},
			})
		}
	}
	for fp, fk := range prevFKs {
		if _, ok := currFKs[fp]; !ok {
			changes = append(changes, Change{
				Type:      model.ChangeForeignKeyRemoved,
				TableName: curr.Name,
				Details:   map[string]any{"referred_table": fk.ReferredTable, "fingerprint": fp},
			})
		}
	}
	return changes
}

// indexIdentity is (name, sorted cols, unique flag).
func indexIdentity(ix model.IndexSchema) string {
	return fmt.Sprintf("%s|%s|%t",
		strings.ToLower(ix.Name),
		strings.Join(normalizeCols(ix.Columns), ","),
		ix.Unique)
}

func diffIndexes(prev, curr model.TableSchema) []Change {
	prevByName := make(map[string]model.IndexSchema, len(prev.Indexes))
	for _, ix := range prev.Indexes {
		prevByName[strings.ToLower(ix.Name)] = ix
	}
	currByName := make(map[string]model.IndexSchema, len(curr.Indexes))
	for _, ix := range curr.Indexes {
		currByName[strings.ToLower(ix.Name)] = ix
	}

	var changes []Change
	for name, cix := range currByName {
		pix, ok := prevByName[name]
		if !ok {
			changes = append(changes, Change{
				Type:      model.ChangeIndexAdded,
				TableName: curr.Name,
				Details:   map[string]any{"index": cix.Name, "columns": normalizeCols(cix.Columns)},
			})
			continue
		}
		if indexIdentity(pix) != indexIdentity(cix) {
			changes = append(changes, Change{
				Type:      model.ChangeIndexChanged,
				TableName: curr.Name,
				Details: map[string]any{
					"index": cix.Name,
					"from":  map[string]any{"columns": normalizeCols(pix.Columns), "unique": pix.Unique},
					"to":    map[string]any{"columns": normalizeCols(cix.Columns), "unique": cix.Unique},
				},
			})
		}
	}
	for name, pix := range prevByName {
		if _, ok := currByName[name]; !ok {
			changes = append(changes, Change{
				Type:      model.ChangeIndexRemoved,
				TableName: curr.Name,
				Details:   map[string]any{"index": pix.Name},
			})
		}
	}
	return changes
}

// normalizeCols lowercases and sorts a column list.
func normalizeCols(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, strings.ToLower(c))
	}
	sort.Strings(out)
	return out
}
