package schema

import (
	"fmt"
	"strings"
)

// CreateStatements returns the DDL that creates every relation, in
// dependency order, followed by its indexes.
func CreateStatements(b *Binder, d Dialect) []string {
	stmts := d.Prelude(b.Schema())
	for _, m := range b.Mappings() {
		stmts = append(stmts, createTable(m, d))
		stmts = append(stmts, d.Indexes(m)...)
	}
	return stmts
}

// DropStatements returns the DDL that drops every relation, dependents first.
func DropStatements(b *Binder, d Dialect) []string {
	mappings := b.Mappings()
	stmts := make([]string, 0, len(mappings))
	for i := len(mappings) - 1; i >= 0; i-- {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+d.Table(mappings[i].Schema, mappings[i].Table))
	}
	return stmts
}

func createTable(m RelationMapping, d Dialect) string {
	targets := make(map[string]ForeignKey, len(m.ForeignKeys))
	for _, fk := range m.ForeignKeys {
		targets[fk.Column] = fk
	}

	defs := make([]string, 0, len(m.Columns))
	for _, c := range m.Columns {
		var def string
		switch {
		case c.Field.PrimaryKey:
			def = d.Quote(c.Name) + " " + d.PrimaryKeyType(c.Field)
		default:
			def = d.Quote(c.Name) + " " + d.ColumnType(c.Field)
			if !c.Field.Nullable {
				def += " NOT NULL"
			}
		}
		if fk, ok := targets[c.Name]; ok {
			def += fmt.Sprintf(" REFERENCES %s (%s)", d.Table(m.Schema, fk.TargetTable), d.Quote(fk.TargetColumn))
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.Table(m.Schema, m.Table), strings.Join(defs, ",\n\t"))
}
