// Package schema binds CDM entities to storage relations and renders the SQL
// dialect details (quoting, geometry encoding, spatial predicates, DDL) for
// the supported engines.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opencdms/cdm-feature-service/internal/domain"
)

// DefaultSchema is the namespace the CDM tables live in.
const DefaultSchema = "cdm"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Column binds one entity field to a storage column.
type Column struct {
	Name  string
	Field domain.Field
}

// Type is shorthand for c.Field.Type.
func (c Column) Type() domain.FieldType { return c.Field.Type }

// ForeignKey is an outbound reference from a column to another relation.
type ForeignKey struct {
	Column       string
	Target       domain.Entity
	TargetTable  string
	TargetColumn string
}

// RelationMapping is the storage binding of one entity.
type RelationMapping struct {
	Schema         string
	Table          string
	Entity         domain.Entity
	Columns        []Column
	PrimaryKey     string
	ForeignKeys    []ForeignKey
	SpatialColumns []string
	JSONColumns    []string
}

// Column looks up a column by name.
func (m RelationMapping) Column(name string) (Column, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (m RelationMapping) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKeyColumn returns the primary-key column.
func (m RelationMapping) PrimaryKeyColumn() Column {
	c, _ := m.Column(m.PrimaryKey)
	return c
}

func (m RelationMapping) clone() RelationMapping {
	m.Columns = append([]Column(nil), m.Columns...)
	m.ForeignKeys = append([]ForeignKey(nil), m.ForeignKeys...)
	m.SpatialColumns = append([]string(nil), m.SpatialColumns...)
	m.JSONColumns = append([]string(nil), m.JSONColumns...)
	return m
}

// InboundReference is a column in another relation pointing at an entity.
type InboundReference struct {
	From   domain.Entity
	Table  string
	Column string
}

// Binder holds the relation mappings for every entity. It is built once and
// never mutated, so it is safe for concurrent use.
type Binder struct {
	schema   string
	mappings []RelationMapping // indexed by Entity-1
	byTable  map[string]domain.Entity
}

// NewBinder binds every catalog entity into the given schema. An empty name
// selects DefaultSchema.
func NewBinder(schemaName string) (*Binder, error) {
	if schemaName == "" {
		schemaName = DefaultSchema
	}
	if !identRe.MatchString(schemaName) {
		return nil, fmt.Errorf("invalid schema name %q", schemaName)
	}

	entities := domain.Entities()
	b := &Binder{
		schema:   schemaName,
		mappings: make([]RelationMapping, len(entities)),
		byTable:  make(map[string]domain.Entity, len(entities)),
	}
	for _, e := range entities {
		b.mappings[e-1] = bindEntity(schemaName, e)
		b.byTable[e.Name()] = e
	}
	return b, nil
}

// MustNewBinder is like NewBinder but panics on error.
func MustNewBinder(schemaName string) *Binder {
	b, err := NewBinder(schemaName)
	if err != nil {
		panic(err)
	}
	return b
}

func bindEntity(schemaName string, e domain.Entity) RelationMapping {
	def := e.Def()
	m := RelationMapping{
		Schema: schemaName,
		Table:  def.Name,
		Entity: e,
	}
	for _, f := range def.Fields {
		m.Columns = append(m.Columns, Column{Name: f.Name, Field: f})
		switch {
		case f.PrimaryKey:
			m.PrimaryKey = f.Name
		case f.IsForeignKey():
			m.ForeignKeys = append(m.ForeignKeys, ForeignKey{
				Column:       f.Name,
				Target:       f.References,
				TargetTable:  f.References.Name(),
				TargetColumn: f.References.Def().PrimaryKey().Name,
			})
		}
		switch f.Type {
		case domain.TypePoint:
			m.SpatialColumns = append(m.SpatialColumns, f.Name)
		case domain.TypeJSON:
			m.JSONColumns = append(m.JSONColumns, f.Name)
		}
	}
	return m
}

// Schema returns the namespace the relations are bound into.
func (b *Binder) Schema() string { return b.schema }

// Bind returns the relation mapping for an entity. The result is a copy.
func (b *Binder) Bind(e domain.Entity) (RelationMapping, error) {
	if !e.Valid() {
		return RelationMapping{}, fmt.Errorf("unknown entity %d", int(e))
	}
	return b.mappings[e-1].clone(), nil
}

// BindTable resolves a table name, optionally schema-qualified, to its mapping.
func (b *Binder) BindTable(table string) (RelationMapping, error) {
	name := strings.TrimSpace(table)
	if s, t, ok := strings.Cut(name, "."); ok {
		if s != b.schema {
			return RelationMapping{}, fmt.Errorf("table %q is not in schema %q", table, b.schema)
		}
		name = t
	}
	e, ok := b.byTable[name]
	if !ok {
		return RelationMapping{}, fmt.Errorf("no entity bound to table %q", table)
	}
	return b.Bind(e)
}

// Mappings returns every mapping in dependency order.
func (b *Binder) Mappings() []RelationMapping {
	out := make([]RelationMapping, len(b.mappings))
	for i, m := range b.mappings {
		out[i] = m.clone()
	}
	return out
}

// References lists the columns across all relations that point at e,
// including self references.
func (b *Binder) References(e domain.Entity) []InboundReference {
	var refs []InboundReference
	for _, m := range b.mappings {
		for _, fk := range m.ForeignKeys {
			if fk.Target == e {
				refs = append(refs, InboundReference{From: m.Entity, Table: m.Table, Column: fk.Column})
			}
		}
	}
	return refs
}
