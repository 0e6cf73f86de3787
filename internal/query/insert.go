package query

import (
	"fmt"
	"strings"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/schema"
)

// InsertBuilder lowers entity records into INSERT statements.
type InsertBuilder struct {
	binder  *schema.Binder
	dialect schema.Dialect
}

func NewInsertBuilder(b *schema.Binder, d schema.Dialect) *InsertBuilder {
	return &InsertBuilder{binder: b, dialect: d}
}

type insertOptions struct {
	ignoreConflicts bool
}

// InsertOption configures a single insert.
type InsertOption func(*insertOptions)

// IgnoreConflicts turns a duplicate primary key into a no-op. The statement
// then returns no row.
func IgnoreConflicts() InsertOption {
	return func(o *insertOptions) { o.ignoreConflicts = true }
}

// Insert lowers a typed entity.
func (ib *InsertBuilder) Insert(r domain.Recorder, opts ...InsertOption) (Statement, error) {
	return ib.InsertRecord(r.Entity(), r.Record(), opts...)
}

// InsertRecord lowers a raw record. Columns are written in mapping order and
// the statement returns the primary key, which lets integer keys be generated
// by the store.
func (ib *InsertBuilder) InsertRecord(e domain.Entity, rec domain.Record, opts ...InsertOption) (Statement, error) {
	var o insertOptions
	for _, opt := range opts {
		opt(&o)
	}
	m, err := ib.binder.Bind(e)
	if err != nil {
		return Statement{}, err
	}
	for k := range rec {
		if _, ok := m.Column(k); !ok {
			return Statement{}, domain.QueryErrorf("%s has no field %q", m.Table, k)
		}
	}

	d := ib.dialect
	sb := &sqlBuilder{dialect: d}
	var cols, vals []string
	for _, c := range m.Columns {
		v, ok := rec[c.Name]
		if !ok {
			continue
		}
		enc, err := d.EncodeArg(c.Type(), v)
		if err != nil {
			return Statement{}, fmt.Errorf("%s.%s: %w", m.Table, c.Name, err)
		}
		ph := sb.arg(enc)
		if c.Type() == domain.TypePoint && enc != nil {
			ph = d.GeometryParam(ph)
		}
		cols = append(cols, d.Quote(c.Name))
		vals = append(vals, ph)
	}

	var q strings.Builder
	q.WriteString("INSERT INTO ")
	q.WriteString(d.Table(m.Schema, m.Table))
	if len(cols) == 0 {
		q.WriteString(" DEFAULT VALUES")
	} else {
		fmt.Fprintf(&q, " (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(vals, ", "))
	}
	if o.ignoreConflicts {
		q.WriteString(" ON CONFLICT (" + d.Quote(m.PrimaryKey) + ") DO NOTHING")
	}
	q.WriteString(" RETURNING " + d.Quote(m.PrimaryKey))

	return Statement{SQL: q.String(), Args: sb.args, IDColumn: m.PrimaryKey}, nil
}

// OrphanCheck counts rows whose foreign key points at a missing row.
type OrphanCheck struct {
	Table  string
	Column string
	Target string
	SQL    string
}

// OrphanCount is the outcome of running an OrphanCheck.
type OrphanCount struct {
	OrphanCheck
	Count int64
}

// OrphanChecks returns one check per foreign key across every relation.
// Dangling references are reported, never repaired.
func OrphanChecks(b *schema.Binder, d schema.Dialect) []OrphanCheck {
	q := d.Quote
	var checks []OrphanCheck
	for _, m := range b.Mappings() {
		for _, fk := range m.ForeignKeys {
			sql := fmt.Sprintf(
				"SELECT COUNT(*) FROM %s c WHERE c.%s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = c.%s)",
				d.Table(m.Schema, m.Table), q(fk.Column),
				d.Table(m.Schema, fk.TargetTable), q(fk.TargetColumn), q(fk.Column),
			)
			checks = append(checks, OrphanCheck{Table: m.Table, Column: fk.Column, Target: fk.TargetTable, SQL: sql})
		}
	}
	return checks
}
