package query

import (
	"fmt"
	"strings"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/schema"
)

// Default paging limits.
const (
	DefaultLimit = 10
	MaxLimit     = 10000
)

// Resource describes one published collection: the table behind it and which
// columns play the identifier, geometry and time roles.
type Resource struct {
	Name           string
	Table          string
	IDField        string
	GeomField      string // empty publishes features without geometry
	TimeField      string
	TimeStartField string
}

// Statement is a parameterised query. For feature queries the select list is
// the identifier, then Properties in order, then the geometry if any.
type Statement struct {
	SQL            string
	Args           []any
	IDColumn       string
	Properties     []schema.Column
	GeometryColumn string
}

// Option configures a Translator.
type Option func(*Translator)

// WithLimits overrides the default and maximum page sizes.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(t *Translator) {
		if defaultLimit > 0 {
			t.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			t.maxLimit = maxLimit
		}
	}
}

// Translator lowers requests for one resource. It holds no mutable state and
// is safe for concurrent use.
type Translator struct {
	dialect      schema.Dialect
	mapping      schema.RelationMapping
	resource     Resource
	idCol        schema.Column
	defaultLimit int
	maxLimit     int
}

// NewTranslator binds res against b and checks its column roles.
func NewTranslator(b *schema.Binder, d schema.Dialect, res Resource, opts ...Option) (*Translator, error) {
	m, err := b.BindTable(res.Table)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", res.Name, err)
	}
	if res.IDField == "" {
		res.IDField = m.PrimaryKey
	}

	t := &Translator{
		dialect:      d,
		mapping:      m,
		resource:     res,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.defaultLimit > t.maxLimit {
		t.defaultLimit = t.maxLimit
	}

	idCol, ok := m.Column(res.IDField)
	if !ok {
		return nil, fmt.Errorf("resource %s: id field %q not in %s", res.Name, res.IDField, m.Table)
	}
	t.idCol = idCol
	if res.GeomField != "" {
		c, ok := m.Column(res.GeomField)
		if !ok || c.Type() != domain.TypePoint {
			return nil, fmt.Errorf("resource %s: geometry field %q is not a point column of %s", res.Name, res.GeomField, m.Table)
		}
	}
	for _, tf := range []string{res.TimeField, res.TimeStartField} {
		if tf == "" {
			continue
		}
		c, ok := m.Column(tf)
		if !ok || c.Type() != domain.TypeTimestamp {
			return nil, fmt.Errorf("resource %s: time field %q is not a timestamp column of %s", res.Name, tf, m.Table)
		}
	}
	if res.TimeStartField != "" && res.TimeField == "" {
		return nil, fmt.Errorf("resource %s: time_start_field requires time_field", res.Name)
	}
	return t, nil
}

// Resource returns the resource with defaults applied.
func (t *Translator) Resource() Resource { return t.resource }

// Mapping returns the relation mapping behind the resource.
func (t *Translator) Mapping() schema.RelationMapping { return t.mapping }

// Queryables returns the columns usable in equality filters.
func (t *Translator) Queryables() []schema.Column {
	var out []schema.Column
	for _, c := range t.mapping.Columns {
		if c.Type().Filterable() {
			out = append(out, c)
		}
	}
	return out
}

// Query lowers req into a paged feature query.
func (t *Translator) Query(req Request) (Statement, error) {
	limit, err := t.limit(req.Limit)
	if err != nil {
		return Statement{}, err
	}
	if req.Offset < 0 {
		return Statement{}, domain.QueryErrorf("offset must not be negative")
	}
	props, err := t.properties(req.Select)
	if err != nil {
		return Statement{}, err
	}

	sb := &sqlBuilder{dialect: t.dialect}
	where, err := t.where(sb, req)
	if err != nil {
		return Statement{}, err
	}
	order, err := t.orderBy(req.SortBy)
	if err != nil {
		return Statement{}, err
	}

	stmt := t.selectList(props, req.SkipGeometry)
	var q strings.Builder
	q.WriteString("SELECT ")
	q.WriteString(t.columnList(stmt))
	q.WriteString(" FROM ")
	q.WriteString(t.table())
	q.WriteString(where)
	q.WriteString(" ORDER BY ")
	q.WriteString(order)
	q.WriteString(" LIMIT ")
	q.WriteString(sb.arg(int64(limit)))
	q.WriteString(" OFFSET ")
	q.WriteString(sb.arg(int64(req.Offset)))

	stmt.SQL = q.String()
	stmt.Args = sb.args
	return stmt, nil
}

// Count lowers req into a COUNT(*) over the same predicates, ignoring
// projection and paging.
func (t *Translator) Count(req Request) (Statement, error) {
	sb := &sqlBuilder{dialect: t.dialect}
	where, err := t.where(sb, req)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  "SELECT COUNT(*) FROM " + t.table() + where,
		Args: sb.args,
	}, nil
}

// Get lowers an identifier lookup. An identifier that cannot be coerced to
// the id column's type cannot match any row and yields a NotFoundError.
func (t *Translator) Get(id any) (Statement, error) {
	v, err := Coerce(t.idCol.Type(), id)
	if err != nil || v == nil {
		return Statement{}, &domain.NotFoundError{Collection: t.resource.Name, ID: fmt.Sprint(id)}
	}
	v, err = t.dialect.EncodeArg(t.idCol.Type(), v)
	if err != nil {
		return Statement{}, err
	}
	props, _ := t.properties(nil)
	sb := &sqlBuilder{dialect: t.dialect}
	stmt := t.selectList(props, false)
	stmt.SQL = "SELECT " + t.columnList(stmt) + " FROM " + t.table() +
		" WHERE " + t.dialect.Quote(t.idCol.Name) + " = " + sb.arg(v)
	stmt.Args = sb.args
	return stmt, nil
}

func (t *Translator) limit(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, domain.QueryErrorf("limit must not be negative")
	case requested == 0:
		return t.defaultLimit, nil
	case requested > t.maxLimit:
		return t.maxLimit, nil
	default:
		return requested, nil
	}
}

// properties resolves the projected columns. Without a selection every
// non-spatial column is returned.
func (t *Translator) properties(sel []string) ([]schema.Column, error) {
	if sel == nil {
		var out []schema.Column
		for _, c := range t.mapping.Columns {
			if c.Type() != domain.TypePoint {
				out = append(out, c)
			}
		}
		return out, nil
	}
	out := make([]schema.Column, 0, len(sel))
	seen := make(map[string]bool, len(sel))
	for _, name := range sel {
		if seen[name] {
			continue
		}
		seen[name] = true
		c, ok := t.mapping.Column(name)
		if !ok {
			return nil, domain.QueryErrorf("unknown property %q for %s", name, t.resource.Name)
		}
		if c.Type() == domain.TypePoint {
			return nil, domain.QueryErrorf("geometry field %q cannot be selected as a property", name)
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *Translator) selectList(props []schema.Column, skipGeometry bool) Statement {
	stmt := Statement{IDColumn: t.idCol.Name, Properties: props}
	if !skipGeometry && t.resource.GeomField != "" {
		stmt.GeometryColumn = t.resource.GeomField
	}
	return stmt
}

func (t *Translator) columnList(stmt Statement) string {
	cols := make([]string, 0, len(stmt.Properties)+2)
	cols = append(cols, t.dialect.Quote(stmt.IDColumn))
	for _, c := range stmt.Properties {
		cols = append(cols, t.dialect.Quote(c.Name))
	}
	if stmt.GeometryColumn != "" {
		cols = append(cols, t.dialect.GeometrySelect(t.dialect.Quote(stmt.GeometryColumn)))
	}
	return strings.Join(cols, ", ")
}

func (t *Translator) table() string {
	return t.dialect.Table(t.mapping.Schema, t.mapping.Table)
}

// where builds the conjunction of id, filter, bbox and datetime predicates.
// It returns "" when there is nothing to filter on.
func (t *Translator) where(sb *sqlBuilder, req Request) (string, error) {
	var preds []string
	q := t.dialect.Quote

	if req.ID != nil {
		v, err := Coerce(t.idCol.Type(), req.ID)
		if err != nil {
			return "", domain.QueryErrorf("id: %v", err)
		}
		v, err = t.dialect.EncodeArg(t.idCol.Type(), v)
		if err != nil {
			return "", err
		}
		preds = append(preds, q(t.idCol.Name)+" = "+sb.arg(v))
	}

	for _, f := range req.Filters {
		c, ok := t.mapping.Column(f.Field)
		if !ok {
			return "", domain.QueryErrorf("unknown property %q for %s", f.Field, t.resource.Name)
		}
		if !c.Type().Filterable() {
			return "", domain.QueryErrorf("property %q of type %s cannot be filtered", f.Field, c.Type())
		}
		if f.Value == nil {
			preds = append(preds, q(c.Name)+" IS NULL")
			continue
		}
		v, err := Coerce(c.Type(), f.Value)
		if err != nil {
			return "", domain.QueryErrorf("property %q: %v", f.Field, err)
		}
		v, err = t.dialect.EncodeArg(c.Type(), v)
		if err != nil {
			return "", err
		}
		preds = append(preds, q(c.Name)+" = "+sb.arg(v))
	}

	if req.BBox != nil {
		if t.resource.GeomField == "" {
			return "", domain.QueryErrorf("%s has no geometry to filter by bbox", t.resource.Name)
		}
		if err := req.BBox.Validate(); err != nil {
			return "", err
		}
		b := req.BBox
		preds = append(preds, t.dialect.PointInBox(q(t.resource.GeomField),
			b.MinLon, b.MinLat, b.MaxLon, b.MaxLat, sb.arg))
	}

	if req.Datetime != nil {
		p, err := t.datetime(sb, *req.Datetime)
		if err != nil {
			return "", err
		}
		preds = append(preds, p...)
	}

	if len(preds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(preds, " AND "), nil
}

// datetime intersects the requested interval with the resource's time
// extent. With a start field the extent is [COALESCE(start, end), end], so a
// missing start means an instant at end.
func (t *Translator) datetime(sb *sqlBuilder, iv Interval) ([]string, error) {
	res := t.resource
	if res.TimeField == "" {
		return nil, domain.QueryErrorf("%s has no time field to filter by datetime", res.Name)
	}
	q := t.dialect.Quote
	end := q(res.TimeField)
	start := end
	if res.TimeStartField != "" {
		start = "COALESCE(" + q(res.TimeStartField) + ", " + end + ")"
	}

	var preds []string
	if iv.Start != nil {
		v, err := t.dialect.EncodeArg(domain.TypeTimestamp, *iv.Start)
		if err != nil {
			return nil, err
		}
		preds = append(preds, end+" >= "+sb.arg(v))
	}
	if iv.End != nil {
		v, err := t.dialect.EncodeArg(domain.TypeTimestamp, *iv.End)
		if err != nil {
			return nil, err
		}
		preds = append(preds, start+" <= "+sb.arg(v))
	}
	return preds, nil
}

// orderBy validates sort keys and appends the id as a tiebreaker so that
// offset paging is stable.
func (t *Translator) orderBy(sorts []Sort) (string, error) {
	q := t.dialect.Quote
	terms := make([]string, 0, len(sorts)+1)
	hasID := false
	for _, s := range sorts {
		c, ok := t.mapping.Column(s.Field)
		if !ok {
			return "", domain.QueryErrorf("unknown sort property %q for %s", s.Field, t.resource.Name)
		}
		if !c.Type().Filterable() {
			return "", domain.QueryErrorf("property %q of type %s cannot be sorted", s.Field, c.Type())
		}
		dir := " ASC"
		if s.Desc {
			dir = " DESC"
		}
		terms = append(terms, q(c.Name)+dir)
		hasID = hasID || c.Name == t.idCol.Name
	}
	if !hasID {
		terms = append(terms, q(t.idCol.Name)+" ASC")
	}
	return strings.Join(terms, ", "), nil
}

type sqlBuilder struct {
	dialect schema.Dialect
	args    []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}
