package store

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// FieldSpec selects the fields of a record to output. The zero value selects
// the primary key only.
type FieldSpec struct {
	all    bool
	fields []string
}

// ParseFieldSpec parses "" (primary key only), "*" (all fields) or a comma
// separated field list.
func ParseFieldSpec(s string) FieldSpec {
	s = strings.TrimSpace(s)
	if s == "" {
		return FieldSpec{}
	}
	var fields []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "*":
			return AllFields()
		}
		fields = append(fields, part)
	}
	return FieldSpec{fields: fields}
}

// AllFields selects every field.
func AllFields() FieldSpec { return FieldSpec{all: true} }

// FieldList selects the named fields.
func FieldList(fields ...string) FieldSpec { return FieldSpec{fields: fields} }

// IsEmpty reports whether the spec selects the primary key only.
func (f FieldSpec) IsEmpty() bool { return !f.all && len(f.fields) == 0 }

// IsAll reports whether the spec selects every field.
func (f FieldSpec) IsAll() bool { return f.all }

// Fields returns the explicit field list.
func (f FieldSpec) Fields() []string {
	return append([]string(nil), f.fields...)
}

func (f FieldSpec) String() string {
	if f.all {
		return "*"
	}
	return strings.Join(f.fields, ",")
}

// apply projects rec. The result never shares structure with rec.
func (f FieldSpec) apply(res *Resource, rec *Record) *Record {
	switch {
	case f.all:
		return rec.Clone()
	case len(f.fields) == 0:
		return RecordOf(res.PrimaryKey, rec.Value(res.PrimaryKey))
	}
	out := NewRecord()
	for _, field := range f.fields {
		if v, ok := rec.Get(field); ok {
			out.Set(field, cloneValue(v))
		}
	}
	return out
}

// RelationSpec requests a relation to embed, with the fields and order of
// its records.
type RelationSpec struct {
	Name   string
	Fields FieldSpec
	Order  string
}

// ProjectOptions shapes the output of a record.
type ProjectOptions struct {
	Fields    FieldSpec
	Relations []RelationSpec
	// Refresh re-reads the record before projecting it. It is ignored when
	// only the primary key is requested.
	Refresh bool
	// Gate, when set, must allow reading a relation's target before it is
	// embedded.
	Gate Gate
}

// Projector shapes records for output and embeds their related records.
type Projector struct {
	store *RecordStore
	log   *zap.Logger
}

// NewProjector creates a projector reading related records from store.
func NewProjector(store *RecordStore, log *zap.Logger) *Projector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Projector{store: store, log: log}
}

// Project returns the output form of rec. Unknown relations are skipped.
func (p *Projector) Project(ctx context.Context, rc *RequestContext, res *Resource, rec *Record, opts ProjectOptions) (*Record, error) {
	if rec == nil {
		return nil, nil
	}
	if opts.Refresh && (!opts.Fields.IsEmpty() || len(opts.Relations) > 0) {
		if id := FormatID(rec.Value(res.PrimaryKey)); id != "" {
			fresh, err := p.store.Find(ctx, rc, res, id)
			if err != nil {
				return nil, err
			}
			rec = fresh
		}
	}

	out := opts.Fields.apply(res, rec)
	for _, spec := range opts.Relations {
		rel, ok := res.Relation(spec.Name)
		if !ok {
			p.log.Warn("Skipping unknown relation",
				zap.String("resource", res.Name),
				zap.String("relation", spec.Name))
			continue
		}
		v, err := p.related(ctx, rc, res, rec, rel, spec, opts.Gate)
		if err != nil {
			return nil, err
		}
		out.Set(rel.Name, v)
	}
	return out, nil
}

// Func binds the projector to one request for use by the batch executor.
func (p *Projector) Func(rc *RequestContext, res *Resource, opts ProjectOptions) ProjectFunc {
	return func(ctx context.Context, rec *Record) (*Record, error) {
		return p.Project(ctx, rc, res, rec, opts)
	}
}

func (p *Projector) related(ctx context.Context, rc *RequestContext, res *Resource, rec *Record, rel Relation, spec RelationSpec, gate Gate) (any, error) {
	registry := p.store.Registry()
	target, err := registry.Lookup(rel.Target)
	if err != nil {
		return nil, err
	}
	if gate != nil {
		if err := gate.Check(ctx, rc, target, ActionRead); err != nil {
			return nil, err
		}
	}
	order, err := ParseOrder(spec.Order)
	if err != nil {
		return nil, err
	}

	switch rel.Kind {
	case BelongsTo:
		fk := FormatID(rec.Value(rel.ForeignKey))
		if fk == "" {
			return nil, nil
		}
		rows, err := p.store.FindAll(ctx, rc, target, Criteria{Limit: 1}.Where(Eq(target.PrimaryKey, fk)))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return spec.Fields.apply(target, rows[0]), nil

	case HasMany:
		parentID := FormatID(rec.Value(res.PrimaryKey))
		rows, err := p.store.FindAll(ctx, rc, target, Criteria{Order: order}.Where(Eq(rel.ForeignKey, parentID)))
		if err != nil {
			return nil, err
		}
		return projectAll(target, rows, spec.Fields), nil

	case ManyMany:
		jt, err := JoinTableFor(registry, rel)
		if err != nil {
			return nil, err
		}
		parentID := FormatID(rec.Value(res.PrimaryKey))
		links, err := p.store.FindAll(ctx, rc, jt.Resource, Criteria{}.Where(Eq(jt.ParentKey, parentID)))
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, len(links))
		ids := make([]any, 0, len(links))
		for _, link := range links {
			id := FormatID(link.Value(jt.TargetKey))
			if _, dup := seen[id]; dup || id == "" {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return []any{}, nil
		}
		rows, err := p.store.FindAll(ctx, rc, target, Criteria{Order: order}.Where(In(target.PrimaryKey, ids...)))
		if err != nil {
			return nil, err
		}
		return projectAll(target, rows, spec.Fields), nil
	}
	return nil, NewBadRequestError("unsupported relation kind %s", string(rel.Kind))
}

func projectAll(res *Resource, rows []*Record, fields FieldSpec) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = fields.apply(res, row)
	}
	return out
}
