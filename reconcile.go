package store

import (
	"context"

	"go.uber.org/zap"
)

// JoinRow is one link between a parent record and a target record.
type JoinRow struct {
	// ID is the join row's own primary key. It is empty for desired rows.
	ID       string
	ParentID string
	TargetID string
	// Discriminator is part of the row identity when the join carries one.
	Discriminator string
	Attrs         *Record
}

func (r JoinRow) identity() string {
	return r.ParentID + "\x00" + r.TargetID + "\x00" + r.Discriminator
}

// ReconcilePlan lists the writes that turn the existing join rows into the
// desired ones.
type ReconcilePlan struct {
	ToInsert []JoinRow
	ToUpdate []JoinRow
	ToDelete []JoinRow
}

// Empty reports whether the plan has nothing to write.
func (p ReconcilePlan) Empty() bool {
	return len(p.ToInsert) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

// Reconcile diffs existing against desired. Rows are matched on parent,
// target and discriminator. Matched rows whose desired attributes differ are
// updated and keep the existing ID. Duplicated existing rows are deleted.
func Reconcile(existing, desired []JoinRow) (ReconcilePlan, error) {
	var plan ReconcilePlan

	seen := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		key := d.identity()
		if _, dup := seen[key]; dup {
			return ReconcilePlan{}, NewBadRequestError("duplicate relation assignment")
		}
		seen[key] = struct{}{}
	}

	current := make(map[string]JoinRow, len(existing))
	for _, e := range existing {
		key := e.identity()
		if _, dup := current[key]; dup {
			plan.ToDelete = append(plan.ToDelete, e)
			continue
		}
		current[key] = e
	}

	kept := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		key := d.identity()
		e, ok := current[key]
		if !ok {
			plan.ToInsert = append(plan.ToInsert, d)
			continue
		}
		kept[key] = struct{}{}
		if !attrsMatch(e.Attrs, d.Attrs) {
			d.ID = e.ID
			plan.ToUpdate = append(plan.ToUpdate, d)
		}
	}

	for _, e := range existing {
		key := e.identity()
		if _, ok := kept[key]; ok {
			continue
		}
		if first := current[key]; first.ID == e.ID {
			plan.ToDelete = append(plan.ToDelete, e)
		}
	}
	return plan, nil
}

// attrsMatch reports whether every desired attribute equals the existing one.
func attrsMatch(existing, desired *Record) bool {
	for _, f := range desired.Fields() {
		if !existing.Has(f) {
			return false
		}
		if FormatID(existing.Value(f)) != FormatID(desired.Value(f)) {
			return false
		}
	}
	return true
}

// JoinTable describes the join resource behind a many_many relation.
type JoinTable struct {
	Resource         *Resource
	ParentKey        string
	TargetKey        string
	DiscriminatorKey string
}

// JoinTableFor resolves the join table of a many_many relation.
func JoinTableFor(registry *Registry, rel Relation) (JoinTable, error) {
	join, err := registry.Lookup(rel.JoinResource)
	if err != nil {
		return JoinTable{}, err
	}
	return JoinTable{
		Resource:         join,
		ParentKey:        rel.JoinParentKey,
		TargetKey:        rel.JoinTargetKey,
		DiscriminatorKey: rel.Discriminator,
	}, nil
}

func (jt JoinTable) isKey(field string) bool {
	return field == jt.Resource.PrimaryKey || field == jt.ParentKey ||
		field == jt.TargetKey || (jt.DiscriminatorKey != "" && field == jt.DiscriminatorKey)
}

// row converts a stored join record.
func (jt JoinTable) row(rec *Record) JoinRow {
	r := JoinRow{
		ID:       FormatID(rec.Value(jt.Resource.PrimaryKey)),
		ParentID: FormatID(rec.Value(jt.ParentKey)),
		TargetID: FormatID(rec.Value(jt.TargetKey)),
		Attrs:    NewRecord(),
	}
	if jt.DiscriminatorKey != "" {
		r.Discriminator = FormatID(rec.Value(jt.DiscriminatorKey))
	}
	for _, f := range rec.Fields() {
		if !jt.isKey(f) {
			r.Attrs.Set(f, rec.Value(f))
		}
	}
	return r
}

// values builds the column values for inserting r.
func (jt JoinTable) values(r JoinRow) *Record {
	v := NewRecord().Set(jt.ParentKey, r.ParentID)
	if r.TargetID != "" {
		v.Set(jt.TargetKey, r.TargetID)
	} else {
		v.Set(jt.TargetKey, nil)
	}
	if jt.DiscriminatorKey != "" {
		v.Set(jt.DiscriminatorKey, r.Discriminator)
	}
	for _, f := range r.Attrs.Fields() {
		if jt.Resource.HasColumn(f) {
			v.Set(f, r.Attrs.Value(f))
		}
	}
	return v
}

// JoinRowsFromValue reads a relation assignment: a list of target ids or of
// objects carrying the target key (or "id") and join attributes. A nil value
// clears the relation.
func JoinRowsFromValue(jt JoinTable, parentID string, v any) ([]JoinRow, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, NewBadRequestError("relation assignment must be a list")
	}

	rows := make([]JoinRow, 0, len(items))
	for _, item := range items {
		row := JoinRow{ParentID: parentID, Attrs: NewRecord()}
		switch it := item.(type) {
		case *Record:
			target, ok := it.Get(jt.TargetKey)
			if !ok {
				target = it.Value("id")
			}
			row.TargetID = FormatID(target)
			if jt.DiscriminatorKey != "" {
				row.Discriminator = FormatID(it.Value(jt.DiscriminatorKey))
			}
			for _, f := range it.Fields() {
				if f != "id" && !jt.isKey(f) && jt.Resource.HasColumn(f) {
					row.Attrs.Set(f, it.Value(f))
				}
			}
		case nil:
			return nil, NewBadRequestError("invalid relation entry")
		default:
			row.TargetID = FormatID(it)
		}
		if row.TargetID == "" && row.Discriminator == "" {
			return nil, NewBadRequestError("relation entry is missing %s", jt.TargetKey)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SyncJoin makes the join rows of parentID equal to desired.
func (s *RecordStore) SyncJoin(ctx context.Context, jt JoinTable, parentID string, desired []JoinRow) (ReconcilePlan, error) {
	var plan ReconcilePlan
	err := s.backend.WithTx(ctx, func(ctx context.Context) error {
		recs, err := s.backend.Query(ctx, jt.Resource.Table, Criteria{}.Where(Eq(jt.ParentKey, parentID)))
		if err != nil {
			return err
		}
		existing := make([]JoinRow, len(recs))
		for i, rec := range recs {
			existing[i] = jt.row(rec)
		}
		plan, err = Reconcile(existing, desired)
		if err != nil {
			return err
		}
		return s.ApplyPlan(ctx, jt, plan)
	})
	return plan, err
}

// ApplyPlan writes a reconcile plan in one transaction: deletes, then
// updates, then inserts.
func (s *RecordStore) ApplyPlan(ctx context.Context, jt JoinTable, plan ReconcilePlan) error {
	if plan.Empty() {
		return nil
	}
	table := jt.Resource.Table
	pk := jt.Resource.PrimaryKey
	err := s.backend.WithTx(ctx, func(ctx context.Context) error {
		for _, r := range plan.ToDelete {
			if _, err := s.backend.Mutate(ctx, table, NewDelete(Eq(pk, r.ID))); err != nil {
				return err
			}
		}
		for _, r := range plan.ToUpdate {
			set := NewRecord()
			for _, f := range r.Attrs.Fields() {
				if jt.Resource.HasColumn(f) {
					set.Set(f, r.Attrs.Value(f))
				}
			}
			if set.Len() == 0 {
				continue
			}
			if _, err := s.backend.Mutate(ctx, table, NewUpdate(set, Eq(pk, r.ID))); err != nil {
				return err
			}
		}
		for _, r := range plan.ToInsert {
			if _, err := s.backend.Mutate(ctx, table, NewInsert(jt.values(r))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug("Join rows reconciled",
		zap.String("join", jt.Resource.Name),
		zap.Int("inserted", len(plan.ToInsert)),
		zap.Int("updated", len(plan.ToUpdate)),
		zap.Int("deleted", len(plan.ToDelete)))
	return nil
}

// assignRelations syncs every many_many relation named in the change input.
func (s *RecordStore) assignRelations(ctx context.Context, c *Change, saved *Record) error {
	if s.registry == nil {
		return nil
	}
	parentID := FormatID(saved.Value(c.Resource.PrimaryKey))
	for _, rel := range c.Resource.Relations {
		if rel.Kind != ManyMany {
			continue
		}
		v, ok := c.Input.Get(rel.Name)
		if !ok {
			continue
		}
		jt, err := JoinTableFor(s.registry, rel)
		if err != nil {
			return err
		}
		desired, err := JoinRowsFromValue(jt, parentID, v)
		if err != nil {
			return err
		}
		if _, err := s.SyncJoin(ctx, jt, parentID, desired); err != nil {
			return err
		}
	}
	return nil
}

// detachRelations removes join rows pointing at a record about to be deleted,
// from either side of the join.
func (s *RecordStore) detachRelations(ctx context.Context, res *Resource, id string) error {
	if s.registry == nil {
		return nil
	}
	type link struct{ table, key string }
	done := make(map[link]struct{})
	detach := func(rel Relation, key string) error {
		join, err := s.registry.Lookup(rel.JoinResource)
		if err != nil {
			return err
		}
		l := link{join.Table, key}
		if _, ok := done[l]; ok {
			return nil
		}
		done[l] = struct{}{}
		_, err = s.backend.Mutate(ctx, join.Table, NewDelete(Eq(key, id)))
		return err
	}

	for _, rel := range res.Relations {
		if rel.Kind == ManyMany {
			if err := detach(rel, rel.JoinParentKey); err != nil {
				return err
			}
		}
	}
	for _, other := range s.registry.Resources() {
		for _, rel := range other.Relations {
			if rel.Kind == ManyMany && rel.Target == res.Name {
				if err := detach(rel, rel.JoinTargetKey); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
