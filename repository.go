package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RecordStore performs find, save and delete on registered resources. It
// runs each resource's pipeline around the backend calls and does not check
// permissions.
type RecordStore struct {
	backend  Backend
	registry *Registry
	log      *zap.Logger
	now      func() time.Time
}

// NewRecordStore creates a record store over backend. The registry resolves
// relation targets and join resources.
func NewRecordStore(backend Backend, registry *Registry, log *zap.Logger) *RecordStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RecordStore{
		backend:  backend,
		registry: registry,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Backend returns the persistence provider.
func (s *RecordStore) Backend() Backend { return s.backend }

// Registry returns the resource registry.
func (s *RecordStore) Registry() *Registry { return s.registry }

// WithTx runs fn in a backend transaction.
func (s *RecordStore) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return s.backend.WithTx(ctx, fn)
}

// WithReadTx runs fn in a read-only backend transaction.
func (s *RecordStore) WithReadTx(ctx context.Context, fn func(context.Context) error) error {
	return s.backend.WithReadTx(ctx, fn)
}

// Find returns the record of res with primary key id.
func (s *RecordStore) Find(ctx context.Context, rc *RequestContext, res *Resource, id string) (*Record, error) {
	rec, err := s.findRaw(ctx, rc, res, id)
	if err != nil {
		return nil, err
	}
	res.Pipeline.postLoad(rec)
	return rec, nil
}

// FindAll returns the records of res matching c. No match yields an empty
// slice and no error.
func (s *RecordStore) FindAll(ctx context.Context, rc *RequestContext, res *Resource, c Criteria) ([]*Record, error) {
	c = s.scope(rc, res, c)
	if len(c.Order) == 0 && res.Order != "" {
		c.Order, _ = ParseOrder(res.Order)
	}
	c.Select = selectColumns(res, c.Select)

	rows, err := s.backend.Query(ctx, res.Table, c)
	if err != nil {
		return nil, err
	}
	for _, rec := range rows {
		res.Pipeline.postLoad(rec)
	}
	return rows, nil
}

// FindByIDs returns the records with the given ids in the order requested.
func (s *RecordStore) FindByIDs(ctx context.Context, rc *RequestContext, res *Resource, ids []string) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, NewBadRequestError("no record ids supplied")
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	rows, err := s.FindAll(ctx, rc, res, Criteria{}.Where(In(res.PrimaryKey, values...)))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Record, len(rows))
	for _, rec := range rows {
		byID[FormatID(rec.Value(res.PrimaryKey))] = rec
	}
	out := make([]*Record, len(ids))
	for i, id := range ids {
		rec, ok := byID[id]
		if !ok {
			return nil, NewRecordNotFoundError(res.Name, id)
		}
		out[i] = rec
	}
	return out, nil
}

// Count returns the number of records of res matching c, ignoring paging.
func (s *RecordStore) Count(ctx context.Context, rc *RequestContext, res *Resource, c Criteria) (int64, error) {
	return s.backend.Count(ctx, res.Table, s.scope(rc, res, c.Unpaged()))
}

// Save inserts input when its primary key is empty and updates otherwise.
func (s *RecordStore) Save(ctx context.Context, rc *RequestContext, res *Resource, input *Record) (*Record, error) {
	if FormatID(input.Value(res.PrimaryKey)) == "" {
		return s.Insert(ctx, rc, res, input)
	}
	return s.Update(ctx, rc, res, input)
}

// Insert creates a record. A primary key supplied by the caller is ignored.
func (s *RecordStore) Insert(ctx context.Context, rc *RequestContext, res *Resource, input *Record) (*Record, error) {
	change := &Change{Resource: res, Request: rc, Input: input.Clone()}
	if change.Input == nil {
		change.Input = NewRecord()
	}
	change.Input.Delete(res.PrimaryKey)

	var saved *Record
	err := s.backend.WithTx(ctx, func(ctx context.Context) error {
		if err := res.Pipeline.validate(ctx, change); err != nil {
			return err
		}
		if err := res.Pipeline.normalize(ctx, change); err != nil {
			return err
		}

		values, err := columnValues(res, change.Input)
		if err != nil {
			return err
		}
		s.stampTimestamps(res, rc, values, true)
		if values.Len() == 0 {
			return NewBadRequestError("no fields supplied for %s", res.Name)
		}

		result, err := s.backend.Mutate(ctx, res.Table, NewInsert(values).WithReturning(res.PrimaryKey))
		if err != nil {
			return err
		}
		if result.LastInsertID == "" {
			return WrapQueryError(ErrInvalidQuery, "insert", res.Table, "", nil)
		}

		rec, err := s.load(ctx, res, result.LastInsertID)
		if err != nil {
			return err
		}
		if err := s.afterSave(ctx, change, rec); err != nil {
			return err
		}
		saved = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Record inserted",
		zap.String("resource", res.Name),
		zap.String("id", FormatID(saved.Value(res.PrimaryKey))))
	res.Pipeline.postLoad(saved)
	return saved, nil
}

// Update applies the fields of input to the record identified by input's
// primary key.
func (s *RecordStore) Update(ctx context.Context, rc *RequestContext, res *Resource, input *Record) (*Record, error) {
	id := FormatID(input.Value(res.PrimaryKey))
	if err := validateID(res, id); err != nil {
		return nil, err
	}

	var saved *Record
	err := s.backend.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.findRaw(ctx, rc, res, id)
		if err != nil {
			return err
		}
		change := &Change{Resource: res, Request: rc, Input: input.Clone(), Existing: existing}
		change.Input.Delete(res.PrimaryKey)

		if err := res.Pipeline.validate(ctx, change); err != nil {
			return err
		}
		if err := res.Pipeline.normalize(ctx, change); err != nil {
			return err
		}

		values, err := columnValues(res, change.Input)
		if err != nil {
			return err
		}
		if values.Len() > 0 {
			s.stampTimestamps(res, rc, values, false)
			if _, err := s.backend.Mutate(ctx, res.Table, NewUpdate(values, Eq(res.PrimaryKey, id))); err != nil {
				return err
			}
		}

		rec, err := s.load(ctx, res, id)
		if err != nil {
			return err
		}
		if err := s.afterSave(ctx, change, rec); err != nil {
			return err
		}
		saved = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Record updated", zap.String("resource", res.Name), zap.String("id", id))
	res.Pipeline.postLoad(saved)
	return saved, nil
}

// Delete removes the record with primary key id and returns it as it was
// before deletion.
func (s *RecordStore) Delete(ctx context.Context, rc *RequestContext, res *Resource, id string) (*Record, error) {
	if err := validateID(res, id); err != nil {
		return nil, err
	}

	var deleted *Record
	err := s.backend.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.findRaw(ctx, rc, res, id)
		if err != nil {
			return err
		}
		if err := res.Pipeline.beforeDelete(ctx, s, rc, existing); err != nil {
			return err
		}
		if err := s.detachRelations(ctx, res, id); err != nil {
			return err
		}
		result, err := s.backend.Mutate(ctx, res.Table, NewDelete(Eq(res.PrimaryKey, id)))
		if err != nil {
			return err
		}
		if result.RowsAffected == 0 {
			return NewRecordNotFoundError(res.Name, id)
		}
		deleted = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Record deleted", zap.String("resource", res.Name), zap.String("id", id))
	res.Pipeline.postLoad(deleted)
	return deleted, nil
}

// findRaw loads a record within the resource's row filter, without the
// post-load stage.
func (s *RecordStore) findRaw(ctx context.Context, rc *RequestContext, res *Resource, id string) (*Record, error) {
	if err := validateID(res, id); err != nil {
		return nil, err
	}
	c := s.scope(rc, res, Criteria{Limit: 1}.Where(Eq(res.PrimaryKey, id)))
	rows, err := s.backend.Query(ctx, res.Table, c)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewRecordNotFoundError(res.Name, id)
	}
	return rows[0], nil
}

// load re-reads a record just written, ignoring the row filter.
func (s *RecordStore) load(ctx context.Context, res *Resource, id string) (*Record, error) {
	rows, err := s.backend.Query(ctx, res.Table, Criteria{Limit: 1}.Where(Eq(res.PrimaryKey, id)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewRecordNotFoundError(res.Name, id)
	}
	return rows[0], nil
}

func (s *RecordStore) scope(rc *RequestContext, res *Resource, c Criteria) Criteria {
	if res.Filter == "" {
		return c
	}
	// The session user is bound here, never from client params.
	out := c
	out.Scope = append(append([]RowFilter(nil), c.Scope...), RowFilter{
		Expr:   res.Filter,
		Params: map[string]any{UserIDParam: rc.User()},
	})
	return out
}

func (s *RecordStore) afterSave(ctx context.Context, c *Change, saved *Record) error {
	if err := c.Resource.Pipeline.afterSave(ctx, s, c, saved); err != nil {
		return err
	}
	return s.assignRelations(ctx, c, saved)
}
