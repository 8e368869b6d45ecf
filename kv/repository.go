package kvstore

import (
	"context"
	"fmt"
	"strconv"

	"dsp/store"
)

type row struct {
	key string
	rec *store.Record
}

func (s *Service) rowPrefix(table string) string {
	return s.prefix + ":rec:" + table + ":"
}

// rowKey pads ids so that key order is insertion order.
func (s *Service) rowKey(table string, id int64) string {
	return fmt.Sprintf("%s%020d", s.rowPrefix(table), id)
}

func (s *Service) seqKey(table string) string {
	return s.prefix + ":seq:" + table
}

// Query returns the rows of table matching c.
func (s *Service) Query(ctx context.Context, table string, c store.Criteria) ([]*store.Record, error) {
	rows, err := s.scan(ctx, table, c)
	if err != nil {
		return nil, err
	}

	recs := make([]*store.Record, len(rows))
	for i, r := range rows {
		recs[i] = r.rec
	}
	sortRecords(recs, c.Order)

	if c.Offset > 0 {
		if c.Offset >= len(recs) {
			return []*store.Record{}, nil
		}
		recs = recs[c.Offset:]
	}
	if c.Limit > 0 && c.Limit < len(recs) {
		recs = recs[:c.Limit]
	}

	if len(c.Select) > 0 {
		for i, rec := range recs {
			out := store.NewRecord()
			for _, f := range c.Select {
				if v, ok := rec.Get(f); ok {
					out.Set(f, v)
				}
			}
			recs[i] = out
		}
	}
	return recs, nil
}

// Count returns the number of rows of table matching c.
func (s *Service) Count(ctx context.Context, table string, c store.Criteria) (int64, error) {
	rows, err := s.scan(ctx, table, c)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Mutate applies an insert, update or delete atomically.
func (s *Service) Mutate(ctx context.Context, table string, m store.Mutation) (store.MutationResult, error) {
	var result store.MutationResult
	err := s.WithTx(ctx, func(ctx context.Context) error {
		var err error
		switch mut := m.(type) {
		case store.Insert:
			result, err = s.insert(ctx, table, mut)
		case store.Update:
			result, err = s.update(ctx, table, mut)
		case store.Delete:
			result, err = s.delete(ctx, table, mut)
		default:
			err = store.WrapQueryError(store.ErrNotSupported, "mutate", table, "", nil)
		}
		return err
	})
	return result, err
}

func (s *Service) insert(ctx context.Context, table string, m store.Insert) (store.MutationResult, error) {
	pk := "id"
	if cols, ok := store.Returning(m.Hints); ok {
		pk = cols[0]
	}

	id, err := s.connection.Incr(ctx, s.seqKey(table))
	if err != nil {
		return store.MutationResult{}, store.WrapQueryError(err, "insert", table, "", nil)
	}
	rec := store.RecordOf(pk, id)
	for _, f := range m.Values.Fields() {
		if f != pk {
			rec.Set(f, m.Values.Value(f))
		}
	}
	if err := s.put(ctx, table, s.rowKey(table, id), rec); err != nil {
		return store.MutationResult{}, err
	}
	return store.MutationResult{RowsAffected: 1, LastInsertID: strconv.FormatInt(id, 10)}, nil
}

func (s *Service) update(ctx context.Context, table string, m store.Update) (store.MutationResult, error) {
	rows, err := s.scan(ctx, table, store.Criteria{Conditions: m.Where})
	if err != nil {
		return store.MutationResult{}, err
	}
	for _, r := range rows {
		for _, f := range m.Set.Fields() {
			r.rec.Set(f, m.Set.Value(f))
		}
		if err := s.put(ctx, table, r.key, r.rec); err != nil {
			return store.MutationResult{}, err
		}
	}
	return store.MutationResult{RowsAffected: int64(len(rows))}, nil
}

func (s *Service) delete(ctx context.Context, table string, m store.Delete) (store.MutationResult, error) {
	rows, err := s.scan(ctx, table, store.Criteria{Conditions: m.Where})
	if err != nil {
		return store.MutationResult{}, err
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.key
	}
	if err := s.connection.MDelete(ctx, keys); err != nil {
		return store.MutationResult{}, store.WrapQueryError(err, "delete", table, "", nil)
	}
	return store.MutationResult{RowsAffected: int64(len(rows))}, nil
}

func (s *Service) put(ctx context.Context, table, key string, rec *store.Record) error {
	data, err := rec.MarshalJSON()
	if err != nil {
		return store.WrapQueryError(err, "encode", table, "", nil)
	}
	if err := s.connection.Set(ctx, key, data, 0); err != nil {
		return store.WrapQueryError(err, "set", table, "", nil)
	}
	return nil
}

// scan loads the rows of table in key order and keeps those matching the
// scope filters, the filter and every condition.
func (s *Service) scan(ctx context.Context, table string, c store.Criteria) ([]row, error) {
	preds := make([]predicate, 0, len(c.Scope)+1)
	for _, f := range c.Scope {
		pred, err := compileFilter(f.Expr, f.Params)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	pred, err := compileFilter(c.Filter, c.Params)
	if err != nil {
		return nil, err
	}
	preds = append(preds, pred)

	keys, err := s.connection.Keys(ctx, s.rowPrefix(table)+"*")
	if err != nil {
		return nil, store.WrapQueryError(err, "scan", table, "", nil)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.connection.MGet(ctx, keys)
	if err != nil {
		return nil, store.WrapQueryError(err, "scan", table, "", nil)
	}

	var rows []row
	for _, key := range keys {
		data, ok := values[key]
		if !ok {
			continue
		}
		rec := store.NewRecord()
		if err := rec.UnmarshalJSON(data); err != nil {
			return nil, store.WrapQueryError(err, "decode", table, key, nil)
		}
		if !matchesFilters(rec, preds) || !matchesAll(rec, c.Conditions) {
			continue
		}
		rows = append(rows, row{key: key, rec: rec})
	}
	return rows, nil
}

func matchesFilters(rec *store.Record, preds []predicate) bool {
	for _, p := range preds {
		if !p(rec) {
			return false
		}
	}
	return true
}

func matchesAll(rec *store.Record, conds []store.Condition) bool {
	for _, c := range conds {
		if !matchCondition(rec, c) {
			return false
		}
	}
	return true
}
