package store

import (
	"encoding/json"
	"fmt"
)

// Columns stamped by the store when a resource declares them.
const (
	CreatedDateColumn      = "created_date"
	LastModifiedDateColumn = "last_modified_date"
	CreatedByColumn        = "created_by_id"
	LastModifiedByColumn   = "last_modified_by_id"
)

// validateID validates a record id.
func validateID(res *Resource, id string) error {
	if id == "" {
		return NewBadRequestError("no %s id supplied for %s", res.PrimaryKey, res.Name)
	}
	return nil
}

// stampTimestamps sets the audit columns the resource declares.
func (s *RecordStore) stampTimestamps(res *Resource, rc *RequestContext, values *Record, isCreate bool) {
	now := s.now()
	if isCreate && res.HasColumn(CreatedDateColumn) {
		values.Set(CreatedDateColumn, now)
	}
	if res.HasColumn(LastModifiedDateColumn) {
		values.Set(LastModifiedDateColumn, now)
	}
	if !rc.Authenticated() {
		return
	}
	if isCreate && res.HasColumn(CreatedByColumn) {
		values.Set(CreatedByColumn, rc.UserID)
	}
	if res.HasColumn(LastModifiedByColumn) {
		values.Set(LastModifiedByColumn, rc.UserID)
	}
}

// columnValues keeps the fields of input that are stored columns of res.
// Structured values are stored as JSON text.
func columnValues(res *Resource, input *Record) (*Record, error) {
	values := NewRecord()
	for _, f := range input.Fields() {
		if f == res.PrimaryKey || !res.HasColumn(f) {
			continue
		}
		v := input.Value(f)
		switch v.(type) {
		case *Record, []any:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, NewValidationErrorForField(f, nil, fmt.Sprintf("can not encode value: %v", err))
			}
			v = string(data)
		}
		values.Set(f, v)
	}
	return values, nil
}

// selectColumns restricts a requested column list to stored columns and
// always includes the primary key. An empty request selects every column.
func selectColumns(res *Resource, requested []string) []string {
	if len(requested) == 0 {
		return nil
	}
	out := []string{res.PrimaryKey}
	for _, c := range requested {
		if c != res.PrimaryKey && res.HasColumn(c) {
			out = append(out, c)
		}
	}
	return out
}
