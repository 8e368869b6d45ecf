package store

import (
	"context"
	"fmt"
	"strings"
)

// Change is a pending insert or update flowing through a resource pipeline.
type Change struct {
	Resource *Resource
	Request  *RequestContext
	// Input holds the caller's fields. Normalize stages may rewrite it.
	Input *Record
	// Existing is the stored record for updates and nil for inserts.
	Existing *Record
}

// IsNew reports whether the change is an insert.
func (c *Change) IsNew() bool {
	return c.Existing == nil
}

// ID returns the primary key of the record being updated.
func (c *Change) ID() string {
	if c.Existing == nil {
		return ""
	}
	return FormatID(c.Existing.Value(c.Resource.PrimaryKey))
}

// Value returns the field from the input, falling back to the stored record.
func (c *Change) Value(field string) (any, bool) {
	if v, ok := c.Input.Get(field); ok {
		return v, true
	}
	return c.Existing.Get(field)
}

// ChangeFunc is a validate or normalize stage.
type ChangeFunc func(ctx context.Context, c *Change) error

// SaveFunc runs after a record was written, inside the write transaction.
type SaveFunc func(ctx context.Context, s *RecordStore, c *Change, saved *Record) error

// DeleteFunc runs before a record is deleted, inside the write transaction.
type DeleteFunc func(ctx context.Context, s *RecordStore, rc *RequestContext, rec *Record) error

// LoadFunc transforms every record read from the backend.
type LoadFunc func(rec *Record)

// Pipeline holds the lifecycle stages of a resource. Stages run in order:
// Validate, Normalize, persist, AfterSave, PostLoad.
type Pipeline struct {
	Validate     []ChangeFunc
	Normalize    []ChangeFunc
	AfterSave    []SaveFunc
	BeforeDelete []DeleteFunc
	PostLoad     []LoadFunc
}

func (p Pipeline) validate(ctx context.Context, c *Change) error {
	if err := validateRequired(c); err != nil {
		return err
	}
	for _, fn := range p.Validate {
		if err := fn(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (p Pipeline) normalize(ctx context.Context, c *Change) error {
	for _, fn := range p.Normalize {
		if err := fn(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (p Pipeline) afterSave(ctx context.Context, s *RecordStore, c *Change, saved *Record) error {
	for _, fn := range p.AfterSave {
		if err := fn(ctx, s, c, saved); err != nil {
			return err
		}
	}
	return nil
}

func (p Pipeline) beforeDelete(ctx context.Context, s *RecordStore, rc *RequestContext, rec *Record) error {
	for _, fn := range p.BeforeDelete {
		if err := fn(ctx, s, rc, rec); err != nil {
			return err
		}
	}
	return nil
}

func (p Pipeline) postLoad(rec *Record) {
	for _, fn := range p.PostLoad {
		fn(rec)
	}
}

// validateRequired rejects inserts missing a required field and any change
// that sets a required field to an empty value.
func validateRequired(c *Change) error {
	for _, field := range c.Resource.Required {
		v, present := c.Input.Get(field)
		if !present {
			if c.IsNew() {
				return NewValidationErrorForField(field, nil, fmt.Sprintf("%s is required", field))
			}
			continue
		}
		if isEmptyValue(v) {
			return NewValidationErrorForField(field, v, fmt.Sprintf("%s can not be empty", field))
		}
	}
	return nil
}

func isEmptyValue(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(vv) == ""
	case []any:
		return len(vv) == 0
	case *Record:
		return vv.Len() == 0
	}
	return false
}
