package sqlstore

import (
	"strings"

	"dsp/store"
)

// Mutation compiles an Insert, Update or Delete. returning lists the columns
// the statement should return; it is empty when the dialect cannot return
// rows or the mutation asked for none.
func (c *SQLCompiler) Mutation(m store.Mutation, supportsReturning bool) (*CompiledSQL, []string, error) {
	if err := checkIdentifier(c.table); err != nil {
		return nil, nil, err
	}
	switch mt := m.(type) {
	case store.Insert:
		return c.insert(mt, supportsReturning)
	case store.Update:
		compiled, err := c.update(mt)
		return compiled, nil, err
	case store.Delete:
		compiled, err := c.delete(mt)
		return compiled, nil, err
	default:
		return nil, nil, store.NewBadRequestError("unsupported mutation %T", m)
	}
}

func (c *SQLCompiler) insert(m store.Insert, supportsReturning bool) (*CompiledSQL, []string, error) {
	if m.Values.Len() == 0 {
		return nil, nil, store.NewBadRequestError("insert into %s has no values", c.table)
	}
	cols := m.Values.Fields()
	vals := make([]any, len(cols))
	for i, col := range cols {
		if err := checkIdentifier(col); err != nil {
			return nil, nil, err
		}
		vals[i] = m.Values.Value(col)
	}
	ib := c.builder.Insert(c.table).Columns(cols...).Values(vals...)

	var returning []string
	if r, ok := store.Returning(m.Hints); ok && supportsReturning {
		for _, col := range r {
			if err := checkIdentifier(col); err != nil {
				return nil, nil, err
			}
		}
		returning = r
		ib = ib.Suffix("RETURNING " + strings.Join(r, ", "))
	}

	compiled, err := toCompiled(ib)
	return compiled, returning, err
}

func (c *SQLCompiler) update(m store.Update) (*CompiledSQL, error) {
	if m.Set.Len() == 0 {
		return nil, store.NewBadRequestError("update of %s has no values", c.table)
	}
	ub := c.builder.Update(c.table)
	for _, col := range m.Set.Fields() {
		if err := checkIdentifier(col); err != nil {
			return nil, err
		}
		ub = ub.Set(col, m.Set.Value(col))
	}
	where, err := c.conditions(m.Where)
	if err != nil {
		return nil, err
	}
	if len(where) > 0 {
		ub = ub.Where(where)
	}
	return toCompiled(ub)
}

func (c *SQLCompiler) delete(m store.Delete) (*CompiledSQL, error) {
	// An unfiltered delete is never issued by the record store.
	if len(m.Where) == 0 {
		return nil, store.NewBadRequestError("delete from %s has no conditions", c.table)
	}
	where, err := c.conditions(m.Where)
	if err != nil {
		return nil, err
	}
	return toCompiled(c.builder.Delete(c.table).Where(where))
}
