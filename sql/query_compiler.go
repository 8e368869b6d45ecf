package sqlstore

import (
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"dsp/store"
)

// CompiledSQL represents a compiled SQL statement with arguments.
type CompiledSQL struct {
	SQL  string
	Args []any
}

// SQLCompiler compiles store.Criteria and store.Mutation values for one
// table into dialect-specific SQL.
type SQLCompiler struct {
	table   string
	dialect string
	builder sq.StatementBuilderType
}

func NewSQLCompiler(table, dialect string, builder sq.StatementBuilderType) *SQLCompiler {
	return &SQLCompiler{table: table, dialect: dialect, builder: builder}
}

// Select compiles a row query.
func (c *SQLCompiler) Select(crit store.Criteria) (*CompiledSQL, error) {
	if err := checkIdentifier(c.table); err != nil {
		return nil, err
	}
	columns := []string{"*"}
	if len(crit.Select) > 0 {
		for _, col := range crit.Select {
			if err := checkIdentifier(col); err != nil {
				return nil, err
			}
		}
		columns = crit.Select
	}

	where, err := c.where(crit)
	if err != nil {
		return nil, err
	}
	qb := c.builder.Select(columns...).From(c.table)
	if len(where) > 0 {
		qb = qb.Where(where)
	}

	for _, o := range crit.Order {
		if err := checkIdentifier(o.Field); err != nil {
			return nil, err
		}
		qb = qb.OrderBy(o.String())
	}

	switch {
	case crit.Limit > 0:
		qb = qb.Limit(uint64(crit.Limit))
	case crit.Offset > 0:
		// Most dialects reject OFFSET without LIMIT.
		qb = qb.Limit(math.MaxInt64)
	}
	if crit.Offset > 0 {
		qb = qb.Offset(uint64(crit.Offset))
	}

	return toCompiled(qb)
}

// Count compiles a COUNT(*) query over the rows matching crit.
func (c *SQLCompiler) Count(crit store.Criteria) (*CompiledSQL, error) {
	if err := checkIdentifier(c.table); err != nil {
		return nil, err
	}
	where, err := c.where(crit)
	if err != nil {
		return nil, err
	}
	qb := c.builder.Select("COUNT(*)").From(c.table)
	if len(where) > 0 {
		qb = qb.Where(where)
	}
	return toCompiled(qb)
}

// where combines the scope filters, the client filter and the structured
// conditions. Each filter is a separate term with its own bindings.
func (c *SQLCompiler) where(crit store.Criteria) (sq.And, error) {
	var and sq.And
	for _, scope := range crit.Scope {
		expr, err := compileFilter(scope.Expr, scope.Params)
		if err != nil {
			return nil, err
		}
		and = append(and, expr)
	}
	if f := strings.TrimSpace(crit.Filter); f != "" {
		if err := checkFilter(f); err != nil {
			return nil, err
		}
		expr, err := compileFilter(f, crit.Params)
		if err != nil {
			return nil, err
		}
		and = append(and, expr)
	}
	conds, err := c.conditions(crit.Conditions)
	if err != nil {
		return nil, err
	}
	return append(and, conds...), nil
}

// compileFilter binds ":name" references in filter to params. A literal colon
// is written "::".
func compileFilter(filter string, params map[string]any) (sq.Sqlizer, error) {
	if params == nil {
		params = map[string]any{}
	}
	q, args, err := sqlx.Named(filter, params)
	if err != nil {
		return nil, store.NewBadRequestError("invalid filter: %v", err)
	}
	return sq.Expr("("+q+")", args...), nil
}

// checkFilter rejects client filters that could escape their own term:
// unbalanced parentheses, comments or statement separators outside string
// literals.
func checkFilter(filter string) error {
	depth := 0
	var quote byte
	for i := 0; i < len(filter); i++ {
		ch := filter[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"', '`':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return store.NewBadRequestError("invalid filter: unbalanced ')' at %d", i)
			}
		case ';':
			return store.NewBadRequestError("invalid filter: ';' is not allowed")
		case '-', '/', '#':
			next := byte(0)
			if i+1 < len(filter) {
				next = filter[i+1]
			}
			if ch == '#' || (ch == '-' && next == '-') || (ch == '/' && next == '*') {
				return store.NewBadRequestError("invalid filter: comments are not allowed")
			}
		}
	}
	if quote != 0 {
		return store.NewBadRequestError("invalid filter: unterminated string")
	}
	if depth != 0 {
		return store.NewBadRequestError("invalid filter: unbalanced '('")
	}
	return nil
}

func (c *SQLCompiler) conditions(conds []store.Condition) (sq.And, error) {
	out := make(sq.And, 0, len(conds))
	for _, cond := range conds {
		s, err := c.condition(cond)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *SQLCompiler) condition(cond store.Condition) (sq.Sqlizer, error) {
	f := cond.Field
	if err := checkIdentifier(f); err != nil {
		return nil, err
	}

	switch cond.Op {
	case store.OpEq:
		return sq.Eq{f: cond.Value}, nil
	case store.OpNe:
		return sq.NotEq{f: cond.Value}, nil
	case store.OpGt:
		return sq.Gt{f: cond.Value}, nil
	case store.OpGe:
		return sq.GtOrEq{f: cond.Value}, nil
	case store.OpLt:
		return sq.Lt{f: cond.Value}, nil
	case store.OpLe:
		return sq.LtOrEq{f: cond.Value}, nil
	case store.OpIn, store.OpNotIn:
		values := listValue(cond.Value)
		if len(values) == 0 {
			if cond.Op == store.OpIn {
				return sq.Expr("1=0"), nil
			}
			return sq.Expr("1=1"), nil
		}
		if cond.Op == store.OpIn {
			return sq.Eq{f: values}, nil
		}
		return sq.NotEq{f: values}, nil
	case store.OpBetween:
		bounds, ok := cond.Value.([2]any)
		if !ok {
			return nil, store.NewBadRequestError("between on %s needs two bounds", f)
		}
		return sq.Expr(f+" BETWEEN ? AND ?", bounds[0], bounds[1]), nil
	case store.OpPrefix:
		return c.like(f, fmt.Sprint(cond.Value)+"%"), nil
	case store.OpSuffix:
		return c.like(f, "%"+fmt.Sprint(cond.Value)), nil
	case store.OpContains:
		return c.like(f, "%"+fmt.Sprint(cond.Value)+"%"), nil
	case store.OpLike:
		return c.like(f, fmt.Sprint(cond.Value)), nil
	case store.OpIsNull:
		return sq.Eq{f: nil}, nil
	case store.OpNotNull:
		return sq.NotEq{f: nil}, nil
	default:
		return nil, store.NewBadRequestError("unsupported operator %q", cond.Op)
	}
}

// like matches case-insensitively on every dialect.
func (c *SQLCompiler) like(field, pattern string) sq.Sqlizer {
	if c.dialect == "postgres" {
		return sq.Expr("LOWER("+field+") LIKE LOWER(?)", pattern)
	}
	return sq.Like{field: pattern}
}

func listValue(v any) []any {
	switch vals := v.(type) {
	case nil:
		return nil
	case []any:
		return vals
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func checkIdentifier(name string) error {
	if !store.ValidIdentifier(name) {
		return store.NewBadRequestError("invalid identifier %q", name)
	}
	return nil
}

func toCompiled(s sq.Sqlizer) (*CompiledSQL, error) {
	q, args, err := s.ToSql()
	if err != nil {
		return nil, store.WrapQueryError(err, "compile", "", q, args)
	}
	return &CompiledSQL{SQL: q, Args: args}, nil
}
