package store

import (
	"regexp"
	"strings"
)

// UserIDParam is the bound parameter filled from the session when a filter
// references it.
const UserIDParam = "user_id"

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	userIDRef         = regexp.MustCompile(`:` + UserIDParam + `\b`)
)

// CriteriaInput is an HTTP-style query before validation.
type CriteriaInput struct {
	Filter string
	Params map[string]any
	Order  string
	Limit  int
	Offset int
	Select string
}

// CriteriaBuilder translates client queries into backend criteria.
type CriteriaBuilder struct {
	paginator *Paginator
}

// NewCriteriaBuilder creates a builder enforcing the given page limits.
func NewCriteriaBuilder(config PaginationConfig) *CriteriaBuilder {
	return &CriteriaBuilder{paginator: NewPaginatorWithConfig(config)}
}

// Build validates in and returns the criteria to run.
func (b *CriteriaBuilder) Build(rc *RequestContext, in CriteriaInput) (Criteria, error) {
	var c Criteria

	c.Filter = strings.TrimSpace(in.Filter)
	c.Params = InjectUserID(rc, c.Filter, in.Params)

	order, err := ParseOrder(in.Order)
	if err != nil {
		return Criteria{}, err
	}
	c.Order = order

	c.Limit, c.Offset, err = b.paginator.Window(in.Limit, in.Offset)
	if err != nil {
		return Criteria{}, err
	}

	spec := ParseFieldSpec(in.Select)
	if !spec.IsAll() && !spec.IsEmpty() {
		for _, f := range spec.Fields() {
			if !identifierPattern.MatchString(f) {
				return Criteria{}, NewBadRequestError("invalid select field '%s'", f)
			}
		}
		c.Select = spec.Fields()
	}
	return c, nil
}

// InjectUserID returns a copy of params in which ":user_id" is bound to the
// session user when filter references it and the caller did not bind it.
func InjectUserID(rc *RequestContext, filter string, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if _, ok := out[UserIDParam]; !ok && userIDRef.MatchString(filter) {
		out[UserIDParam] = rc.User()
	}
	return out
}

// ParseOrder parses "name desc, id" into orders. Empty input yields nil.
func ParseOrder(s string) ([]Order, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var orders []Order
	for _, part := range strings.Split(s, ",") {
		tokens := strings.Fields(part)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) > 2 || !identifierPattern.MatchString(tokens[0]) {
			return nil, NewBadRequestError("invalid order clause '%s'", strings.TrimSpace(part))
		}
		o := Order{Field: tokens[0]}
		if len(tokens) == 2 {
			switch strings.ToLower(tokens[1]) {
			case "asc":
			case "desc":
				o.Desc = true
			default:
				return nil, NewBadRequestError("invalid order direction '%s'", tokens[1])
			}
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// ValidIdentifier reports whether s can be used as a column reference.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
