package store

// Operator represents a comparison operation in filters.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGe       Operator = "ge"
	OpLt       Operator = "lt"
	OpLe       Operator = "le"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpBetween  Operator = "between"
	OpPrefix   Operator = "prefix"   // string starts with
	OpSuffix   Operator = "suffix"   // string ends with
	OpContains Operator = "contains" // string contains
	OpLike     Operator = "like"     // SQL LIKE pattern
	OpIsNull   Operator = "isnull"
	OpNotNull  Operator = "notnull"
)

// Condition is a simple filter condition (field op value).
type Condition struct {
	Field string
	Op    Operator
	// Value can be a single value, []any for OpIn, or [2]any for OpBetween.
	Value any
}

// Order defines ordering on a field.
type Order struct {
	Field string
	Desc  bool
}

// String renders the order as "field" or "field DESC".
func (o Order) String() string {
	if o.Desc {
		return o.Field + " DESC"
	}
	return o.Field
}

// RowFilter is a filter expression with its own parameter bindings.
type RowFilter struct {
	Expr   string
	Params map[string]any
}

// Criteria selects records from a table. Filter is a backend expression
// that may reference Params by name (":name"); Conditions are ANDed with it.
// Scope filters are compiled apart from Filter and never see Params.
type Criteria struct {
	Select     []string
	Filter     string
	Params     map[string]any
	Scope      []RowFilter
	Conditions []Condition
	Order      []Order
	Limit      int // 0 means no limit
	Offset     int
}

// Where returns a copy of c with conds appended.
func (c Criteria) Where(conds ...Condition) Criteria {
	out := c
	out.Conditions = append(append([]Condition(nil), c.Conditions...), conds...)
	return out
}

// Unpaged returns a copy of c without limit, offset or ordering, as used for
// counting.
func (c Criteria) Unpaged() Criteria {
	out := c
	out.Limit = 0
	out.Offset = 0
	out.Order = nil
	return out
}

// Eq matches field equal to value.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// In matches field against any of values. An empty list matches nothing.
func In(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}
