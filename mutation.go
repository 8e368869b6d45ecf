package store

// Mutation is a marker interface for write operations.
type Mutation interface{ isMutation() }

// Insert represents an insert operation with column values.
type Insert struct {
	Values *Record
	Hints  map[string]any // e.g., {"returning": []string{"id"}}
}

func (Insert) isMutation() {}

func (m Insert) WithReturning(cols ...string) Insert {
	m.Hints = withReturning(m.Hints, cols)
	return m
}

// Update represents an update with SET values and a WHERE filter.
type Update struct {
	Set   *Record
	Where []Condition
	Hints map[string]any
}

func (Update) isMutation() {}

// Delete represents a delete with a WHERE filter.
type Delete struct {
	Where []Condition
	Hints map[string]any
}

func (Delete) isMutation() {}

// MutationResult reports the effect of a mutation.
type MutationResult struct {
	RowsAffected int64
	LastInsertID string
}

// Helper constructors

func NewInsert(values *Record) Insert { return Insert{Values: values} }

func NewUpdate(set *Record, where ...Condition) Update { return Update{Set: set, Where: where} }

func NewDelete(where ...Condition) Delete { return Delete{Where: where} }

// Returning extracts the returning hint of a mutation.
func Returning(hints map[string]any) ([]string, bool) {
	if len(hints) == 0 {
		return nil, false
	}
	if v, ok := hints["returning"]; ok {
		if cols, ok2 := v.([]string); ok2 && len(cols) > 0 {
			return cols, true
		}
	}
	return nil, false
}

func withReturning(hints map[string]any, cols []string) map[string]any {
	out := make(map[string]any, len(hints)+1)
	for k, v := range hints {
		out[k] = v
	}
	out["returning"] = cols
	return out
}
