package kvstore

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"dsp/store"
)

// compare orders two stored values the way a relational backend would.
// ok is false when either side is NULL.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	fa, aNum := number(a)
	fb, bNum := number(b)
	switch {
	case aNum && bNum:
		return compareFloat(fa, fb), true
	case aNum:
		if f, err := strconv.ParseFloat(toText(b), 64); err == nil {
			return compareFloat(fa, f), true
		}
	case bNum:
		if f, err := strconv.ParseFloat(toText(a), 64); err == nil {
			return compareFloat(f, fb), true
		}
	}
	return strings.Compare(toText(a), toText(b)), true
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toText(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return store.FormatID(v)
}

// foldText is the case-insensitive form used by prefix, suffix and contains.
func foldText(v any) string {
	return strings.ToLower(toText(v))
}

func equal(a, b any) bool {
	c, ok := compare(a, b)
	return ok && c == 0
}

// compileLike turns a SQL LIKE pattern into a case-insensitive regexp.
func compileLike(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?is)^`)
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(`.*`)
		case '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)
	return regexp.MustCompile(b.String())
}

func conditionPredicate(c store.Condition) predicate {
	if c.Op == store.OpLike {
		pattern, _ := c.Value.(string)
		like := compileLike(pattern)
		return func(r *store.Record) bool {
			v := r.Value(c.Field)
			return v != nil && like.MatchString(toText(v))
		}
	}
	return func(r *store.Record) bool { return matchCondition(r, c) }
}

func matchCondition(r *store.Record, c store.Condition) bool {
	v := r.Value(c.Field)
	switch c.Op {
	case store.OpEq:
		return equal(v, c.Value)
	case store.OpNe:
		cmp, ok := compare(v, c.Value)
		return ok && cmp != 0
	case store.OpGt:
		cmp, ok := compare(v, c.Value)
		return ok && cmp > 0
	case store.OpGe:
		cmp, ok := compare(v, c.Value)
		return ok && cmp >= 0
	case store.OpLt:
		cmp, ok := compare(v, c.Value)
		return ok && cmp < 0
	case store.OpLe:
		cmp, ok := compare(v, c.Value)
		return ok && cmp <= 0
	case store.OpIn, store.OpNotIn:
		values, _ := c.Value.([]any)
		found := false
		for _, x := range values {
			if equal(v, x) {
				found = true
				break
			}
		}
		if c.Op == store.OpIn {
			return found
		}
		return v != nil && !found
	case store.OpBetween:
		bounds, ok := c.Value.([2]any)
		if !ok {
			return false
		}
		lo, ok1 := compare(v, bounds[0])
		hi, ok2 := compare(v, bounds[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0
	case store.OpPrefix:
		return v != nil && strings.HasPrefix(foldText(v), foldText(c.Value))
	case store.OpSuffix:
		return v != nil && strings.HasSuffix(foldText(v), foldText(c.Value))
	case store.OpContains:
		return v != nil && strings.Contains(foldText(v), foldText(c.Value))
	case store.OpLike:
		return conditionPredicate(c)(r)
	case store.OpIsNull:
		return v == nil
	case store.OpNotNull:
		return v != nil
	}
	return false
}

// sortRecords orders rows by orders. NULLs sort first.
func sortRecords(rows []*store.Record, orders []store.Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orders {
			a, b := rows[i].Value(o.Field), rows[j].Value(o.Field)
			var cmp int
			switch {
			case a == nil && b == nil:
				cmp = 0
			case a == nil:
				cmp = -1
			case b == nil:
				cmp = 1
			default:
				cmp, _ = compare(a, b)
			}
			if cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
