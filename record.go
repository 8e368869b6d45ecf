package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/valyala/fastjson"
)

// Record is an ordered mapping of field name to value. Values are scalars,
// nested *Record values or []any slices of either.
type Record struct {
	fields []string
	values map[string]any
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// RecordOf builds a record from alternating field/value pairs.
func RecordOf(pairs ...any) *Record {
	if len(pairs)%2 != 0 {
		panic("store: RecordOf requires field/value pairs")
	}
	r := NewRecord()
	for i := 0; i < len(pairs); i += 2 {
		field, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("store: RecordOf field %v is not a string", pairs[i]))
		}
		r.Set(field, pairs[i+1])
	}
	return r
}

// RecordFromMap builds a record from a map, ordering fields by name.
func RecordFromMap(m map[string]any) *Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := NewRecord()
	for _, k := range keys {
		r.Set(k, m[k])
	}
	return r
}

// Get returns the value stored under field.
func (r *Record) Get(field string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[field]
	return v, ok
}

// Value returns the value stored under field or nil.
func (r *Record) Value(field string) any {
	v, _ := r.Get(field)
	return v
}

// Has reports whether field is present, even with a nil value.
func (r *Record) Has(field string) bool {
	_, ok := r.Get(field)
	return ok
}

// Set stores v under field. New fields are appended to the field order.
func (r *Record) Set(field string, v any) *Record {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[field]; !ok {
		r.fields = append(r.fields, field)
	}
	r.values[field] = v
	return r
}

// Delete removes field from the record.
func (r *Record) Delete(field string) {
	if r == nil {
		return
	}
	if _, ok := r.values[field]; !ok {
		return
	}
	delete(r.values, field)
	for i, f := range r.fields {
		if f == field {
			r.fields = append(r.fields[:i], r.fields[i+1:]...)
			break
		}
	}
}

// Fields returns the field names in order.
func (r *Record) Fields() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fields)
}

// Clone returns a deep copy of the record structure. Scalar values are shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		fields: make([]string, len(r.fields)),
		values: make(map[string]any, len(r.values)),
	}
	copy(out.fields, r.fields)
	for k, v := range r.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case *Record:
		return vv.Clone()
	case []any:
		out := make([]any, len(vv))
		for i := range vv {
			out[i] = cloneValue(vv[i])
		}
		return out
	default:
		return v
	}
}

// Map returns the record contents as a plain map.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, r.Len())
	if r == nil {
		return out
	}
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Equal reports whether two records hold the same fields in the same order
// with equal values.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if len(r.fields) != len(o.fields) {
		return false
	}
	for i, f := range r.fields {
		if o.fields[i] != f {
			return false
		}
		if !valuesEqual(r.values[f], o.values[f]) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case *Record:
		bv, ok := b.(*Record)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

// MarshalJSON writes the record as a JSON object preserving field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[f])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving field order.
func (r *Record) UnmarshalJSON(data []byte) error {
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	rec, ok := v.(*Record)
	if !ok {
		return fmt.Errorf("expected a JSON object, got %T", v)
	}
	*r = *rec
	return nil
}

// ParseJSON decodes a JSON document. Objects become *Record values, arrays
// become []any, integral numbers become int64.
func ParseJSON(data []byte) (any, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	return fromJSONValue(v)
}

func fromJSONValue(v *fastjson.Value) (any, error) {
	switch v.Type() {
	case fastjson.TypeNull:
		return nil, nil
	case fastjson.TypeTrue:
		return true, nil
	case fastjson.TypeFalse:
		return false, nil
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case fastjson.TypeString:
		b, err := v.StringBytes()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case fastjson.TypeArray:
		items, err := v.Array()
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			x, err := fromJSONValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	case fastjson.TypeObject:
		obj, err := v.Object()
		if err != nil {
			return nil, err
		}
		rec := NewRecord()
		var visitErr error
		obj.Visit(func(key []byte, item *fastjson.Value) {
			if visitErr != nil {
				return
			}
			x, err := fromJSONValue(item)
			if err != nil {
				visitErr = err
				return
			}
			rec.Set(string(key), x)
		})
		if visitErr != nil {
			return nil, visitErr
		}
		return rec, nil
	}
	return nil, fmt.Errorf("unsupported JSON type %s", v.Type())
}

// FormatID renders a primary key value as the string form used in paths,
// conditions and error messages.
func FormatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	case int:
		return strconv.Itoa(id)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int64:
		return strconv.FormatInt(id, 10)
	case uint64:
		return strconv.FormatUint(id, 10)
	case float64:
		if id == math.Trunc(id) && math.Abs(id) < 1e15 {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
