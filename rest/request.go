package rest

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi"

	"dsp/store"
)

// flagKeys are the body keys read as request flags rather than record fields.
var flagKeys = map[string]struct{}{
	"ids": {}, "rollback": {}, "continue": {}, "fields": {}, "related": {},
	"filter": {}, "params": {}, "order": {}, "limit": {}, "offset": {},
	"include_count": {}, "include_schema": {},
}

// request is a parsed REST call.
type request struct {
	resource string
	id       string
	ids      []string
	records  []*store.Record
	// single is set for a path id or a bare record body.
	single bool

	rollback        bool
	continueOnError bool
	fields          string
	fieldsSet       bool
	related         []store.RelationSpec
	criteria        store.CriteriaInput
	includeCount    bool
	includeSchema   bool
}

// flags looks values up in the query string, then in the body envelope.
type flags struct {
	query url.Values
	body  *store.Record
}

func (f flags) get(key string) (any, bool) {
	if f.body != nil {
		if v, ok := f.body.Get(key); ok && v != nil {
			return v, true
		}
	}
	if vals, ok := f.query[key]; ok && len(vals) > 0 {
		return vals[0], true
	}
	return nil, false
}

func (f flags) text(key string) (string, bool) {
	v, ok := f.get(key)
	if !ok {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, store.FormatID(item))
		}
		return strings.Join(parts, ","), true
	}
	return store.FormatID(v), true
}

func (f flags) boolean(key string) (bool, error) {
	v, ok := f.get(key)
	if !ok {
		return false, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "", "0", "false", "no", "off":
			return false, nil
		case "1", "true", "yes", "on":
			return true, nil
		}
	}
	return false, store.NewBadRequestError("invalid value for %s", key)
}

func (f flags) integer(key string) (int, error) {
	s, ok := f.text(key)
	if !ok || strings.TrimSpace(s) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, store.NewBadRequestError("%s must be an integer", key)
	}
	return n, nil
}

// parseRequest reads the path, query string and JSON body of r.
func parseRequest(r *http.Request, maxBody int64) (*request, error) {
	req := &request{
		resource: chi.URLParam(r, "resource"),
		id:       chi.URLParam(r, "id"),
	}
	req.single = req.id != ""

	envelope, err := req.readBody(r, maxBody)
	if err != nil {
		return nil, err
	}
	f := flags{query: r.URL.Query(), body: envelope}

	if req.rollback, err = f.boolean("rollback"); err != nil {
		return nil, err
	}
	if req.continueOnError, err = f.boolean("continue"); err != nil {
		return nil, err
	}
	if req.includeCount, err = f.boolean("include_count"); err != nil {
		return nil, err
	}
	if req.includeSchema, err = f.boolean("include_schema"); err != nil {
		return nil, err
	}
	if ids, ok := f.text("ids"); ok {
		req.ids = splitList(ids)
	}
	req.fields, req.fieldsSet = f.text("fields")
	if related, ok := f.text("related"); ok {
		for _, name := range splitList(related) {
			spec := store.RelationSpec{Name: name}
			fields, _ := f.text(name + "_fields")
			spec.Fields = store.ParseFieldSpec(fields)
			spec.Order, _ = f.text(name + "_order")
			req.related = append(req.related, spec)
		}
	}

	req.criteria.Filter, _ = f.text("filter")
	req.criteria.Order, _ = f.text("order")
	if req.criteria.Limit, err = f.integer("limit"); err != nil {
		return nil, err
	}
	if req.criteria.Offset, err = f.integer("offset"); err != nil {
		return nil, err
	}
	if req.criteria.Params, err = f.params(); err != nil {
		return nil, err
	}
	return req, nil
}

// params reads filter parameters from a body object or a JSON query value.
func (f flags) params() (map[string]any, error) {
	v, ok := f.get("params")
	if !ok {
		return nil, nil
	}
	if text, isText := v.(string); isText {
		parsed, err := store.ParseJSON([]byte(text))
		if err != nil {
			return nil, store.NewBadRequestError("invalid params: %v", err)
		}
		v = parsed
	}
	rec, ok := v.(*store.Record)
	if !ok {
		return nil, store.NewBadRequestError("params must be an object")
	}
	return rec.Map(), nil
}

// readBody decodes the JSON body into records. It returns the envelope
// object when the body carries flags.
func (req *request) readBody(r *http.Request, maxBody int64) (*store.Record, error) {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil, nil
	}
	body := io.Reader(r.Body)
	if maxBody > 0 {
		body = io.LimitReader(r.Body, maxBody+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, store.NewBadRequestError("couldn't read request body: %v", err)
	}
	if maxBody > 0 && int64(len(data)) > maxBody {
		return nil, store.NewBadRequestError("request body exceeds %d bytes", maxBody)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	v, err := store.ParseJSON(data)
	if err != nil {
		return nil, store.NewBadRequestError("invalid JSON body: %v", err)
	}

	switch x := v.(type) {
	case []any:
		req.records, err = recordList(x)
		return nil, err
	case *store.Record:
		if x.Has("record") {
			switch recs := x.Value("record").(type) {
			case []any:
				req.records, err = recordList(recs)
			case *store.Record:
				req.records = []*store.Record{recs}
			default:
				err = store.NewBadRequestError("record must be an object or a list of objects")
			}
			return x, err
		}
		if isEnvelope(x) {
			return x, nil
		}
		req.records = []*store.Record{x}
		req.single = true
		return nil, nil
	}
	return nil, store.NewBadRequestError("request body must be a JSON object or array")
}

// isEnvelope reports whether every key of rec is a flag.
func isEnvelope(rec *store.Record) bool {
	if rec.Len() == 0 {
		return false
	}
	for _, f := range rec.Fields() {
		if _, ok := flagKeys[f]; !ok {
			return false
		}
	}
	return true
}

func recordList(items []any) ([]*store.Record, error) {
	out := make([]*store.Record, len(items))
	for i, item := range items {
		rec, ok := item.(*store.Record)
		if !ok {
			return nil, store.NewBadRequestError("record %d is not an object", i)
		}
		out[i] = rec
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
