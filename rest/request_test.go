package rest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsp/store"
)

func TestParseRequestBody(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		body     string
		records  int
		single   bool
		ids      []string
		rollback bool
		wantErr  bool
	}{
		{name: "array", target: "/", body: `[{"name":"a"},{"name":"b"}]`, records: 2},
		{name: "bare object", target: "/", body: `{"name":"a"}`, records: 1, single: true},
		{name: "envelope list", target: "/", body: `{"record":[{"name":"a"}],"rollback":true}`, records: 1, rollback: true},
		{name: "envelope object", target: "/", body: `{"record":{"name":"a"}}`, records: 1},
		{name: "flags only", target: "/", body: `{"ids":[1,2]}`, ids: []string{"1", "2"}},
		{name: "query flags", target: "/?ids=3,%204&rollback=yes", body: `[{"name":"a"}]`, records: 1, ids: []string{"3", "4"}, rollback: true},
		{name: "body flags win", target: "/?rollback=true", body: `{"record":[],"rollback":false}`},
		{name: "scalar body", target: "/", body: `42`, wantErr: true},
		{name: "bad json", target: "/", body: `{"name":`, wantErr: true},
		{name: "non object item", target: "/", body: `[1]`, wantErr: true},
		{name: "bad flag", target: "/?rollback=maybe", body: `[]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			req, err := parseRequest(r, 0)
			if tt.wantErr {
				assert.True(t, store.IsBadRequestError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, req.records, tt.records)
			assert.Equal(t, tt.single, req.single)
			assert.Equal(t, tt.ids, req.ids)
			assert.Equal(t, tt.rollback, req.rollback)
		})
	}
}

func TestParseRequestQuery(t *testing.T) {
	target := "/?fields=name&related=apps,roles&apps_fields=*&apps_order=name%20desc" +
		"&filter=name%20=%20:n&params=%7B%22n%22:%22x%22%7D&order=id&limit=5&offset=10&include_count=1"
	req, err := parseRequest(httptest.NewRequest(http.MethodGet, target, nil), 0)
	require.NoError(t, err)

	assert.True(t, req.fieldsSet)
	assert.Equal(t, "name", req.fields)
	require.Len(t, req.related, 2)
	assert.Equal(t, "apps", req.related[0].Name)
	assert.True(t, req.related[0].Fields.IsAll())
	assert.Equal(t, "name desc", req.related[0].Order)
	assert.True(t, req.related[1].Fields.IsEmpty())
	assert.Equal(t, store.CriteriaInput{
		Filter: "name = :n",
		Params: map[string]any{"n": "x"},
		Order:  "id",
		Limit:  5,
		Offset: 10,
	}, req.criteria)
	assert.True(t, req.includeCount)
	assert.False(t, req.includeSchema)
}

func TestParseRequestBodyLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"much too long"}`))
	_, err := parseRequest(r, 8)
	assert.True(t, store.IsBadRequestError(err))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.NewBadRequestError("x"), http.StatusBadRequest},
		{store.NewValidationError("x"), http.StatusBadRequest},
		{store.NewRecordNotFoundError("app", "1"), http.StatusNotFound},
		{store.NewPermissionDeniedError("app", store.ActionRead, false), http.StatusUnauthorized},
		{store.NewPermissionDeniedError("app", store.ActionRead, true), http.StatusForbidden},
		{&store.BatchError{Total: 2}, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}

func TestErrorBody(t *testing.T) {
	body := errorBody(errors.New("dial tcp: refused"), http.StatusInternalServerError)
	entry := body.Value("error").([]any)[0].(*store.Record)
	assert.Equal(t, "an internal error has occurred", entry.Value("message"))
	assert.Equal(t, int64(500), entry.Value("code"))
	assert.False(t, entry.Has("context"))

	batchErr := &store.BatchError{
		Total:   3,
		Records: map[int]*store.Record{0: store.RecordOf("id", int64(1))},
		Errors: map[int]error{
			1: store.WrapQueryError(errors.New("pq: relation df_sys_role does not exist"), "insert", "df_sys_role", "INSERT ...", nil),
			2: store.NewValidationError("name is required"),
		},
	}
	body = errorBody(batchErr, http.StatusBadRequest)
	entry = body.Value("error").([]any)[0].(*store.Record)
	assert.Equal(t, "batch failed for 2 of 3 records", entry.Value("message"))
	assert.NotContains(t, entry.Value("message"), "pq:")
	ctx := entry.Value("context").(*store.Record)
	msgs := ctx.Value("errors").(*store.Record)
	assert.Equal(t, "an internal error has occurred", msgs.Value("1"))
	assert.Equal(t, "validation error: name is required", msgs.Value("2"))
	assert.Equal(t, int64(1), ctx.Value("record").(*store.Record).Value("0").(*store.Record).Value("id"))
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		target  string
		accept  string
		want    string
		wantErr bool
	}{
		{target: "/", want: FormatJSON},
		{target: "/", accept: "text/xml", want: FormatXML},
		{target: "/", accept: "text/csv;q=0.9, application/xml;q=0.5", want: FormatCSV},
		{target: "/?format=XML", accept: "text/csv", want: FormatXML},
		{target: "/?callback=app.handle", want: FormatJSON},
		{target: "/?callback=alert(1)", wantErr: true},
		{target: "/?callback=cb&format=xml", wantErr: true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if tt.accept != "" {
			r.Header.Set("Accept", tt.accept)
		}
		out, err := negotiate(r)
		if tt.wantErr {
			assert.Error(t, err, tt.target)
			continue
		}
		require.NoError(t, err, tt.target)
		assert.Equal(t, tt.want, out.format, tt.target)
	}
}
