package store_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsp/store"
)

func TestRecordKeepsFieldOrder(t *testing.T) {
	rec := store.RecordOf("b", 1, "a", 2)
	rec.Set("c", 3).Set("b", 4)
	assert.Equal(t, []string{"b", "a", "c"}, rec.Fields())
	assert.Equal(t, 4, rec.Value("b"))

	rec.Delete("a")
	rec.Delete("missing")
	assert.Equal(t, []string{"b", "c"}, rec.Fields())

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"b":4,"c":3}`, string(data))

	var nilRec *store.Record
	assert.Nil(t, nilRec.Value("x"))
	assert.Zero(t, nilRec.Len())
}

func TestRecordJSONRoundTrip(t *testing.T) {
	var rec store.Record
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":{"y":true,"x":null},"list":[1.5,"s"]}`), &rec))
	assert.Equal(t, []string{"z", "a", "list"}, rec.Fields())
	assert.Equal(t, int64(1), rec.Value("z"))

	nested, ok := rec.Value("a").(*store.Record)
	require.True(t, ok)
	assert.Equal(t, []string{"y", "x"}, nested.Fields())
	assert.True(t, nested.Has("x"))
	assert.Equal(t, []any{1.5, "s"}, rec.Value("list"))

	clone := rec.Clone()
	clone.Value("a").(*store.Record).Set("y", false)
	assert.Equal(t, true, nested.Value("y"))

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &rec))
}

func TestFormatID(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"7", "7"},
		{[]byte("8"), "8"},
		{int64(9), "9"},
		{42, "42"},
		{float64(3), "3"},
		{1.5, "1.5"},
		{uint64(11), "11"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, store.FormatID(tt.in), fmt.Sprintf("%#v", tt.in))
	}
}

func TestErrorKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want store.ErrorKind
	}{
		{store.NewBadRequestError("bad"), store.KindBadRequest},
		{store.NewRecordNotFoundError("role", "1"), store.KindNotFound},
		{fmt.Errorf("wrapped: %w", store.ErrRecordNotFound), store.KindNotFound},
		{store.NewValidationErrorForField("name", "", "required"), store.KindValidation},
		{store.NewPermissionDeniedError("role", store.ActionRead, true), store.KindPermissionDenied},
		{&store.BatchError{Total: 2, Errors: map[int]error{1: errors.New("x")}}, store.KindBatch},
		{errors.New("disk on fire"), store.KindPersistence},
		{store.WrapQueryError(errors.New("syntax"), "query", "t", "SELECT", nil), store.KindPersistence},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, store.ErrorKindOf(tt.err), tt.err.Error())
	}
}

func TestPermissionDeniedMessages(t *testing.T) {
	assert.EqualError(t, store.NewPermissionDeniedError("role", store.ActionDelete, true),
		"delete access to role is not allowed")
	assert.EqualError(t, store.NewPermissionDeniedError("role", store.ActionRead, false),
		"there is no valid session for the current request")
}

func TestActionForMethod(t *testing.T) {
	for method, want := range map[string]store.Action{
		"GET":    store.ActionRead,
		"POST":   store.ActionCreate,
		"PUT":    store.ActionUpdate,
		"PATCH":  store.ActionUpdate,
		"MERGE":  store.ActionUpdate,
		"DELETE": store.ActionDelete,
	} {
		got, ok := store.ActionForMethod(method)
		assert.True(t, ok, method)
		assert.Equal(t, want, got, method)
	}
	_, ok := store.ActionForMethod("TRACE")
	assert.False(t, ok)
	assert.Equal(t, int64(8), store.ActionDelete.Mask())
}
