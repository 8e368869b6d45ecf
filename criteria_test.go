package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsp/store"
)

func TestParseOrder(t *testing.T) {
	orders, err := store.ParseOrder(" name desc, id ,created_date ASC")
	require.NoError(t, err)
	assert.Equal(t, []store.Order{
		{Field: "name", Desc: true},
		{Field: "id"},
		{Field: "created_date"},
	}, orders)

	orders, err = store.ParseOrder("")
	require.NoError(t, err)
	assert.Nil(t, orders)

	for _, bad := range []string{"name sideways", "name desc extra", "1name", "name; drop table x"} {
		_, err := store.ParseOrder(bad)
		assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err), bad)
	}
}

func TestInjectUserID(t *testing.T) {
	rc := &store.RequestContext{UserID: "9"}

	params := store.InjectUserID(rc, "user_id = :user_id", nil)
	assert.Equal(t, map[string]any{"user_id": "9"}, params)

	params = store.InjectUserID(rc, "user_id = :user_id", map[string]any{"user_id": "3"})
	assert.Equal(t, "3", params["user_id"], "explicit parameters win")

	params = store.InjectUserID(rc, "owner = :user_idx", map[string]any{"a": 1})
	assert.Equal(t, map[string]any{"a": 1}, params)

	in := map[string]any{"a": 1}
	store.InjectUserID(rc, ":user_id", in)
	assert.NotContains(t, in, "user_id", "input parameters are not modified")

	params = store.InjectUserID(nil, "user_id = :user_id", nil)
	assert.Equal(t, "", params["user_id"])
}

func TestCriteriaBuilder(t *testing.T) {
	b := store.NewCriteriaBuilder(store.PaginationConfig{DefaultLimit: 10, MaxLimit: 50})
	rc := &store.RequestContext{UserID: "2"}

	c, err := b.Build(rc, store.CriteriaInput{
		Filter: "  user_id = :user_id ",
		Order:  "name desc",
		Offset: 5,
		Select: "name, value",
	})
	require.NoError(t, err)
	assert.Equal(t, "user_id = :user_id", c.Filter)
	assert.Equal(t, "2", c.Params["user_id"])
	assert.Equal(t, []store.Order{{Field: "name", Desc: true}}, c.Order)
	assert.Equal(t, 10, c.Limit)
	assert.Equal(t, 5, c.Offset)
	assert.Equal(t, []string{"name", "value"}, c.Select)

	c, err = b.Build(rc, store.CriteriaInput{Limit: 500, Select: "*"})
	require.NoError(t, err)
	assert.Equal(t, 50, c.Limit)
	assert.Nil(t, c.Select)

	_, err = b.Build(rc, store.CriteriaInput{Limit: -1})
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
	_, err = b.Build(rc, store.CriteriaInput{Select: "name, x-y"})
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
	_, err = b.Build(rc, store.CriteriaInput{Order: "name up"})
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
}

func TestPaginatorWindow(t *testing.T) {
	p := store.NewPaginatorWithConfig(store.DefaultPaginationConfig())
	limit, offset, err := p.Window(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, limit)
	assert.Zero(t, offset)

	unbounded := store.NewPaginatorWithConfig(store.PaginationConfig{})
	limit, _, err = unbounded.Window(0, 3)
	require.NoError(t, err)
	assert.Zero(t, limit)

	_, _, err = p.Window(0, -1)
	assert.Error(t, err)
}

func TestNextOffset(t *testing.T) {
	next, ok := store.NextOffset(0, 10, 10, 25)
	assert.True(t, ok)
	assert.Equal(t, 10, next)

	_, ok = store.NextOffset(20, 10, 5, 25)
	assert.False(t, ok)

	_, ok = store.NextOffset(10, 10, 10, 20)
	assert.False(t, ok)

	_, ok = store.NextOffset(0, 0, 10, -1)
	assert.False(t, ok)
}
