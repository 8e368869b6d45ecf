package sqlstore

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsp/store"
)

func TestSQLCompilerSelect(t *testing.T) {
	c := NewSQLCompiler("df_sys_role", "postgres", sq.StatementBuilder.PlaceholderFormat(sq.Dollar))

	compiled, err := c.Select(store.Criteria{
		Select:     []string{"id", "name"},
		Filter:     "name = :name",
		Params:     map[string]any{"name": "admin"},
		Conditions: []store.Condition{store.In("id", 1, 2), {Field: "description", Op: store.OpContains, Value: "ops"}},
		Order:      []store.Order{{Field: "name", Desc: true}},
		Limit:      10,
		Offset:     5,
	})
	require.NoError(t, err)

	assert.Contains(t, compiled.SQL, "SELECT id, name FROM df_sys_role WHERE")
	assert.Contains(t, compiled.SQL, "(name = $1)")
	assert.Contains(t, compiled.SQL, "id IN ($2,$3)")
	assert.Contains(t, compiled.SQL, "LOWER(description) LIKE LOWER($4)")
	assert.Contains(t, compiled.SQL, "ORDER BY name DESC LIMIT 10 OFFSET 5")
	if diff := cmp.Diff([]any{"admin", 1, 2, "%ops%"}, compiled.Args); diff != "" {
		t.Errorf("unexpected args (-want +got):\n%s", diff)
	}
}

func TestSQLCompilerConditions(t *testing.T) {
	c := NewSQLCompiler("t", "sqlite", sq.StatementBuilder)

	tests := []struct {
		name string
		cond store.Condition
		sql  string
		args []any
	}{
		{"null", store.Condition{Field: "role_id", Op: store.OpIsNull}, "role_id IS NULL", nil},
		{"not null", store.Condition{Field: "role_id", Op: store.OpNotNull}, "role_id IS NOT NULL", nil},
		{"empty in", store.In("id"), "1=0", nil},
		{"empty not in", store.Condition{Field: "id", Op: store.OpNotIn, Value: []any{}}, "1=1", nil},
		{"between", store.Condition{Field: "id", Op: store.OpBetween, Value: [2]any{1, 5}}, "id BETWEEN ? AND ?", []any{1, 5}},
		{"suffix", store.Condition{Field: "email", Op: store.OpSuffix, Value: "@example.com"}, "email LIKE ?", []any{"%@example.com"}},
		{"ge", store.Condition{Field: "verb_mask", Op: store.OpGe, Value: 4}, "verb_mask >= ?", []any{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := c.condition(tt.cond)
			require.NoError(t, err)
			sql, args, err := s.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			if len(tt.args) == 0 {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
		})
	}

	_, err := c.condition(store.Condition{Field: "id", Op: "regex", Value: "x"})
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
}

func TestSQLCompilerOffsetWithoutLimit(t *testing.T) {
	c := NewSQLCompiler("t", "sqlite", sq.StatementBuilder)
	compiled, err := c.Select(store.Criteria{Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t LIMIT 9223372036854775807 OFFSET 3", compiled.SQL)
}

func TestSQLCompilerMutations(t *testing.T) {
	c := NewSQLCompiler("df_sys_app", "postgres", sq.StatementBuilder.PlaceholderFormat(sq.Dollar))

	ins, returning, err := c.Mutation(
		store.NewInsert(store.RecordOf("name", "a", "api_name", "b")).WithReturning("id"), true)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO df_sys_app (name,api_name) VALUES ($1,$2) RETURNING id", ins.SQL)
	assert.Equal(t, []string{"id"}, returning)

	_, returning, err = c.Mutation(store.NewInsert(store.RecordOf("name", "a")).WithReturning("id"), false)
	require.NoError(t, err)
	assert.Empty(t, returning)

	upd, _, err := c.Mutation(store.NewUpdate(store.RecordOf("name", "x"), store.Eq("id", 7)), true)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE df_sys_app SET name = $1 WHERE (id = $2)", upd.SQL)
	assert.Equal(t, []any{"x", 7}, upd.Args)

	_, _, err = c.Mutation(store.NewDelete(), true)
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))

	_, _, err = c.Mutation(store.NewUpdate(store.NewRecord()), true)
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
}

func TestSQLCompilerScope(t *testing.T) {
	c := NewSQLCompiler("df_sys_custom_setting", "sqlite", sq.StatementBuilder)

	compiled, err := c.Select(store.Criteria{
		Scope:  []store.RowFilter{{Expr: "user_id = :user_id", Params: map[string]any{"user_id": "2"}}},
		Filter: "name = :name AND user_id = :user_id",
		Params: map[string]any{"name": "theme", "user_id": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM df_sys_custom_setting WHERE ((user_id = ?) AND (name = ? AND user_id = ?))",
		compiled.SQL)
	// Client params bind only the client filter.
	assert.Equal(t, []any{"2", "theme", "1"}, compiled.Args)
}

func TestCheckFilter(t *testing.T) {
	tests := []struct {
		filter string
		ok     bool
	}{
		{"name = 'a' AND (id > 1 OR id < 0)", true},
		{"name = 'a)b' OR name = \"(\"", true},
		{"name LIKE '%--%'", true},
		{"1=1) OR (1=1", false},
		{"(id = 1", false},
		{"id = 1; DROP TABLE t", false},
		{"id = 1 -- tail", false},
		{"id = 1 /* tail", false},
		{"id = 1 # tail", false},
		{"name = 'open", false},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := checkFilter(tt.filter)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
		})
	}

	c := NewSQLCompiler("t", "sqlite", sq.StatementBuilder)
	_, err := c.Select(store.Criteria{
		Scope:  []store.RowFilter{{Expr: "user_id = :user_id", Params: map[string]any{"user_id": "2"}}},
		Filter: "1=1) OR (1=1",
	})
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
}
