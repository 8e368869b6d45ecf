package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dsp/store"
)

func TestParseFieldSpec(t *testing.T) {
	tests := []struct {
		in     string
		all    bool
		empty  bool
		fields []string
	}{
		{in: "", empty: true},
		{in: "  ", empty: true},
		{in: "*", all: true},
		{in: "name,*", all: true},
		{in: "name, description ,", fields: []string{"name", "description"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			spec := store.ParseFieldSpec(tt.in)
			assert.Equal(t, tt.all, spec.IsAll())
			assert.Equal(t, tt.empty, spec.IsEmpty())
			if tt.fields != nil {
				assert.Equal(t, tt.fields, spec.Fields())
			}
		})
	}
	assert.Equal(t, "*", store.AllFields().String())
	assert.Equal(t, "a,b", store.FieldList("a", "b").String())
}

func TestProjectFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := store.NewProjector(f.store, zaptest.NewLogger(t))
	role := f.res(t, "role")
	rec := store.RecordOf("id", int64(3), "name", "ops", "description", "x")

	out, err := p.Project(ctx, admin, role, rec, store.ProjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, out.Fields())

	out, err = p.Project(ctx, admin, role, rec, store.ProjectOptions{Fields: store.FieldList("description", "missing")})
	require.NoError(t, err)
	assert.Equal(t, []string{"description"}, out.Fields())

	out, err = p.Project(ctx, admin, role, rec, store.ProjectOptions{Fields: store.AllFields()})
	require.NoError(t, err)
	assert.True(t, out.Equal(rec))
	out.Set("name", "changed")
	assert.Equal(t, "ops", rec.Value("name"), "projection copies the record")

	out, err = p.Project(ctx, admin, role, nil, store.ProjectOptions{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestProjectRelations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := store.NewProjector(f.store, zaptest.NewLogger(t))

	alpha := f.insert(t, admin, "app", "name", "alpha")
	beta := f.insert(t, admin, "app", "name", "beta")
	roleID := f.insert(t, admin, "role", "name", "ops", "apps", []any{alpha, beta})
	f.insert(t, admin, "user", "email", "a@example.com", "role_id", roleID)
	f.insert(t, admin, "user", "email", "b@example.com")

	role, err := f.store.Find(ctx, admin, f.res(t, "role"), roleID)
	require.NoError(t, err)

	out, err := p.Project(ctx, admin, f.res(t, "role"), role, store.ProjectOptions{
		Fields: store.FieldList("name"),
		Relations: []store.RelationSpec{
			{Name: "apps", Fields: store.FieldList("name"), Order: "name desc"},
			{Name: "users", Fields: store.FieldList("email")},
			{Name: "unknown"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "apps", "users"}, out.Fields())

	apps, ok := out.Value("apps").([]any)
	require.True(t, ok)
	require.Len(t, apps, 2)
	assert.Equal(t, "beta", apps[0].(*store.Record).Value("name"))
	assert.Equal(t, "alpha", apps[1].(*store.Record).Value("name"))

	users, ok := out.Value("users").([]any)
	require.True(t, ok)
	require.Len(t, users, 1)
	assert.Equal(t, "a@example.com", users[0].(*store.Record).Value("email"))

	user := f.res(t, "user")
	members, err := f.store.FindAll(ctx, admin, user, store.Criteria{Order: []store.Order{{Field: "email"}}})
	require.NoError(t, err)
	require.Len(t, members, 2)

	withRole, err := p.Project(ctx, admin, user, members[0], store.ProjectOptions{
		Relations: []store.RelationSpec{{Name: "role", Fields: store.FieldList("name")}},
	})
	require.NoError(t, err)
	embedded, ok := withRole.Value("role").(*store.Record)
	require.True(t, ok)
	assert.Equal(t, "ops", embedded.Value("name"))

	withoutRole, err := p.Project(ctx, admin, user, members[1], store.ProjectOptions{
		Relations: []store.RelationSpec{{Name: "role"}},
	})
	require.NoError(t, err)
	assert.True(t, withoutRole.Has("role"))
	assert.Nil(t, withoutRole.Value("role"))
}

func TestProjectEmptyManyMany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := store.NewProjector(f.store, zaptest.NewLogger(t))
	roleID := f.insert(t, admin, "role", "name", "ops")

	out, err := p.Project(ctx, admin, f.res(t, "role"), store.RecordOf("id", roleID), store.ProjectOptions{
		Relations: []store.RelationSpec{{Name: "apps"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{}, out.Value("apps"))
}

func TestProjectRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := store.NewProjector(f.store, zaptest.NewLogger(t))
	role := f.res(t, "role")
	id := f.insert(t, admin, "role", "name", "ops")

	out, err := p.Project(ctx, admin, role, store.RecordOf("id", id), store.ProjectOptions{
		Fields:  store.FieldList("name"),
		Refresh: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ops", out.Value("name"))

	_, err = p.Project(ctx, admin, role, store.RecordOf("id", "404"), store.ProjectOptions{
		Fields:  store.AllFields(),
		Refresh: true,
	})
	assert.Equal(t, store.KindNotFound, store.ErrorKindOf(err))

	fn := p.Func(admin, role, store.ProjectOptions{Fields: store.FieldList("name"), Refresh: true})
	out, err = fn(ctx, store.RecordOf("id", id))
	require.NoError(t, err)
	assert.Equal(t, "ops", out.Value("name"))
}

func TestProjectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := store.NewProjector(f.store, zaptest.NewLogger(t))
	app := f.insert(t, admin, "app", "name", "alpha")
	roleID := f.insert(t, admin, "role", "name", "ops", "description", "operators", "apps", []any{app})

	role, err := f.store.Find(ctx, admin, f.res(t, "role"), roleID)
	require.NoError(t, err)

	opts := store.ProjectOptions{
		Fields:    store.AllFields(),
		Relations: []store.RelationSpec{{Name: "apps", Fields: store.AllFields()}},
	}
	first, err := p.Project(ctx, admin, f.res(t, "role"), role, opts)
	require.NoError(t, err)
	second, err := p.Project(ctx, admin, f.res(t, "role"), role, opts)
	require.NoError(t, err)
	assert.True(t, first.Equal(second), "first %v, second %v", first.Map(), second.Map())
	assert.Equal(t, first.Fields(), second.Fields())
}

func TestProjectChecksRelationTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := store.NewProjector(f.store, zaptest.NewLogger(t))
	roleID := f.insert(t, admin, "role", "name", "ops")
	f.insert(t, admin, "user", "email", "a@example.com", "role_id", roleID)

	var checked []string
	gate := store.GateFunc(func(_ context.Context, rc *store.RequestContext, res *store.Resource, action store.Action) error {
		checked = append(checked, res.Name+":"+string(action))
		if res.Name == "user" {
			return store.NewPermissionDeniedError(res.Name, action, true)
		}
		return nil
	})

	role, err := f.store.Find(ctx, admin, f.res(t, "role"), roleID)
	require.NoError(t, err)
	_, err = p.Project(ctx, admin, f.res(t, "role"), role, store.ProjectOptions{
		Relations: []store.RelationSpec{{Name: "apps"}, {Name: "users"}},
		Gate:      gate,
	})
	assert.True(t, store.IsPermissionDeniedError(err))
	assert.Equal(t, []string{"app:read", "user:read"}, checked)
}
