package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dsp/store"
	kvstore "dsp/store/kv"
	"dsp/store/kv/adapter"
)

type fixture struct {
	store    *store.RecordStore
	registry *store.Registry
	backend  *kvstore.Service
}

func (f *fixture) res(t *testing.T, name string) *store.Resource {
	t.Helper()
	res, err := f.registry.Lookup(name)
	require.NoError(t, err)
	return res
}

func (f *fixture) insert(t *testing.T, rc *store.RequestContext, resource string, pairs ...any) string {
	t.Helper()
	res := f.res(t, resource)
	rec, err := f.store.Insert(context.Background(), rc, res, store.RecordOf(pairs...))
	require.NoError(t, err)
	return store.FormatID(rec.Value(res.PrimaryKey))
}

func (f *fixture) count(t *testing.T, resource string) int64 {
	t.Helper()
	n, err := f.backend.Count(context.Background(), f.res(t, resource).Table, store.Criteria{})
	require.NoError(t, err)
	return n
}

func testResources() []*store.Resource {
	return []*store.Resource{
		{
			Name:     "role",
			Columns:  []string{"id", "name", "description", "is_active", "created_date", "last_modified_date", "created_by_id", "last_modified_by_id"},
			Required: []string{"name"},
			Order:    "name",
			Relations: []store.Relation{
				{Name: "apps", Kind: store.ManyMany, Target: "app", JoinResource: "app_to_role", JoinParentKey: "role_id", JoinTargetKey: "app_id"},
				{Name: "users", Kind: store.HasMany, Target: "user", ForeignKey: "role_id"},
			},
		},
		{
			Name:     "app",
			Columns:  []string{"id", "name"},
			Required: []string{"name"},
			Relations: []store.Relation{
				{Name: "roles", Kind: store.ManyMany, Target: "role", JoinResource: "app_to_role", JoinParentKey: "app_id", JoinTargetKey: "role_id"},
			},
		},
		{
			Name:    "user",
			Columns: []string{"id", "email", "role_id"},
			Relations: []store.Relation{
				{Name: "role", Kind: store.BelongsTo, Target: "role", ForeignKey: "role_id"},
			},
		},
		{
			Name:    "setting",
			Columns: []string{"id", "user_id", "name", "value"},
			Filter:  "user_id = :user_id",
		},
		{
			Name:     "app_to_role",
			Columns:  []string{"id", "app_id", "role_id"},
			Internal: true,
		},
	}
}

func newFixture(t *testing.T, resources ...*store.Resource) *fixture {
	t.Helper()
	registry := store.NewRegistry()
	if len(resources) == 0 {
		resources = testResources()
	}
	for _, res := range resources {
		require.NoError(t, registry.Register(res))
	}
	require.NoError(t, registry.Validate())

	config := adapter.DefaultConfig()
	backend, err := kvstore.OpenWithName(context.Background(), "memory", &config, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	return &fixture{
		store:    store.NewRecordStore(backend, registry, zaptest.NewLogger(t)),
		registry: registry,
		backend:  backend,
	}
}

var admin = &store.RequestContext{UserID: "5", SysAdmin: true}
