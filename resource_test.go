package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsp/store"
)

func TestRegistryRegister(t *testing.T) {
	registry := store.NewRegistry()
	for _, res := range testResources() {
		require.NoError(t, registry.Register(res))
	}

	// Internal resources are not routable but still resolvable.
	assert.Equal(t, []string{"role", "app", "user", "setting"}, registry.Names())
	assert.Len(t, registry.Resources(), 5)
	join, err := registry.Lookup("app_to_role")
	require.NoError(t, err)
	assert.Equal(t, "app_to_role", join.Table)

	_, err = registry.Lookup("missing")
	assert.True(t, store.IsRecordNotFoundError(err))

	err = registry.Register(&store.Resource{Name: "app", Columns: []string{"id"}})
	assert.True(t, store.IsConfigError(err))
}

func TestResourcePrepare(t *testing.T) {
	tests := []struct {
		name string
		res  *store.Resource
	}{
		{"no name", &store.Resource{Columns: []string{"id"}}},
		{"undeclared key", &store.Resource{Name: "a", Columns: []string{"name"}}},
		{"undeclared required", &store.Resource{Name: "a", Columns: []string{"id"}, Required: []string{"name"}}},
		{"bad order", &store.Resource{Name: "a", Columns: []string{"id"}, Order: "id sideways"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.NewRegistry().Register(tt.res)
			assert.True(t, store.IsConfigError(err), "got %v", err)
		})
	}
}

func TestRegistryValidate(t *testing.T) {
	registry := store.NewRegistry()
	require.NoError(t, registry.Register(&store.Resource{
		Name:    "post",
		Columns: []string{"id", "author_id"},
		Relations: []store.Relation{
			{Name: "author", Kind: store.BelongsTo, Target: "person", ForeignKey: "author_id"},
		},
	}))
	assert.True(t, store.IsConfigError(registry.Validate()))

	require.NoError(t, registry.Register(&store.Resource{Name: "person", Columns: []string{"id"}}))
	assert.NoError(t, registry.Validate())
}

func TestResourceSchema(t *testing.T) {
	res := &store.Resource{
		Name:     "user",
		Columns:  []string{"id", "email"},
		Required: []string{"email"},
		Relations: []store.Relation{
			{Name: "role", Kind: store.BelongsTo, Target: "role", ForeignKey: "role_id"},
		},
	}
	require.NoError(t, store.NewRegistry().Register(res))

	out, err := res.Schema().MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "user",
		"primary_key": "id",
		"field": [
			{"name": "id", "required": false, "primary_key": true},
			{"name": "email", "required": true}
		],
		"related": [{"name": "role", "type": "belongs_to", "ref_table": "role"}]
	}`, string(out))
}

func TestLoadResourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
resources:
  - name: contact
    table: contacts
    columns: [id, name, group_id]
    required: [name]
    order: name
    relations:
      - name: group
        kind: belongs_to
        target: contact_group
        foreign_key: group_id
  - name: contact_group
    columns: [id, name]
`), 0o600))

	registry := store.NewRegistry()
	require.NoError(t, store.LoadResourceFile(path, registry))

	res, err := registry.Lookup("contact")
	require.NoError(t, err)
	assert.Equal(t, "contacts", res.Table)
	assert.Equal(t, "id", res.PrimaryKey)
	rel, ok := res.Relation("group")
	require.True(t, ok)
	assert.Equal(t, store.BelongsTo, rel.Kind)

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, store.LoadResourceFile(filepath.Join(dir, "nope.yaml"), store.NewRegistry()))
	})
	t.Run("dangling relation", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte(`
resources:
  - name: contact
    columns: [id, group_id]
    relations:
      - {name: group, kind: belongs_to, target: nowhere, foreign_key: group_id}
`), 0o600))
		err := store.LoadResourceFile(bad, store.NewRegistry())
		assert.True(t, store.IsConfigError(err), "got %v", err)
	})
}
