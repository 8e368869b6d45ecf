package store_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsp/store"
)

func joinRow(id, parent, target string, attrs ...any) store.JoinRow {
	return store.JoinRow{ID: id, ParentID: parent, TargetID: target, Attrs: store.RecordOf(attrs...)}
}

func ids(rows []store.JoinRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID + ":" + r.TargetID
	}
	return out
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name     string
		existing []store.JoinRow
		desired  []store.JoinRow
		insert   []string
		update   []string
		remove   []string
	}{
		{
			name:    "insert into empty",
			desired: []store.JoinRow{joinRow("", "1", "7"), joinRow("", "1", "8")},
			insert:  []string{":7", ":8"},
		},
		{
			name:     "clear",
			existing: []store.JoinRow{joinRow("10", "1", "7"), joinRow("11", "1", "8")},
			remove:   []string{"10:7", "11:8"},
		},
		{
			name:     "unchanged",
			existing: []store.JoinRow{joinRow("10", "1", "7", "verb_mask", int64(1))},
			desired:  []store.JoinRow{joinRow("", "1", "7", "verb_mask", "1")},
		},
		{
			name:     "attribute change keeps id",
			existing: []store.JoinRow{joinRow("10", "1", "7", "verb_mask", int64(1))},
			desired:  []store.JoinRow{joinRow("", "1", "7", "verb_mask", int64(3))},
			update:   []string{"10:7"},
		},
		{
			name:     "swap target",
			existing: []store.JoinRow{joinRow("10", "1", "7"), joinRow("11", "1", "8")},
			desired:  []store.JoinRow{joinRow("", "1", "8"), joinRow("", "1", "9")},
			insert:   []string{":9"},
			remove:   []string{"10:7"},
		},
		{
			name:     "duplicate existing rows collapse",
			existing: []store.JoinRow{joinRow("10", "1", "7"), joinRow("11", "1", "7")},
			desired:  []store.JoinRow{joinRow("", "1", "7")},
			remove:   []string{"11:7"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := store.Reconcile(tt.existing, tt.desired)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.insert, ids(plan.ToInsert), cmpEmpty); diff != "" {
				t.Errorf("insert mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.update, ids(plan.ToUpdate), cmpEmpty); diff != "" {
				t.Errorf("update mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.remove, ids(plan.ToDelete), cmpEmpty); diff != "" {
				t.Errorf("delete mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, len(tt.insert)+len(tt.update)+len(tt.remove) == 0, plan.Empty())
		})
	}
}

// cmpEmpty treats nil and empty slices as equal.
var cmpEmpty = cmp.Transformer("empty", func(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
})

func TestReconcileDiscriminator(t *testing.T) {
	existing := []store.JoinRow{
		{ID: "1", ParentID: "r", TargetID: "s", Discriminator: "_table/*", Attrs: store.NewRecord()},
	}
	desired := []store.JoinRow{
		{ParentID: "r", TargetID: "s", Discriminator: "_table/*", Attrs: store.NewRecord()},
		{ParentID: "r", TargetID: "s", Discriminator: "_proc/*", Attrs: store.NewRecord()},
	}
	plan, err := store.Reconcile(existing, desired)
	require.NoError(t, err)
	require.Len(t, plan.ToInsert, 1)
	assert.Equal(t, "_proc/*", plan.ToInsert[0].Discriminator)
	assert.Empty(t, plan.ToDelete)
}

func TestReconcileRejectsDuplicateAssignments(t *testing.T) {
	_, err := store.Reconcile(nil, []store.JoinRow{joinRow("", "1", "7"), joinRow("", "1", "7")})
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
}

func TestJoinRowsFromValue(t *testing.T) {
	access := &store.Resource{
		Name:    "role_service_access",
		Columns: []string{"id", "role_id", "service_id", "component", "verb_mask"},
	}
	registry := store.NewRegistry()
	require.NoError(t, registry.Register(access))
	jt, err := store.JoinTableFor(registry, store.Relation{
		JoinResource:  "role_service_access",
		JoinParentKey: "role_id",
		JoinTargetKey: "service_id",
		Discriminator: "component",
	})
	require.NoError(t, err)

	rows, err := store.JoinRowsFromValue(jt, "4", []any{
		int64(2),
		store.RecordOf("service_id", "3", "component", "_table/*", "verb_mask", int64(5), "bogus", 1),
		store.RecordOf("id", "6"),
		store.RecordOf("component", "*", "verb_mask", int64(1)),
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, "2", rows[0].TargetID)
	assert.Equal(t, "4", rows[0].ParentID)
	assert.Equal(t, "3", rows[1].TargetID)
	assert.Equal(t, "_table/*", rows[1].Discriminator)
	assert.Equal(t, []string{"verb_mask"}, rows[1].Attrs.Fields())
	assert.Equal(t, "6", rows[2].TargetID)
	assert.Equal(t, "", rows[3].TargetID, "access rows may leave the service unset")

	rows, err = store.JoinRowsFromValue(jt, "4", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = store.JoinRowsFromValue(jt, "4", "2")
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))

	_, err = store.JoinRowsFromValue(jt, "4", []any{nil})
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))

	_, err = store.JoinRowsFromValue(jt, "4", []any{store.RecordOf("verb_mask", int64(1))})
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
}
