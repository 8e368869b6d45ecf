package system_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dsp/store"
	kvstore "dsp/store/kv"
	kvadapter "dsp/store/kv/adapter"
	sqlstore "dsp/store/sql"
	sqladapter "dsp/store/sql/adapter"
	"dsp/store/system"
)

var admin = &store.RequestContext{UserID: "100", SysAdmin: true}

func newRecords(t *testing.T) *store.RecordStore {
	t.Helper()
	registry, err := system.NewRegistry()
	require.NoError(t, err)

	config := kvadapter.DefaultConfig()
	backend, err := kvstore.OpenWithName(context.Background(), "memory", &config, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return store.NewRecordStore(backend, registry, zaptest.NewLogger(t))
}

func lookup(t *testing.T, records *store.RecordStore, name string) *store.Resource {
	t.Helper()
	res, err := records.Registry().Lookup(name)
	require.NoError(t, err)
	return res
}

func insert(t *testing.T, records *store.RecordStore, rc *store.RequestContext, name string, pairs ...any) *store.Record {
	t.Helper()
	rec, err := records.Insert(context.Background(), rc, lookup(t, records, name), store.RecordOf(pairs...))
	require.NoError(t, err)
	return rec
}

func idOf(rec *store.Record) string {
	return store.FormatID(rec.Value("id"))
}

func TestNewRegistry(t *testing.T) {
	registry, err := system.NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{
		system.App, system.AppGroup, system.Role, system.Service, system.User, system.Event,
		system.CustomSetting,
	}, registry.Names())
	assert.Len(t, registry.Resources(), 11)

	join, err := registry.Lookup(system.AppToRole)
	require.NoError(t, err)
	assert.True(t, join.Internal)
	assert.Equal(t, "df_sys_app_to_role", join.Table)

	_, err = system.NewRegistry(&store.Resource{Name: system.App, Columns: []string{"id"}})
	assert.True(t, store.IsConfigError(err))
}

func TestResourcesMatchSchema(t *testing.T) {
	ctx := context.Background()
	config := sqladapter.DefaultConfig()
	config.Type = "sqlite"
	svc, err := sqlstore.OpenWithName(ctx, "sqlite", &config, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	_, err = sqlstore.NewMigrator(svc, zaptest.NewLogger(t)).Up(ctx)
	require.NoError(t, err)

	for _, res := range system.Resources() {
		_, err := svc.Query(ctx, res.Table, store.Criteria{Select: res.Columns, Limit: 1})
		assert.NoError(t, err, res.Name)
	}
}

func TestAppHooks(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	app := lookup(t, records, system.App)

	rec := insert(t, records, admin, system.App, "api_name", "my-app", "name", "My App", "is_active", "1")
	assert.Len(t, rec.Value("api_key"), 36)
	assert.Equal(t, true, rec.Value("is_active"))

	keyed := insert(t, records, admin, system.App, "api_name", "keyed", "name", "Keyed", "api_key", "fixed")
	assert.Equal(t, "fixed", keyed.Value("api_key"))

	_, err := records.Insert(ctx, admin, app, store.RecordOf("api_name", "9lives", "name", "x"))
	assert.Equal(t, store.KindValidation, store.ErrorKindOf(err))

	_, err = records.Update(ctx, admin, app, store.RecordOf("id", idOf(rec), "is_active", "sometimes"))
	assert.Equal(t, store.KindValidation, store.ErrorKindOf(err))

	updated, err := records.Update(ctx, admin, app, store.RecordOf("id", idOf(rec), "is_active", "off"))
	require.NoError(t, err)
	assert.Equal(t, false, updated.Value("is_active"))
	assert.Equal(t, rec.Value("api_key"), updated.Value("api_key"), "api keys are only generated on insert")
}

func TestServiceHooks(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	service := lookup(t, records, system.Service)

	rec := insert(t, records, admin, system.Service,
		"api_name", "db", "name", "Database", "type", "sql_db",
		"credentials", `{"dsn":"postgres://db","user":"dsp"}`,
		"parameters", store.RecordOf("timeout", int64(5)))
	creds, ok := rec.Value("credentials").(*store.Record)
	require.True(t, ok)
	assert.Equal(t, []string{"dsn", "user"}, creds.Fields())
	params, ok := rec.Value("parameters").(*store.Record)
	require.True(t, ok)
	assert.Equal(t, int64(5), params.Value("timeout"))

	_, err := records.Update(ctx, admin, service, store.RecordOf("id", idOf(rec), "credentials", "{broken"))
	assert.Equal(t, store.KindValidation, store.ErrorKindOf(err))

	sys := insert(t, records, admin, system.Service, "api_name", "system", "name", "System", "type", "system", "is_system", true)
	_, err = records.Update(ctx, admin, service, store.RecordOf("id", idOf(sys), "name", "Renamed"))
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
	_, err = records.Delete(ctx, admin, service, idOf(sys))
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))

	_, err = records.Delete(ctx, admin, service, idOf(rec))
	assert.NoError(t, err)
}

func TestUserHooks(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	user := lookup(t, records, system.User)

	rec := insert(t, records, admin, system.User,
		"email", "jane@example.com", "password", "s3cret", "confirm_code", "abc",
		"first_name", "Jane", "last_name", "Doe")
	assert.False(t, rec.Has("password"))
	assert.False(t, rec.Has("confirm_code"))
	assert.Equal(t, "Jane Doe", rec.Value("display_name"))

	raw := rawRow(t, records, user, idOf(rec))
	hash, _ := raw.Value("password").(string)
	assert.True(t, system.CheckPassword(hash, "s3cret"))
	assert.False(t, system.CheckPassword(hash, "guess"))

	_, err := records.Update(ctx, admin, user, store.RecordOf("id", idOf(rec), "password", "", "phone", "555"))
	require.NoError(t, err)
	assert.Equal(t, hash, rawRow(t, records, user, idOf(rec)).Value("password"))

	for _, bad := range []string{"not-an-email", "Jane <jane@example.com>"} {
		_, err = records.Insert(ctx, admin, user, store.RecordOf("email", bad))
		assert.Equal(t, store.KindValidation, store.ErrorKindOf(err), bad)
	}

	self := &store.RequestContext{UserID: idOf(rec), SysAdmin: true}
	_, err = records.Delete(ctx, self, user, idOf(rec))
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
	_, err = records.Delete(ctx, admin, user, idOf(rec))
	assert.NoError(t, err)
}

func rawRow(t *testing.T, records *store.RecordStore, res *store.Resource, id string) *store.Record {
	t.Helper()
	rows, err := records.Backend().Query(context.Background(), res.Table, store.Criteria{}.Where(store.Eq("id", id)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestRoleServiceAssignment(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	access := lookup(t, records, system.RoleServiceAccess)

	db := insert(t, records, admin, system.Service, "api_name", "db", "name", "Database", "type", "sql_db")
	files := insert(t, records, admin, system.Service, "api_name", "files", "name", "Files", "type", "local_file")
	role := insert(t, records, admin, system.Role, "name", "editors", "services", []any{
		store.RecordOf("service_id", idOf(db), "component", "_table/*", "verbs", []any{"GET", "post"}),
		idOf(files),
	})

	rows, err := records.Backend().Query(ctx, access.Table, store.Criteria{
		Order: []store.Order{{Field: "id"}},
	}.Where(store.Eq("role_id", idOf(role))))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "_table/*", rows[0].Value("component"))
	assert.Equal(t, int64(3), rows[0].Value("verb_mask"))
	assert.Equal(t, "*", rows[1].Value("component"))
	assert.Equal(t, int64(0), rows[1].Value("verb_mask"))

	_, err = records.Update(ctx, admin, lookup(t, records, system.Role), store.RecordOf("id", idOf(role), "services", []any{
		store.RecordOf("service_id", idOf(db), "component", "_table/*", "verbs", []any{"delete"}),
	}))
	require.NoError(t, err)
	rows, err = records.Backend().Query(ctx, access.Table, store.Criteria{}.Where(store.Eq("role_id", idOf(role))))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(8), rows[0].Value("verb_mask"))

	_, err = records.Insert(ctx, admin, lookup(t, records, system.Role), store.RecordOf("name", "bad", "services", []any{
		store.RecordOf("component", "user", "verbs", []any{"FETCH"}),
	}))
	assert.Equal(t, store.KindBadRequest, store.ErrorKindOf(err))
}

func TestCustomSettingOwnership(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	setting := lookup(t, records, system.CustomSetting)
	alice := &store.RequestContext{UserID: "1"}
	bob := &store.RequestContext{UserID: "2"}

	rec := insert(t, records, alice, system.CustomSetting, "name", "theme", "value", "dark", "user_id", "2")
	assert.Equal(t, "1", store.FormatID(rec.Value("user_id")))

	mine, err := records.FindAll(ctx, alice, setting, store.Criteria{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := records.FindAll(ctx, bob, setting, store.Criteria{})
	require.NoError(t, err)
	assert.Empty(t, theirs)

	updated, err := records.Update(ctx, alice, setting, store.RecordOf("id", idOf(rec), "user_id", "2", "value", "light"))
	require.NoError(t, err)
	assert.Equal(t, "1", store.FormatID(updated.Value("user_id")))
	assert.Equal(t, "light", updated.Value("value"))

	_, err = records.Update(ctx, bob, setting, store.RecordOf("id", idOf(rec), "value", "x"))
	assert.Equal(t, store.KindNotFound, store.ErrorKindOf(err))

	_, err = records.Insert(ctx, &store.RequestContext{}, setting, store.RecordOf("name", "anon"))
	assert.Equal(t, store.KindPermissionDenied, store.ErrorKindOf(err))
}
