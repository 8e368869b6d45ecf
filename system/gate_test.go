package system_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dsp/store"
	"dsp/store/system"
)

func TestRoleGate(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	gate := system.NewRoleGate(records, zaptest.NewLogger(t), system.CustomSetting)
	users := lookup(t, records, system.User)
	apps := lookup(t, records, system.App)
	settings := lookup(t, records, system.CustomSetting)

	viewer := insert(t, records, admin, system.Role, "name", "viewer", "services", []any{
		store.RecordOf("component", system.User, "verbs", []any{"GET"}),
	})
	operator := insert(t, records, admin, system.Role, "name", "operator", "services", []any{
		store.RecordOf("component", "*", "verb_mask", int64(15)),
	})
	retired := insert(t, records, admin, system.Role, "name", "retired", "is_active", false, "services", []any{
		store.RecordOf("component", "*", "verb_mask", int64(15)),
	})

	tests := []struct {
		name   string
		rc     *store.RequestContext
		res    *store.Resource
		action store.Action
		allow  bool
		authed bool
	}{
		{name: "sys admin", rc: admin, res: users, action: store.ActionDelete, allow: true},
		{name: "anonymous", rc: &store.RequestContext{}, res: users, action: store.ActionRead},
		{name: "no role", rc: &store.RequestContext{UserID: "7"}, res: users, action: store.ActionRead, authed: true},
		{name: "granted verb", rc: &store.RequestContext{UserID: "7", RoleID: idOf(viewer)}, res: users, action: store.ActionRead, allow: true},
		{name: "missing verb", rc: &store.RequestContext{UserID: "7", RoleID: idOf(viewer)}, res: users, action: store.ActionDelete, authed: true},
		{name: "other component", rc: &store.RequestContext{UserID: "7", RoleID: idOf(viewer)}, res: apps, action: store.ActionRead, authed: true},
		{name: "wildcard", rc: &store.RequestContext{UserID: "7", RoleID: idOf(operator)}, res: apps, action: store.ActionUpdate, allow: true},
		{name: "inactive role", rc: &store.RequestContext{UserID: "7", RoleID: idOf(retired)}, res: apps, action: store.ActionRead, authed: true},
		{name: "unknown role", rc: &store.RequestContext{UserID: "7", RoleID: "999"}, res: apps, action: store.ActionRead, authed: true},
		{name: "open resource", rc: &store.RequestContext{UserID: "7"}, res: settings, action: store.ActionCreate, allow: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.Check(ctx, tt.rc, tt.res, tt.action)
			if tt.allow {
				assert.NoError(t, err)
				return
			}
			var denied *store.PermissionDeniedError
			require.True(t, errors.As(err, &denied), "got %v", err)
			assert.Equal(t, tt.authed, denied.Authenticated)
		})
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	sessions := system.NewSessions(records, zaptest.NewLogger(t))
	users := lookup(t, records, system.User)

	role := insert(t, records, admin, system.Role, "name", "staff")
	jane := insert(t, records, admin, system.User, "email", "jane@example.com", "password", "s3cret", "role_id", idOf(role))
	insert(t, records, admin, system.User, "email", "root@example.com", "password", "toor", "is_sys_admin", "true", "is_active", false)

	_, err := sessions.Login(ctx, "jane@example.com", "wrong")
	assert.Equal(t, store.KindPermissionDenied, store.ErrorKindOf(err))
	_, err = sessions.Login(ctx, "nobody@example.com", "s3cret")
	assert.Equal(t, store.KindPermissionDenied, store.ErrorKindOf(err))

	rc, err := sessions.Login(ctx, " jane@example.com ", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, &store.RequestContext{UserID: idOf(jane), RoleID: idOf(role)}, rc)
	assert.NotNil(t, rawRow(t, records, users, idOf(jane)).Value("last_login_date"))

	_, err = sessions.Login(ctx, "root@example.com", "toor")
	assert.Equal(t, store.KindPermissionDenied, store.ErrorKindOf(err), "inactive users can not log in")

	rc, err = sessions.Resolve(ctx, idOf(jane))
	require.NoError(t, err)
	assert.Equal(t, idOf(role), rc.RoleID)

	_, err = sessions.Resolve(ctx, "404")
	assert.Equal(t, store.KindPermissionDenied, store.ErrorKindOf(err))

	_, err = sessions.ResolveEmail(ctx, "nobody@example.com")
	assert.Equal(t, store.KindNotFound, store.ErrorKindOf(err))
}
