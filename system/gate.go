package system

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"dsp/store"
)

// RoleGate authorizes requests from the caller's role. System administrators
// may do anything. Other callers need an active role with an access row
// whose component is the resource name or "*" and whose verb mask carries
// the action's bit. Resources listed as open are available to every
// authenticated caller; their row filters scope what each caller sees.
type RoleGate struct {
	records *store.RecordStore
	open    map[string]struct{}
	log     *zap.Logger
}

var _ store.Gate = (*RoleGate)(nil)

// NewRoleGate creates a gate reading roles and access rows from records.
func NewRoleGate(records *store.RecordStore, log *zap.Logger, open ...string) *RoleGate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &RoleGate{records: records, open: make(map[string]struct{}, len(open)), log: log}
	for _, name := range open {
		g.open[name] = struct{}{}
	}
	return g
}

// Check implements store.Gate.
func (g *RoleGate) Check(ctx context.Context, rc *store.RequestContext, res *store.Resource, action store.Action) error {
	if !rc.Authenticated() {
		return store.NewPermissionDeniedError(res.Name, action, false)
	}
	if rc.SysAdmin {
		return nil
	}
	if _, ok := g.open[res.Name]; ok {
		return nil
	}

	allowed, err := g.allowed(ctx, rc.RoleID, res.Name, action)
	if err != nil {
		return err
	}
	if !allowed {
		g.log.Debug("Access denied",
			zap.String("user", rc.UserID),
			zap.String("role", rc.RoleID),
			zap.String("resource", res.Name),
			zap.String("action", string(action)))
		return store.NewPermissionDeniedError(res.Name, action, true)
	}
	return nil
}

func (g *RoleGate) allowed(ctx context.Context, roleID, resource string, action store.Action) (bool, error) {
	if roleID == "" {
		return false, nil
	}
	registry := g.records.Registry()
	role, err := registry.Lookup(Role)
	if err != nil {
		return false, err
	}
	access, err := registry.Lookup(RoleServiceAccess)
	if err != nil {
		return false, err
	}
	backend := g.records.Backend()

	roles, err := backend.Query(ctx, role.Table, store.Criteria{Limit: 1}.Where(store.Eq(role.PrimaryKey, roleID)))
	if err != nil {
		return false, err
	}
	if len(roles) == 0 {
		return false, nil
	}
	if active, ok := toBool(roles[0].Value("is_active")); ok && !active {
		return false, nil
	}

	rows, err := backend.Query(ctx, access.Table, store.Criteria{}.Where(
		store.Eq("role_id", roleID),
		store.In("component", resource, "*"),
	))
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if maskOf(row.Value("verb_mask"))&action.Mask() != 0 {
			return true, nil
		}
	}
	return false, nil
}

func maskOf(v any) int64 {
	switch m := v.(type) {
	case int64:
		return m
	case int:
		return int64(m)
	case float64:
		return int64(m)
	case string:
		n, _ := strconv.ParseInt(m, 10, 64)
		return n
	}
	return 0
}
