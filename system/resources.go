// Package system declares the system administration resources served under
// /rest/system: applications, app groups, roles, services, users, events and
// per-user custom settings, together with the join tables that link them.
package system

import (
	"dsp/store"
)

// Resource names.
const (
	App               = "app"
	AppGroup          = "app_group"
	Role              = "role"
	Service           = "service"
	User              = "user"
	Event             = "event"
	CustomSetting     = "custom_setting"
	AppToRole         = "app_to_role"
	AppToAppGroup     = "app_to_app_group"
	AppToService      = "app_to_service"
	RoleServiceAccess = "role_service_access"
)

// TablePrefix is prepended to every system table name.
const TablePrefix = "df_sys_"

var auditColumns = []string{
	store.CreatedDateColumn,
	store.LastModifiedDateColumn,
	store.CreatedByColumn,
	store.LastModifiedByColumn,
}

func columns(cols ...string) []string {
	return append(cols, auditColumns...)
}

func manyMany(name, target, join, parentKey, targetKey string) store.Relation {
	return store.Relation{
		Name:          name,
		Kind:          store.ManyMany,
		Target:        target,
		JoinResource:  join,
		JoinParentKey: parentKey,
		JoinTargetKey: targetKey,
	}
}

// Resources returns fresh definitions of the system resources.
func Resources() []*store.Resource {
	services := manyMany("services", Service, RoleServiceAccess, "role_id", "service_id")
	services.Discriminator = "component"
	serviceRoles := manyMany("roles", Role, RoleServiceAccess, "service_id", "role_id")
	serviceRoles.Discriminator = "component"

	return []*store.Resource{
		{
			Name:     App,
			Table:    TablePrefix + App,
			Columns:  columns("id", "api_name", "name", "description", "is_active", "url", "is_url_external", "requires_fullscreen", "api_key"),
			Required: []string{"api_name", "name"},
			Order:    "name",
			Relations: []store.Relation{
				manyMany("roles", Role, AppToRole, "app_id", "role_id"),
				manyMany("app_groups", AppGroup, AppToAppGroup, "app_id", "app_group_id"),
				manyMany("services", Service, AppToService, "app_id", "service_id"),
			},
			Pipeline: appPipeline(),
		},
		{
			Name:     AppGroup,
			Table:    TablePrefix + AppGroup,
			Columns:  []string{"id", "name", "description"},
			Required: []string{"name"},
			Order:    "name",
			Relations: []store.Relation{
				manyMany("apps", App, AppToAppGroup, "app_group_id", "app_id"),
			},
		},
		{
			Name:     Role,
			Table:    TablePrefix + Role,
			Columns:  columns("id", "name", "description", "is_active", "default_app_id"),
			Required: []string{"name"},
			Order:    "name",
			Relations: []store.Relation{
				manyMany("apps", App, AppToRole, "role_id", "app_id"),
				services,
				{Name: "role_service_accesses", Kind: store.HasMany, Target: RoleServiceAccess, ForeignKey: "role_id"},
				{Name: "users", Kind: store.HasMany, Target: User, ForeignKey: "role_id"},
				{Name: "default_app", Kind: store.BelongsTo, Target: App, ForeignKey: "default_app_id"},
			},
			Pipeline: rolePipeline(),
		},
		{
			Name:     Service,
			Table:    TablePrefix + Service,
			Columns:  columns("id", "api_name", "name", "type", "description", "is_active", "is_system", "storage_type", "base_url", "credentials", "parameters"),
			Required: []string{"api_name", "name", "type"},
			Order:    "api_name",
			Relations: []store.Relation{
				manyMany("apps", App, AppToService, "service_id", "app_id"),
				serviceRoles,
			},
			Pipeline: servicePipeline(),
		},
		{
			Name:  User,
			Table: TablePrefix + User,
			Columns: columns("id", "email", "password", "first_name", "last_name", "display_name", "phone",
				"is_active", "is_sys_admin", "role_id", "default_app_id", "confirm_code", "last_login_date"),
			Required: []string{"email"},
			Order:    "email",
			Relations: []store.Relation{
				{Name: "role", Kind: store.BelongsTo, Target: Role, ForeignKey: "role_id"},
				{Name: "default_app", Kind: store.BelongsTo, Target: App, ForeignKey: "default_app_id"},
			},
			Pipeline: userPipeline(),
		},
		{
			Name:     Event,
			Table:    TablePrefix + Event,
			Columns:  columns("id", "event_name", "listeners"),
			Required: []string{"event_name"},
			Order:    "event_name",
			Pipeline: eventPipeline(),
		},
		{
			Name:     CustomSetting,
			Table:    TablePrefix + CustomSetting,
			Columns:  []string{"id", "user_id", "name", "value"},
			Required: []string{"name"},
			Order:    "name",
			Filter:   "user_id = :" + store.UserIDParam,
			Pipeline: customSettingPipeline(),
		},
		{
			Name:     AppToRole,
			Table:    TablePrefix + AppToRole,
			Columns:  []string{"id", "app_id", "role_id"},
			Internal: true,
		},
		{
			Name:     AppToAppGroup,
			Table:    TablePrefix + AppToAppGroup,
			Columns:  []string{"id", "app_id", "app_group_id"},
			Internal: true,
		},
		{
			Name:     AppToService,
			Table:    TablePrefix + AppToService,
			Columns:  []string{"id", "app_id", "service_id"},
			Internal: true,
		},
		{
			Name:     RoleServiceAccess,
			Table:    TablePrefix + RoleServiceAccess,
			Columns:  []string{"id", "role_id", "service_id", "component", "verb_mask"},
			Internal: true,
		},
	}
}

// NewRegistry registers the system resources followed by extra and checks
// every relation.
func NewRegistry(extra ...*store.Resource) (*store.Registry, error) {
	registry := store.NewRegistry()
	for _, res := range append(Resources(), extra...) {
		if err := registry.Register(res); err != nil {
			return nil, err
		}
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}
