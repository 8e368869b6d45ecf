package store

import (
	"context"
	"net/http"
)

// RequestContext describes the caller of one request. It is built by the
// transport layer and passed explicitly down the call chain.
type RequestContext struct {
	UserID    string
	RoleID    string
	SysAdmin  bool
	RequestID string
}

// Authenticated reports whether the request carries a user session.
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.UserID != ""
}

// User returns the session user id, or "" without a session.
func (rc *RequestContext) User() string {
	if rc == nil {
		return ""
	}
	return rc.UserID
}

// Action is the kind of access an operation requires.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Mask returns the verb bit used by role access rows.
func (a Action) Mask() int64 {
	switch a {
	case ActionRead:
		return 1
	case ActionCreate:
		return 2
	case ActionUpdate:
		return 4
	case ActionDelete:
		return 8
	}
	return 0
}

// ActionForMethod maps an HTTP verb to an action. PATCH and MERGE are
// updates.
func ActionForMethod(method string) (Action, bool) {
	switch method {
	case http.MethodGet, http.MethodHead:
		return ActionRead, true
	case http.MethodPost:
		return ActionCreate, true
	case http.MethodPut, http.MethodPatch, "MERGE":
		return ActionUpdate, true
	case http.MethodDelete:
		return ActionDelete, true
	}
	return "", false
}

// Gate authorizes an action on a resource before it runs.
type Gate interface {
	Check(ctx context.Context, rc *RequestContext, res *Resource, action Action) error
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, rc *RequestContext, res *Resource, action Action) error

// Check calls f.
func (f GateFunc) Check(ctx context.Context, rc *RequestContext, res *Resource, action Action) error {
	return f(ctx, rc, res, action)
}

// AllowAll grants every action.
var AllowAll Gate = GateFunc(func(context.Context, *RequestContext, *Resource, Action) error {
	return nil
})

// RequireSession grants every action to authenticated callers.
var RequireSession Gate = GateFunc(func(_ context.Context, rc *RequestContext, res *Resource, action Action) error {
	if !rc.Authenticated() {
		return NewPermissionDeniedError(res.Name, action, false)
	}
	return nil
})
