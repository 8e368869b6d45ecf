package system

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"dsp/store"
)

// Sessions resolves users into request contexts.
type Sessions struct {
	records *store.RecordStore
	log     *zap.Logger
	now     func() time.Time
}

// NewSessions creates a session resolver over the user table of records.
func NewSessions(records *store.RecordStore, log *zap.Logger) *Sessions {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sessions{records: records, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Login checks an email and password and records the login time.
func (s *Sessions) Login(ctx context.Context, email, password string) (*store.RequestContext, error) {
	user, err := s.user(ctx, store.Eq("email", strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	var hash string
	if user != nil {
		hash, _ = user.Value("password").(string)
	}
	if hash == "" || !CheckPassword(hash, password) {
		s.log.Debug("Login rejected", zap.String("email", email))
		return nil, store.NewPermissionDeniedError(User, store.ActionRead, false)
	}
	rc, err := s.context(user)
	if err != nil {
		return nil, err
	}

	res, err := s.records.Registry().Lookup(User)
	if err != nil {
		return nil, err
	}
	update := store.NewUpdate(store.RecordOf("last_login_date", s.now()), store.Eq(res.PrimaryKey, rc.UserID))
	if _, err := s.records.Backend().Mutate(ctx, res.Table, update); err != nil {
		return nil, err
	}
	return rc, nil
}

// Resolve returns the current request context of userID. It fails for
// unknown or inactive users, so revoked accounts lose their sessions.
func (s *Sessions) Resolve(ctx context.Context, userID string) (*store.RequestContext, error) {
	if userID == "" {
		return nil, store.NewPermissionDeniedError("", "", false)
	}
	res, err := s.records.Registry().Lookup(User)
	if err != nil {
		return nil, err
	}
	user, err := s.user(ctx, store.Eq(res.PrimaryKey, userID))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, store.NewPermissionDeniedError("", "", false)
	}
	return s.context(user)
}

// ResolveEmail returns the request context of the user with email.
func (s *Sessions) ResolveEmail(ctx context.Context, email string) (*store.RequestContext, error) {
	user, err := s.user(ctx, store.Eq("email", strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, store.NewRecordNotFoundError(User, email)
	}
	return s.context(user)
}

// user reads one raw user row, password included.
func (s *Sessions) user(ctx context.Context, cond store.Condition) (*store.Record, error) {
	res, err := s.records.Registry().Lookup(User)
	if err != nil {
		return nil, err
	}
	rows, err := s.records.Backend().Query(ctx, res.Table, store.Criteria{Limit: 1}.Where(cond))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Sessions) context(user *store.Record) (*store.RequestContext, error) {
	if active, ok := toBool(user.Value("is_active")); ok && !active {
		return nil, store.NewPermissionDeniedError("", "", false)
	}
	admin, _ := toBool(user.Value("is_sys_admin"))
	return &store.RequestContext{
		UserID:   store.FormatID(user.Value("id")),
		RoleID:   store.FormatID(user.Value("role_id")),
		SysAdmin: admin,
	}, nil
}
