package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"dsp/store"
)

// SessionHeader carries a session token for clients that can not set
// Authorization.
const SessionHeader = "X-DreamFactory-Session-Token"

// SessionResolver turns a token subject into the caller's request context.
type SessionResolver interface {
	Resolve(ctx context.Context, userID string) (*store.RequestContext, error)
}

// Authenticator also checks credentials.
type Authenticator interface {
	SessionResolver
	Login(ctx context.Context, email, password string) (*store.RequestContext, error)
}

// Tokens issues and verifies HS256 session tokens whose subject is the user
// id.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokens creates a token issuer. The secret must not be empty.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, store.NewConfigErrorForField("auth.secret", "", "a token secret is required")
	}
	if ttl <= 0 {
		return nil, store.NewConfigErrorForField("auth.ttl", ttl, "token lifetime must be positive")
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, issuer: "dsp", now: time.Now}, nil
}

// Create signs a token for userID.
func (t *Tokens) Create(userID string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies token and returns its subject.
func (t *Tokens) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Method.Alg())
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", store.NewPermissionDeniedError("", "", false)
	}
	return claims.Subject, nil
}

type requestContextKey struct{}

// WithRequestContext returns a copy of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *store.RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the caller stored in ctx, or an anonymous one.
func RequestContextFrom(ctx context.Context) *store.RequestContext {
	if rc, ok := ctx.Value(requestContextKey{}).(*store.RequestContext); ok && rc != nil {
		return rc
	}
	return &store.RequestContext{RequestID: middleware.GetReqID(ctx)}
}

// sessionToken reads the bearer token or the session header.
func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if token := r.Header.Get(SessionHeader); token != "" {
		return token
	}
	return r.URL.Query().Get("session_token")
}

// Authenticate resolves the session token of each request. Requests without
// a token continue anonymously; invalid tokens are rejected with 401.
func Authenticate(tokens *Tokens, sessions SessionResolver, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := sessionToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := tokens.Parse(token)
			if err == nil {
				var rc *store.RequestContext
				if rc, err = sessions.Resolve(ctx, userID); err == nil {
					rc.RequestID = middleware.GetReqID(ctx)
					next.ServeHTTP(w, r.WithContext(WithRequestContext(ctx, rc)))
					return
				}
			}
			writeError(log, w, r, output{format: FormatJSON}, err)
		}
		return http.HandlerFunc(fn)
	}
}

// Trusted treats every request as a system administrator. It is used when
// authentication is disabled.
func Trusted(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rc := &store.RequestContext{SysAdmin: true, RequestID: middleware.GetReqID(ctx)}
		next.ServeHTTP(w, r.WithContext(WithRequestContext(ctx, rc)))
	}
	return http.HandlerFunc(fn)
}

// SessionHandler serves /rest/session.
type SessionHandler struct {
	log     *zap.Logger
	auth    Authenticator
	tokens  *Tokens
	maxBody int64
}

func NewSessionHandler(auth Authenticator, tokens *Tokens, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{log: log, auth: auth, tokens: tokens, maxBody: 1 << 20}
}

// handleLogin is the HTTP handler for POST /rest/session.
func (h *SessionHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	out := output{format: FormatJSON}
	body, err := readJSONObject(r, h.maxBody)
	if err != nil {
		writeError(h.log, w, r, out, err)
		return
	}
	email, _ := body.Value("email").(string)
	password, _ := body.Value("password").(string)
	if email == "" || password == "" {
		writeError(h.log, w, r, out, store.NewBadRequestError("email and password are required"))
		return
	}

	rc, err := h.auth.Login(r.Context(), email, password)
	if err != nil {
		writeError(h.log, w, r, out, err)
		return
	}
	token, exp, err := h.tokens.Create(rc.UserID)
	if err != nil {
		writeError(h.log, w, r, out, err)
		return
	}
	h.log.Info("Session created", zap.String("user_id", rc.UserID))
	writeResponse(h.log, w, out, http.StatusOK, sessionRecord(rc).
		Set("session_token", token).
		Set("session_id", token).
		Set("expires", exp.UTC().Format(time.RFC3339)))
}

// handleCurrent is the HTTP handler for GET /rest/session.
func (h *SessionHandler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	out := output{format: FormatJSON}
	rc := RequestContextFrom(r.Context())
	if !rc.Authenticated() {
		writeError(h.log, w, r, out, store.NewPermissionDeniedError("", "", false))
		return
	}
	writeResponse(h.log, w, out, http.StatusOK, sessionRecord(rc))
}

func sessionRecord(rc *store.RequestContext) *store.Record {
	return store.RecordOf("id", rc.UserID, "role_id", rc.RoleID, "is_sys_admin", rc.SysAdmin)
}

// readJSONObject reads a JSON object body.
func readJSONObject(r *http.Request, maxBody int64) (*store.Record, error) {
	req := &request{}
	if _, err := req.readBody(r, maxBody); err != nil {
		return nil, err
	}
	if !req.single || len(req.records) != 1 {
		return nil, store.NewBadRequestError("request body must be a JSON object")
	}
	return req.records[0], nil
}
