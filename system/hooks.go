package system

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"dsp/store"
)

var apiNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]*$`)

func appPipeline() store.Pipeline {
	bools := []string{"is_active", "is_url_external", "requires_fullscreen"}
	return store.Pipeline{
		Validate:  []store.ChangeFunc{validateAPIName},
		Normalize: []store.ChangeFunc{normalizeBools(bools...), generateAPIKey},
		PostLoad:  []store.LoadFunc{loadBools(bools...)},
	}
}

func rolePipeline() store.Pipeline {
	return store.Pipeline{
		Normalize: []store.ChangeFunc{normalizeBools("is_active"), normalizeAccess("services", "service_id")},
		PostLoad:  []store.LoadFunc{loadBools("is_active")},
	}
}

func servicePipeline() store.Pipeline {
	bools := []string{"is_active", "is_system"}
	return store.Pipeline{
		Validate:     []store.ChangeFunc{refuseSystemServiceChange, validateAPIName},
		Normalize:    []store.ChangeFunc{normalizeBools(bools...), decodeJSON("credentials", "parameters"), normalizeAccess("roles", "role_id")},
		BeforeDelete: []store.DeleteFunc{refuseSystemServiceDelete},
		PostLoad:     []store.LoadFunc{loadBools(bools...), loadJSON("credentials", "parameters")},
	}
}

func userPipeline() store.Pipeline {
	bools := []string{"is_active", "is_sys_admin"}
	return store.Pipeline{
		Validate:     []store.ChangeFunc{validateEmail},
		Normalize:    []store.ChangeFunc{normalizeBools(bools...), hashPassword, defaultDisplayName},
		BeforeDelete: []store.DeleteFunc{refuseSelfDelete},
		PostLoad:     []store.LoadFunc{loadBools(bools...), stripFields("password", "confirm_code")},
	}
}

func eventPipeline() store.Pipeline {
	return store.Pipeline{
		Normalize: []store.ChangeFunc{decodeJSON("listeners")},
		PostLoad:  []store.LoadFunc{loadJSON("listeners")},
	}
}

func customSettingPipeline() store.Pipeline {
	return store.Pipeline{
		Normalize: []store.ChangeFunc{stampOwner},
	}
}

func validateAPIName(_ context.Context, c *store.Change) error {
	v, ok := c.Input.Get("api_name")
	if !ok {
		return nil
	}
	name, _ := v.(string)
	if !apiNamePattern.MatchString(name) {
		return store.NewValidationErrorForField("api_name", v,
			"must start with a letter and contain only letters, digits, underscores and dashes")
	}
	return nil
}

func generateAPIKey(_ context.Context, c *store.Change) error {
	if !c.IsNew() {
		return nil
	}
	if key, _ := c.Input.Value("api_key").(string); strings.TrimSpace(key) == "" {
		c.Input.Set("api_key", uuid.NewString())
	}
	return nil
}

// normalizeBools converts boolean input given as numbers or strings.
func normalizeBools(fields ...string) store.ChangeFunc {
	return func(_ context.Context, c *store.Change) error {
		for _, f := range fields {
			v, ok := c.Input.Get(f)
			if !ok || v == nil {
				continue
			}
			b, ok := toBool(v)
			if !ok {
				return store.NewValidationErrorForField(f, v, "must be a boolean")
			}
			c.Input.Set(f, b)
		}
		return nil
	}
}

// loadBools converts stored booleans; some dialects return them as integers.
func loadBools(fields ...string) store.LoadFunc {
	return func(rec *store.Record) {
		for _, f := range fields {
			if v, ok := rec.Get(f); ok && v != nil {
				if b, ok := toBool(v); ok {
					rec.Set(f, b)
				}
			}
		}
	}
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int64:
		return b != 0, true
	case int:
		return b != 0, true
	case float64:
		return b != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "yes", "on":
			return true, true
		case "no", "off", "":
			return false, true
		}
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}

// decodeJSON accepts structured fields either as JSON values or as JSON text.
func decodeJSON(fields ...string) store.ChangeFunc {
	return func(_ context.Context, c *store.Change) error {
		for _, f := range fields {
			text, ok := c.Input.Value(f).(string)
			if !ok {
				continue
			}
			if strings.TrimSpace(text) == "" {
				c.Input.Set(f, nil)
				continue
			}
			v, err := store.ParseJSON([]byte(text))
			if err != nil {
				return store.NewValidationErrorForField(f, text, fmt.Sprintf("invalid JSON: %v", err))
			}
			c.Input.Set(f, v)
		}
		return nil
	}
}

// loadJSON decodes structured fields stored as JSON text. Undecodable text
// is left as is.
func loadJSON(fields ...string) store.LoadFunc {
	return func(rec *store.Record) {
		for _, f := range fields {
			text, ok := rec.Value(f).(string)
			if !ok || text == "" {
				continue
			}
			if v, err := store.ParseJSON([]byte(text)); err == nil {
				rec.Set(f, v)
			}
		}
	}
}

func stripFields(fields ...string) store.LoadFunc {
	return func(rec *store.Record) {
		for _, f := range fields {
			rec.Delete(f)
		}
	}
}

// normalizeAccess fills in role access assignments: bare ids become rows on
// targetKey, the component defaults to "*" and verbs lists become masks.
func normalizeAccess(field, targetKey string) store.ChangeFunc {
	return func(_ context.Context, c *store.Change) error {
		items, ok := c.Input.Value(field).([]any)
		if !ok {
			return nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			row, ok := item.(*store.Record)
			if !ok {
				if item == nil {
					return store.NewBadRequestError("invalid %s entry", field)
				}
				row = store.RecordOf(targetKey, item)
			} else {
				row = row.Clone()
			}
			if comp, _ := row.Value("component").(string); comp == "" {
				row.Set("component", "*")
			}
			if verbs, ok := row.Get("verbs"); ok {
				mask, err := verbMask(verbs)
				if err != nil {
					return err
				}
				row.Delete("verbs")
				row.Set("verb_mask", mask)
			}
			if !row.Has("verb_mask") {
				row.Set("verb_mask", int64(0))
			}
			out[i] = row
		}
		c.Input.Set(field, out)
		return nil
	}
}

// verbMask converts a list of HTTP verbs or action names to a verb mask.
func verbMask(v any) (int64, error) {
	list, ok := v.([]any)
	if !ok {
		return 0, store.NewBadRequestError("verbs must be a list")
	}
	var mask int64
	for _, item := range list {
		name, _ := item.(string)
		action, ok := store.ActionForMethod(strings.ToUpper(name))
		if !ok {
			action = store.Action(strings.ToLower(name))
		}
		if action.Mask() == 0 {
			return 0, store.NewBadRequestError("unknown verb %q", name)
		}
		mask |= action.Mask()
	}
	return mask, nil
}

func isSystemService(rec *store.Record) bool {
	b, _ := toBool(rec.Value("is_system"))
	return b
}

func refuseSystemServiceChange(_ context.Context, c *store.Change) error {
	if !c.IsNew() && isSystemService(c.Existing) {
		return store.NewBadRequestError("system services can not be modified")
	}
	return nil
}

func refuseSystemServiceDelete(_ context.Context, _ *store.RecordStore, _ *store.RequestContext, rec *store.Record) error {
	if isSystemService(rec) {
		return store.NewBadRequestError("system services can not be deleted")
	}
	return nil
}

func validateEmail(_ context.Context, c *store.Change) error {
	v, ok := c.Input.Get("email")
	if !ok {
		return nil
	}
	email, _ := v.(string)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return store.NewValidationErrorForField("email", v, "is not a valid email address")
	}
	c.Input.Set("email", addr.Address)
	return nil
}

// hashPassword replaces a clear text password with its bcrypt hash. An empty
// password leaves the stored one unchanged.
func hashPassword(_ context.Context, c *store.Change) error {
	v, ok := c.Input.Get("password")
	if !ok {
		return nil
	}
	password, isString := v.(string)
	if v != nil && !isString {
		return store.NewValidationErrorForField("password", nil, "must be a string")
	}
	if password == "" {
		c.Input.Delete("password")
		return nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return store.NewValidationErrorForField("password", nil, err.Error())
	}
	c.Input.Set("password", hash)
	return nil
}

// HashPassword returns the bcrypt hash stored for password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches a stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func defaultDisplayName(_ context.Context, c *store.Change) error {
	if !c.IsNew() {
		return nil
	}
	if name, _ := c.Input.Value("display_name").(string); strings.TrimSpace(name) != "" {
		return nil
	}
	first, _ := c.Input.Value("first_name").(string)
	last, _ := c.Input.Value("last_name").(string)
	if name := strings.TrimSpace(first + " " + last); name != "" {
		c.Input.Set("display_name", name)
	}
	return nil
}

func refuseSelfDelete(_ context.Context, _ *store.RecordStore, rc *store.RequestContext, rec *store.Record) error {
	if rc.Authenticated() && store.FormatID(rec.Value("id")) == rc.UserID {
		return store.NewBadRequestError("the current user can not be deleted")
	}
	return nil
}

// stampOwner binds new settings to the session user. The owner of an
// existing setting never changes.
func stampOwner(_ context.Context, c *store.Change) error {
	if !c.IsNew() {
		c.Input.Delete("user_id")
		return nil
	}
	if !c.Request.Authenticated() {
		return store.NewPermissionDeniedError(CustomSetting, store.ActionCreate, false)
	}
	c.Input.Set("user_id", c.Request.UserID)
	return nil
}
