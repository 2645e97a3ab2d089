// Package session holds the authenticated principal context for a calling
// application and its durable store.
package session

import (
	"encoding/json"
	"time"
)

// Lifetime is how long a session stays valid after authentication.
const Lifetime = 24 * time.Hour

// Session identifies a calling application instance and its current user
// binding. Apps keep their specifics in the App payload; this core passes it
// through unmodified.
type Session struct {
	ID              string          `json:"id"`
	AppID           string          `json:"appId"`
	Provider        string          `json:"provider"`
	SIAToken        string          `json:"siaToken"`
	UserToken       string          `json:"userToken"`
	CreatedAt       int64           `json:"createdAt"`
	AuthenticatedAt int64           `json:"authenticatedAt"`
	App             json.RawMessage `json:"app,omitempty"`
}

// IsValid reports whether the session can still be trusted: it must carry an
// id and a provider, and its authentication must be younger than Lifetime.
// A freshly created session (AuthenticatedAt zero) is never valid.
func IsValid(s Session, now time.Time) bool {
	if s.ID == "" || s.Provider == "" {
		return false
	}
	return now.UnixMilli()-s.AuthenticatedAt < Lifetime.Milliseconds()
}
