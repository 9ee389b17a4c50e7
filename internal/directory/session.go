package directory

import "time"

// Session is a short-lived directory credential. It is never persisted.
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionStatus is the externally visible session state.
type SessionStatus struct {
	HasSession bool       `json:"has_session"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	IsExpired  bool       `json:"is_expired"`
}
