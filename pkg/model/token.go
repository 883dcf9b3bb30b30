package model

import "time"

// DefaultTokenTTL is the lifetime of a freshly issued session token.
// Clients can extend it with /refresh_token without re-entering credentials.
const DefaultTokenTTL = 7 * 24 * time.Hour

// Token is an opaque session token. A user holds at most one live token at a
// time; issuing a new one implicitly invalidates the old. Immutable after
// creation: refresh means issuing a replacement, never editing in place.
type Token struct {
	Value     string    `json:"-"`
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the token has crossed its expiry at time now.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// SecondsUntilExpiry returns the remaining lifetime in whole seconds,
// clamped at zero.
func (t *Token) SecondsUntilExpiry(now time.Time) int64 {
	secs := int64(t.ExpiresAt.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}
