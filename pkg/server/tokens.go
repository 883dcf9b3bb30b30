package server

import (
	"log/slog"
	"time"

	"github.com/ltavares/chatline/pkg/crypto"
	"github.com/ltavares/chatline/pkg/model"
)

// TokenAuthority owns the session token lifecycle: issuance, validation,
// refresh, invalidation, and the background expiry sweep. Token state itself
// lives in the Directory; the authority is the policy layer on top.
type TokenAuthority struct {
	dir *Directory
	ttl time.Duration
	now func() time.Time

	// onSweep, when set, receives the count of tokens each sweep expired.
	onSweep func(n int)
}

// NewTokenAuthority creates a token authority with the given TTL.
func NewTokenAuthority(dir *Directory, ttl time.Duration) *TokenAuthority {
	if ttl <= 0 {
		ttl = model.DefaultTokenTTL
	}
	return &TokenAuthority{
		dir: dir,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a token with a fresh TTL and stores it as the user's current
// token, implicitly invalidating any prior one. The change is persisted
// before the token is returned.
func (a *TokenAuthority) Issue(username string) (*model.Token, error) {
	now := a.now()
	tok := &model.Token{
		Value:     crypto.NewTokenString(),
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	if err := a.dir.SetToken(username, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Validate returns the owning username iff the token exists, is the owner's
// current token, and has not expired. An unknown or expired token is an
// expected outcome, not an error.
func (a *TokenAuthority) Validate(value string) (string, bool) {
	u, ok := a.dir.UserByToken(value)
	if !ok || u.CurrentToken == nil {
		return "", false
	}
	if u.CurrentToken.Value != value || u.CurrentToken.IsExpired(a.now()) {
		return "", false
	}
	return u.Username, true
}

// Refresh re-issues the user's token without requiring re-authentication.
func (a *TokenAuthority) Refresh(username string) (*model.Token, error) {
	return a.Issue(username)
}

// Invalidate clears the user's current token (explicit logout).
func (a *TokenAuthority) Invalidate(username string) error {
	return a.dir.SetToken(username, nil)
}

// StartSweep runs the expiry sweep every interval until done is closed.
func (a *TokenAuthority) StartSweep(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if n := a.dir.SweepExpired(a.now()); n > 0 {
					if a.onSweep != nil {
						a.onSweep(n)
					}
					slog.Info("token sweep", "expired", n)
				}
			}
		}
	}()
}
