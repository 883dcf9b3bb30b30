package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ltavares/chatline/pkg/crypto"
	"github.com/ltavares/chatline/pkg/datastore"
	"github.com/ltavares/chatline/pkg/model"
)

var (
	// ErrInvalidCredentials is returned for a wrong password, or for an
	// unknown username when registration is disabled.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserAlreadyActive is returned when /login names a user who is
	// currently authenticated on a live connection.
	ErrUserAlreadyActive = errors.New("user already active")
)

// Directory owns the user records: credentials, current token, last room, and
// the active-user set. One lock guards all of it; persistence to the store is
// performed synchronously under that lock so the durable copy can never lag
// behind what a concurrent validate observes.
//
// Lock order: Directory is independent, it never calls into Registry, Room,
// or SessionTable while holding its lock.
type Directory struct {
	mu      sync.RWMutex
	store   datastore.Store
	users   map[string]*model.User
	byToken map[string]string // token value -> username
	active  map[string]bool
}

// NewDirectory loads all user records from the store and rebuilds the
// token index, restoring session continuity across restarts.
func NewDirectory(store datastore.Store) (*Directory, error) {
	users, err := store.ListUsers()
	if err != nil {
		return nil, err
	}

	d := &Directory{
		store:   store,
		users:   make(map[string]*model.User, len(users)),
		byToken: make(map[string]string),
		active:  make(map[string]bool),
	}
	for i := range users {
		u := users[i]
		d.users[u.Username] = &u
		if u.CurrentToken != nil {
			d.byToken[u.CurrentToken.Value] = u.Username
		}
	}
	slog.Info("user directory loaded", "users", len(d.users))
	return d, nil
}

// Authenticate verifies credentials, registering the user on first sight when
// allowRegister is true. An active user cannot log in a second time; on
// success the caller's user is marked active within the same critical
// section, so two simultaneous logins for one username cannot both win. The
// caller must MarkInactive when the login's connection ends (or fails before
// a token is issued).
func (d *Directory) Authenticate(username, password string, allowRegister bool) error {
	if err := model.ValidateUsername(username); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active[username] {
		return ErrUserAlreadyActive
	}

	u, ok := d.users[username]
	if !ok {
		if !allowRegister {
			return ErrInvalidCredentials
		}
		salt, err := crypto.GenerateSalt()
		if err != nil {
			return fmt.Errorf("register %q: %w", username, err)
		}
		hash := crypto.HashPassword(password, salt)
		created, err := d.store.CreateUser(username, hash, salt)
		if err != nil {
			return fmt.Errorf("register %q: %w", username, err)
		}
		d.users[username] = created
		d.active[username] = true
		slog.Info("registered new user", "user", username)
		return nil
	}

	if !crypto.VerifyPassword(password, u.Salt, u.PasswordHash) {
		return ErrInvalidCredentials
	}
	d.active[username] = true
	return nil
}

// Get returns a copy of the user record.
func (d *Directory) Get(username string) (model.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	if !ok {
		return model.User{}, false
	}
	out := *u
	if u.CurrentToken != nil {
		tok := *u.CurrentToken
		out.CurrentToken = &tok
	}
	return out, true
}

// SetToken replaces the user's current token (nil clears it), maintaining the
// token index and persisting the change.
func (d *Directory) SetToken(username string, tok *model.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[username]
	if !ok {
		return fmt.Errorf("set token: unknown user %q", username)
	}
	if u.CurrentToken != nil {
		delete(d.byToken, u.CurrentToken.Value)
	}
	u.CurrentToken = tok
	if tok != nil {
		d.byToken[tok.Value] = username
	}
	if err := d.store.SaveToken(username, tok); err != nil {
		return err
	}
	return nil
}

// UserByToken resolves a token value to a copy of the owning user record.
// The caller still has to check token equality and expiry.
func (d *Directory) UserByToken(value string) (model.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	username, ok := d.byToken[value]
	if !ok {
		return model.User{}, false
	}
	u, ok := d.users[username]
	if !ok {
		return model.User{}, false
	}
	out := *u
	if u.CurrentToken != nil {
		tok := *u.CurrentToken
		out.CurrentToken = &tok
	}
	return out, true
}

// SetLastRoom records (or clears, with "") the user's last room and persists it.
func (d *Directory) SetLastRoom(username, room string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[username]
	if !ok {
		return fmt.Errorf("set last room: unknown user %q", username)
	}
	u.LastRoom = room
	return d.store.SaveLastRoom(username, room)
}

// LastRoom returns the user's recorded last room, or "".
func (d *Directory) LastRoom(username string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[username]; ok {
		return u.LastRoom
	}
	return ""
}

// IsActive reports whether the user is authenticated on a live connection.
func (d *Directory) IsActive(username string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active[username]
}

// MarkActive flags the user as having a live authenticated connection.
func (d *Directory) MarkActive(username string) {
	d.mu.Lock()
	d.active[username] = true
	d.mu.Unlock()
}

// MarkInactive clears the user's active flag.
func (d *Directory) MarkInactive(username string) {
	d.mu.Lock()
	delete(d.active, username)
	d.mu.Unlock()
}

// SweepExpired clears every token that has crossed its expiry, marking the
// owners inactive. Returns the number of tokens cleared. This is advisory
// cleanup: validation always re-checks expiry live.
func (d *Directory) SweepExpired(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	swept := 0
	for username, u := range d.users {
		if u.CurrentToken == nil || !u.CurrentToken.IsExpired(now) {
			continue
		}
		delete(d.byToken, u.CurrentToken.Value)
		u.CurrentToken = nil
		delete(d.active, username)
		if err := d.store.SaveToken(username, nil); err != nil {
			slog.Error("sweep: persist token clear failed", "user", username, "err", err)
		}
		slog.Debug("expired token removed", "user", username)
		swept++
	}
	return swept
}

// Export returns copies of all user records ordered by username.
func (d *Directory) Export() []model.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	// List from the store would also work, but the in-memory view is
	// authoritative during a run.
	out := make([]model.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
