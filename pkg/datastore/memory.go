package datastore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ltavares/chatline/pkg/model"
)

// Memory is an in-memory Store for tests. It mirrors the SQLite
// implementation's validation and error behavior.
type Memory struct {
	mu    sync.RWMutex
	now   func() time.Time
	users map[string]*model.User
}

// NewMemory creates a Memory store using time.Now().UTC().
func NewMemory() *Memory {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a Memory store with a custom clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Memory{
		now:   now,
		users: make(map[string]*model.User),
	}
}

// Close is a no-op for Memory.
func (s *Memory) Close() error {
	return nil
}

// CreateUser registers a new user. Fails if the username is taken.
func (s *Memory) CreateUser(username, passwordHash, salt string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return nil, fmt.Errorf("datastore: create user: username %q already exists", username)
	}
	u := &model.User{
		Username:     username,
		PasswordHash: passwordHash,
		Salt:         salt,
		CreatedAt:    s.now(),
	}
	s.users[username] = u
	out := *u
	return &out, nil
}

// GetUser retrieves a user by username, or (nil, nil) when absent.
func (s *Memory) GetUser(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	out := *u
	if u.CurrentToken != nil {
		tok := *u.CurrentToken
		out.CurrentToken = &tok
	}
	return &out, nil
}

// ListUsers returns all users ordered by username.
func (s *Memory) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// SaveToken stores the user's current token; nil clears it.
func (s *Memory) SaveToken(username string, tok *model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return fmt.Errorf("datastore: save token: unknown user %q", username)
	}
	if tok == nil {
		u.CurrentToken = nil
		return nil
	}
	cp := *tok
	u.CurrentToken = &cp
	return nil
}

// SaveLastRoom stores the user's last room; empty clears it.
func (s *Memory) SaveLastRoom(username, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return fmt.Errorf("datastore: save last room: unknown user %q", username)
	}
	u.LastRoom = room
	return nil
}
