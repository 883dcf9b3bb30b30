// Package datastore persists the user directory: credentials, current
// session token, and last joined room. The server rewrites a user's row on
// every token or room mutation so a restarted process can still honor
// token resumes.
package datastore

import "github.com/ltavares/chatline/pkg/model"

// Store is the persistence interface for user records. The default
// implementation is SQLite; Memory backs tests.
type Store interface {
	// GetUser returns the user or (nil, nil) when the username is unknown.
	GetUser(username string) (*model.User, error)

	// CreateUser registers a new user with hashed credentials.
	CreateUser(username, passwordHash, salt string) (*model.User, error)

	// ListUsers returns all users ordered by username.
	ListUsers() ([]model.User, error)

	// SaveToken stores the user's current token; nil clears it.
	SaveToken(username string, tok *model.Token) error

	// SaveLastRoom stores the user's last room; empty clears it.
	SaveLastRoom(username, room string) error

	Close() error
}

// Compile-time checks.
var _ Store = (*SQL)(nil)
var _ Store = (*Memory)(nil)
