// Package model defines the core domain types for chatline.
package model

import (
	"errors"
	"fmt"
	"time"
)

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")

// User represents a registered chat user. CurrentToken is nil when the user
// holds no live token; LastRoom is empty when the user left (or never joined)
// a room. Both fields are persisted on every mutation so that a restarted
// server can still honor token resumes.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
	CurrentToken *Token    `json:"-"`
	LastRoom     string    `json:"last_room"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters. Returns nil on success or a descriptive
// error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
