package model

import (
	"strings"
	"testing"
	"time"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_user", nil},
		{"valid with hyphen", "my-user", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"contains colon", "user:name", ErrUsernameInvalidChars},
		{"unicode letter", "ñoño", ErrUsernameInvalidChars},
		{"newline", "user\nname", ErrUsernameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid", "lobby", nil},
		{"valid with space", "general chat", nil},
		{"empty", "", ErrRoomNameEmpty},
		{"whitespace only", "   ", ErrRoomNameEmpty},
		{"too long", strings.Repeat("r", MaxRoomNameLength+1), ErrRoomNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRoomName(tt.input); err != tt.wantErr {
				t.Errorf("ValidateRoomName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tok := &Token{
		Value:     "abc",
		Username:  "alice",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Hour),
	}

	if tok.IsExpired(issued) {
		t.Error("token expired at issue time")
	}
	if tok.IsExpired(issued.Add(59 * time.Minute)) {
		t.Error("token expired before ExpiresAt")
	}
	if !tok.IsExpired(issued.Add(time.Hour)) {
		t.Error("token not expired exactly at ExpiresAt")
	}
	if !tok.IsExpired(issued.Add(2 * time.Hour)) {
		t.Error("token not expired after ExpiresAt")
	}

	if got := tok.SecondsUntilExpiry(issued); got != 3600 {
		t.Errorf("SecondsUntilExpiry at issue = %d, want 3600", got)
	}
	if got := tok.SecondsUntilExpiry(issued.Add(2 * time.Hour)); got != 0 {
		t.Errorf("SecondsUntilExpiry after expiry = %d, want 0", got)
	}
}
