package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const MaxRoomNameLength = 64
const MaxPromptLength = 512

var ErrRoomNameEmpty = errors.New("room name must not be empty")
var ErrRoomNameTooLong = fmt.Errorf("room name must not exceed %d characters", MaxRoomNameLength)
var ErrPromptTooLong = fmt.Errorf("room prompt must not exceed %d characters", MaxPromptLength)

// RoomInfo is a registry snapshot entry for /rooms listings.
type RoomInfo struct {
	Name         string `json:"name"`
	MemberCount  int    `json:"member_count"`
	BotModerated bool   `json:"bot_moderated"`
}

// ValidateRoomName checks that a room name is non-empty and within bounds.
// Room names are case-sensitive and otherwise unrestricted: the registry is
// the sole authority on name-to-room identity.
func ValidateRoomName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrRoomNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	return nil
}

// ValidatePrompt bounds the system prompt attached to a bot-moderated room.
func ValidatePrompt(prompt string) error {
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return ErrPromptTooLong
	}
	return nil
}
