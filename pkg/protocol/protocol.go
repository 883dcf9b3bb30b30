// Package protocol defines the line-oriented chat protocol: one command or
// one chat line per newline-terminated line, in both directions.
package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode"
)

const (
	// MaxLineLength caps a single protocol line (command or chat).
	MaxLineLength = 4096

	// AuthTokenPrefix precedes a freshly issued token on the wire.
	AuthTokenPrefix = "AUTH_TOKEN:"

	// TokenInvalid is sent when a /token resume presents an unknown or
	// expired token. The client must fall back to /login.
	TokenInvalid = "TOKEN_INVALID"

	// Resumed is sent when a /token resume succeeds.
	Resumed = "RESUMED"

	// BotName tags generated replies in bot-moderated rooms.
	BotName = "Bot"

	// BotRoomPrefix marks a /join target as bot-moderated.
	BotRoomPrefix = "AI:"

	// PromptSeparator splits room name from prompt in a bot /join target.
	PromptSeparator = "|"
)

var ErrLineTooLong = errors.New("protocol: line too long")

// Command names understood by the server.
const (
	CmdLogin        = "/login"
	CmdToken        = "/token"
	CmdJoin         = "/join"
	CmdLeave        = "/leave"
	CmdRooms        = "/rooms"
	CmdRefreshToken = "/refresh_token"
	CmdQuit         = "/quit"
	CmdHelp         = "/help"
)

// Command is one parsed client line. For non-command lines Name is empty and
// Args holds the raw chat text.
type Command struct {
	Name string
	Args string
}

// IsChat reports whether the line was a plain chat message.
func (c Command) IsChat() bool { return c.Name == "" }

// Parse splits a client line into command name and argument rest. Lines not
// starting with '/' are chat messages. The command name is lowercased; the
// argument rest keeps its original spelling.
func Parse(line string) Command {
	if !strings.HasPrefix(line, "/") {
		return Command{Args: line}
	}
	name, rest, _ := strings.Cut(line, " ")
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(rest)}
}

// JoinTarget is the decoded argument of a /join command.
type JoinTarget struct {
	Room   string
	Bot    bool
	Prompt string // only meaningful when Bot is true; may be empty
}

// ParseJoinTarget decodes the /join argument forms:
//
//	/join room
//	/join AI:room
//	/join AI:room|prompt
func ParseJoinTarget(arg string) JoinTarget {
	if !strings.HasPrefix(arg, BotRoomPrefix) {
		return JoinTarget{Room: strings.TrimSpace(arg)}
	}
	rest := strings.TrimPrefix(arg, BotRoomPrefix)
	room, prompt, _ := strings.Cut(rest, PromptSeparator)
	return JoinTarget{
		Room:   strings.TrimSpace(room),
		Bot:    true,
		Prompt: strings.TrimSpace(prompt),
	}
}

// IsControlLine reports whether a line is a control echo rather than chat
// content. Control lines are never appended to room history.
func IsControlLine(line string) bool {
	return strings.HasPrefix(line, "/")
}

// Notice brackets a server-side event announcement.
func Notice(text string) string {
	return "-- " + text + " --"
}

// ChatLine tags a chat message with its sender.
func ChatLine(username, text string) string {
	return username + ": " + text
}

// Sanitize strips control characters from user-supplied text to prevent
// terminal escape injection; newlines collapse to spaces so one input line
// stays one protocol line.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// NewLineScanner wraps r in a Scanner bounded at MaxLineLength.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), MaxLineLength)
	return sc
}
