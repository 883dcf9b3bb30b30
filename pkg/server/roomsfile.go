package server

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ltavares/chatline/pkg/model"
)

// roomsFile is the YAML layout for pre-creating rooms at startup:
//
//	rooms:
//	  - name: lobby
//	  - name: support
//	    prompt: You are a helpful support agent.
//
// A non-empty prompt makes the room bot-moderated.
type roomsFile struct {
	Rooms []roomEntry `yaml:"rooms"`
}

type roomEntry struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt,omitempty"`
}

// LoadRoomsFile creates the rooms declared in a YAML file and returns how
// many entries were applied.
func (s *Server) LoadRoomsFile(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from server config
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	var rf roomsFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	for i, entry := range rf.Rooms {
		if err := model.ValidateRoomName(entry.Name); err != nil {
			return 0, fmt.Errorf("room %d (%q): %w", i, entry.Name, err)
		}
		if err := model.ValidatePrompt(entry.Prompt); err != nil {
			return 0, fmt.Errorf("room %d (%q): %w", i, entry.Name, err)
		}
		if entry.Prompt != "" {
			s.registry.GetOrCreateBot(entry.Name, entry.Prompt)
		} else {
			s.registry.GetOrCreate(entry.Name)
		}
	}
	return len(rf.Rooms), nil
}

// userExport is the YAML layout emitted by ExportUsers. Password hashes and
// token values stay out of the export.
type userExport struct {
	Username       string `yaml:"username"`
	LastRoom       string `yaml:"last_room,omitempty"`
	CreatedAt      string `yaml:"created_at"`
	TokenExpiresAt string `yaml:"token_expires_at,omitempty"`
}

// ExportUsers writes the user directory as YAML to w, sorted by username.
func (s *Server) ExportUsers(w io.Writer) error {
	users := s.directory.Export()
	out := make([]userExport, 0, len(users))
	for _, u := range users {
		e := userExport{
			Username:  u.Username,
			LastRoom:  u.LastRoom,
			CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		}
		if u.CurrentToken != nil {
			e.TokenExpiresAt = u.CurrentToken.ExpiresAt.UTC().Format(time.RFC3339)
		}
		out = append(out, e)
	}

	enc := yaml.NewEncoder(w)
	if err := enc.Encode(map[string][]userExport{"users": out}); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}
