package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ltavares/chatline/pkg/datastore"
	"github.com/ltavares/chatline/pkg/model"
)

func TestAuthenticateRegistersFirstLogin(t *testing.T) {
	store := datastore.NewMemory()
	dir, err := NewDirectory(store)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}

	if err := dir.Authenticate("alice", "secret", true); err != nil {
		t.Fatalf("first login: %v", err)
	}

	// Registration persisted, not just cached.
	u, err := store.GetUser("alice")
	if err != nil || u == nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if u.PasswordHash == "" || u.Salt == "" {
		t.Fatal("credentials not stored")
	}
	if u.PasswordHash == "secret" {
		t.Fatal("password stored in the clear")
	}

	dir.MarkInactive("alice")
	if err := dir.Authenticate("alice", "secret", true); err != nil {
		t.Fatalf("second login with same password: %v", err)
	}
	dir.MarkInactive("alice")
	if err := dir.Authenticate("alice", "wrong", true); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: want ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateRegistrationDisabled(t *testing.T) {
	dir, err := NewDirectory(datastore.NewMemory())
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	err = dir.Authenticate("ghost", "pw", false)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateActiveUserGuard(t *testing.T) {
	dir, err := NewDirectory(datastore.NewMemory())
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}

	// A successful login marks the user active in the same critical section.
	if err := dir.Authenticate("alice", "secret", true); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !dir.IsActive("alice") {
		t.Fatal("login did not mark the user active")
	}

	if err := dir.Authenticate("alice", "secret", true); !errors.Is(err, ErrUserAlreadyActive) {
		t.Fatalf("want ErrUserAlreadyActive, got %v", err)
	}

	dir.MarkInactive("alice")
	if err := dir.Authenticate("alice", "secret", true); err != nil {
		t.Fatalf("login after inactive: %v", err)
	}
}

func TestConcurrentLoginSingleWinner(t *testing.T) {
	dir, err := NewDirectory(datastore.NewMemory())
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if err := dir.Authenticate("alice", "secret", true); err != nil {
		t.Fatalf("register: %v", err)
	}
	dir.MarkInactive("alice")

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dir.Authenticate("alice", "secret", true) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("want exactly 1 winning login, got %d", got)
	}
}

func TestDirectoryReloadRebuildsTokenIndex(t *testing.T) {
	store := datastore.NewMemory()
	dir, err := NewDirectory(store)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if err := dir.Authenticate("alice", "secret", true); err != nil {
		t.Fatalf("register: %v", err)
	}
	now := time.Now().UTC()
	tok := &model.Token{Value: "tok-1", Username: "alice", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := dir.SetToken("alice", tok); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := dir.SetLastRoom("alice", "general"); err != nil {
		t.Fatalf("SetLastRoom: %v", err)
	}

	// Fresh directory over the same store, as after a server restart.
	dir2, err := NewDirectory(store)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	u, ok := dir2.UserByToken("tok-1")
	if !ok || u.Username != "alice" {
		t.Fatalf("token index not rebuilt: %v %v", u, ok)
	}
	if got := dir2.LastRoom("alice"); got != "general" {
		t.Fatalf("last room: want general, got %q", got)
	}
}

func TestSetTokenReindexes(t *testing.T) {
	dir, err := NewDirectory(datastore.NewMemory())
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if err := dir.Authenticate("alice", "secret", true); err != nil {
		t.Fatalf("register: %v", err)
	}

	now := time.Now().UTC()
	first := &model.Token{Value: "first", Username: "alice", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	second := &model.Token{Value: "second", Username: "alice", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := dir.SetToken("alice", first); err != nil {
		t.Fatalf("SetToken first: %v", err)
	}
	if err := dir.SetToken("alice", second); err != nil {
		t.Fatalf("SetToken second: %v", err)
	}
	if _, ok := dir.UserByToken("first"); ok {
		t.Fatal("stale token still indexed")
	}
	if _, ok := dir.UserByToken("second"); !ok {
		t.Fatal("current token not indexed")
	}

	if err := dir.SetToken("alice", nil); err != nil {
		t.Fatalf("clear token: %v", err)
	}
	if _, ok := dir.UserByToken("second"); ok {
		t.Fatal("cleared token still indexed")
	}
}

func TestExportOrderedByUsername(t *testing.T) {
	dir, err := NewDirectory(datastore.NewMemory())
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	for _, name := range []string{"carol", "alice", "bob"} {
		if err := dir.Authenticate(name, "pw", true); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	out := dir.Export()
	if len(out) != 3 {
		t.Fatalf("want 3 users, got %d", len(out))
	}
	for i, want := range []string{"alice", "bob", "carol"} {
		if out[i].Username != want {
			t.Fatalf("position %d: want %q, got %q", i, want, out[i].Username)
		}
	}
}
