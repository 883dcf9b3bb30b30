package server

import (
	"testing"
	"time"

	"github.com/ltavares/chatline/pkg/datastore"
	"github.com/ltavares/chatline/pkg/model"
)

func newTestAuthority(t *testing.T, ttl time.Duration) (*TokenAuthority, *Directory, *time.Time) {
	t.Helper()
	dir, err := NewDirectory(datastore.NewMemory())
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if err := dir.Authenticate("alice", "secret", true); err != nil {
		t.Fatalf("register alice: %v", err)
	}

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := NewTokenAuthority(dir, ttl)
	a.now = func() time.Time { return now }
	return a, dir, &now
}

func TestIssueAndValidate(t *testing.T) {
	a, _, _ := newTestAuthority(t, time.Hour)

	tok, err := a.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.Value == "" {
		t.Fatal("empty token value")
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != time.Hour {
		t.Fatalf("ttl: want 1h, got %v", got)
	}

	user, ok := a.Validate(tok.Value)
	if !ok || user != "alice" {
		t.Fatalf("Validate: want alice/true, got %q/%v", user, ok)
	}
	if _, ok := a.Validate("no-such-token"); ok {
		t.Fatal("unknown token validated")
	}
}

func TestDefaultTTL(t *testing.T) {
	a, _, _ := newTestAuthority(t, 0)
	tok, err := a.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != model.DefaultTokenTTL {
		t.Fatalf("ttl: want %v, got %v", model.DefaultTokenTTL, got)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	a, _, now := newTestAuthority(t, time.Hour)
	tok, err := a.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	*now = now.Add(time.Hour - time.Second)
	if _, ok := a.Validate(tok.Value); !ok {
		t.Fatal("token rejected before expiry")
	}

	*now = now.Add(time.Second)
	if _, ok := a.Validate(tok.Value); ok {
		t.Fatal("token accepted at expiry")
	}
}

func TestRefreshInvalidatesOldToken(t *testing.T) {
	a, _, _ := newTestAuthority(t, time.Hour)
	old, err := a.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	fresh, err := a.Refresh("alice")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if fresh.Value == old.Value {
		t.Fatal("refresh reused the token value")
	}
	if _, ok := a.Validate(old.Value); ok {
		t.Fatal("old token still valid after refresh")
	}
	if _, ok := a.Validate(fresh.Value); !ok {
		t.Fatal("fresh token invalid")
	}
}

func TestInvalidate(t *testing.T) {
	a, dir, _ := newTestAuthority(t, time.Hour)
	tok, err := a.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := a.Invalidate("alice"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := a.Validate(tok.Value); ok {
		t.Fatal("token valid after invalidation")
	}
	u, _ := dir.Get("alice")
	if u.CurrentToken != nil {
		t.Fatal("current token not cleared")
	}
}

func TestSweepExpiredClearsTokensAndActivity(t *testing.T) {
	a, dir, now := newTestAuthority(t, time.Hour)
	if err := dir.Authenticate("bob", "hunter2", true); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	tokA, _ := a.Issue("alice")
	*now = now.Add(30 * time.Minute)
	tokB, _ := a.Issue("bob")
	dir.MarkActive("alice")

	*now = now.Add(45 * time.Minute) // alice expired, bob not
	if n := dir.SweepExpired(*now); n != 1 {
		t.Fatalf("sweep: want 1 expired, got %d", n)
	}
	if _, ok := a.Validate(tokA.Value); ok {
		t.Fatal("expired token survived the sweep")
	}
	if _, ok := a.Validate(tokB.Value); !ok {
		t.Fatal("live token swept")
	}
	if dir.IsActive("alice") {
		t.Fatal("expired user still marked active")
	}
}
