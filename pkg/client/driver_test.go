package client

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ltavares/chatline/pkg/protocol"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPumpCachesToken(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	d := New(DefaultConfig(), "alice", "pw")
	d.conn = clientSide

	var mu sync.Mutex
	var seen []string
	d.OnServerLine = func(line string) {
		mu.Lock()
		seen = append(seen, line)
		mu.Unlock()
	}

	done := make(chan error, 1)
	go func() { done <- d.pump() }()

	if _, err := serverSide.Write([]byte(protocol.AuthTokenPrefix + "abc-123\n")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, "token cache", func() bool { return d.Token() == "abc-123" })

	if _, err := serverSide.Write([]byte("Welcome alice!\n")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, "forwarded line", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2 && seen[1] == "Welcome alice!"
	})

	_ = serverSide.Close()
	if err := <-done; err == nil {
		t.Fatal("pump should report the broken transport")
	}
}

func TestTokenInvalidFallsBackToLogin(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	d := New(DefaultConfig(), "alice", "pw")
	d.conn = clientSide
	d.token = "stale"

	go func() { _ = d.pump() }()

	if _, err := serverSide.Write([]byte(protocol.TokenInvalid + "\n")); err != nil {
		t.Fatalf("server write: %v", err)
	}

	sc := bufio.NewScanner(serverSide)
	if !sc.Scan() {
		t.Fatal("no fallback line received")
	}
	if got, want := sc.Text(), protocol.CmdLogin+" alice pw"; got != want {
		t.Fatalf("fallback: want %q, got %q", want, got)
	}
	if d.Token() != "" {
		t.Fatal("stale token not discarded")
	}
}

func TestSendLineRequiresConnection(t *testing.T) {
	d := New(DefaultConfig(), "alice", "pw")
	if err := d.SendLine("hello"); err == nil {
		t.Fatal("SendLine without a connection should fail")
	}
}

func TestQuitSendsQuitAndStops(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	d := New(DefaultConfig(), "alice", "pw")
	d.conn = clientSide

	go d.Quit()

	sc := bufio.NewScanner(serverSide)
	if !sc.Scan() {
		t.Fatal("no quit line received")
	}
	if sc.Text() != protocol.CmdQuit {
		t.Fatalf("want %q, got %q", protocol.CmdQuit, sc.Text())
	}
	if !d.done() {
		t.Fatal("driver not marked done")
	}
}
