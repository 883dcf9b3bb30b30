// Package client implements the chatline client driver: it maintains the
// connection, caches the session token, and transparently resumes the
// session when the transport drops.
package client

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ltavares/chatline/pkg/protocol"
)

// Config holds client driver configuration.
type Config struct {
	Addr               string
	ReconnectAttempts  int           // reconnect attempts before giving up
	ReconnectDelay     time.Duration // fixed delay between attempts
	InsecureSkipVerify bool          // accept self-signed server certs
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:               "localhost:9999",
		ReconnectAttempts:  5,
		ReconnectDelay:     2 * time.Second,
		InsecureSkipVerify: true,
	}
}

// Driver is the connection engine. It owns the socket; the application sends
// lines through SendLine and receives server lines through OnServerLine.
type Driver struct {
	cfg Config

	// OnServerLine receives every server line except TOKEN_INVALID, which
	// the driver consumes to trigger a credential fallback. Set before Run;
	// called from the driver goroutine.
	OnServerLine func(line string)

	// OnReconnecting is called before each reconnect attempt. Optional.
	OnReconnecting func(attempt int)

	mu       sync.Mutex
	conn     net.Conn
	token    string
	username string
	password string
	quit     bool
}

// New creates a driver. The initial credentials are used for the first
// authentication and again whenever the cached token is rejected.
func New(cfg Config, username, password string) *Driver {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Driver{cfg: cfg, username: username, password: password}
}

// Token returns the current cached session token, if any.
func (d *Driver) Token() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.token
}

// SendLine sends one line to the server.
func (d *Driver) SendLine(line string) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("client: not connected")
	}
	_, err := conn.Write([]byte(line + "\n"))
	return err
}

// Quit sends /quit and marks the driver as done; Run then returns without
// attempting to reconnect.
func (d *Driver) Quit() {
	d.mu.Lock()
	d.quit = true
	conn := d.conn
	d.mu.Unlock()
	if conn != nil {
		_, _ = conn.Write([]byte(protocol.CmdQuit + "\n"))
		_ = conn.Close()
	}
}

// Run connects, authenticates, and pumps server lines until the session ends.
// On transport failure it reconnects with the cached token, up to the
// configured attempt budget.
func (d *Driver) Run() error {
	if err := d.connectAndAuth(); err != nil {
		return err
	}

	for {
		err := d.pump()
		if d.done() {
			return nil
		}
		slog.Warn("connection lost", "err", err)

		if err := d.reconnect(); err != nil {
			return err
		}
		if d.done() {
			return nil
		}
	}
}

func (d *Driver) done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quit
}

func (d *Driver) connectAndAuth() error {
	conn, err := tls.Dial("tcp", d.cfg.Addr, &tls.Config{
		InsecureSkipVerify: d.cfg.InsecureSkipVerify, //nolint:gosec // self-signed server certs
		MinVersion:         tls.VersionTLS13,
	})
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", d.cfg.Addr, err)
	}

	d.mu.Lock()
	d.conn = conn
	token := d.token
	d.mu.Unlock()

	if token != "" {
		return d.SendLine(protocol.CmdToken + " " + token)
	}
	return d.sendLogin()
}

func (d *Driver) sendLogin() error {
	if d.username == "" {
		return fmt.Errorf("client: no cached token and no credentials")
	}
	return d.SendLine(protocol.CmdLogin + " " + d.username + " " + d.password)
}

// pump reads server lines until the connection fails, intercepting session
// control lines before forwarding.
func (d *Driver) pump() error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()

	sc := protocol.NewLineScanner(conn)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, protocol.AuthTokenPrefix):
			d.mu.Lock()
			d.token = strings.TrimPrefix(line, protocol.AuthTokenPrefix)
			d.mu.Unlock()
		case line == protocol.TokenInvalid:
			// Stale token: forget it and fall back to credentials.
			d.mu.Lock()
			d.token = ""
			d.mu.Unlock()
			if err := d.sendLogin(); err != nil {
				return err
			}
			continue
		}
		if d.OnServerLine != nil {
			d.OnServerLine(line)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("client: connection closed by server")
}

func (d *Driver) reconnect() error {
	for attempt := 1; attempt <= d.cfg.ReconnectAttempts; attempt++ {
		if d.done() {
			return nil
		}
		if d.OnReconnecting != nil {
			d.OnReconnecting(attempt)
		}
		time.Sleep(d.cfg.ReconnectDelay)
		if err := d.connectAndAuth(); err != nil {
			slog.Warn("reconnect failed", "attempt", attempt, "err", err)
			continue
		}
		slog.Info("reconnected", "attempt", attempt)
		return nil
	}
	return fmt.Errorf("client: gave up after %d reconnect attempts", d.cfg.ReconnectAttempts)
}
