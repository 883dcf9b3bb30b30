// Package server implements the chatline server: a TLS line-protocol chat
// service with resumable token sessions and bot-moderated rooms.
package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ltavares/chatline/pkg/datastore"
	"github.com/ltavares/chatline/pkg/model"
)

// Config holds server configuration.
type Config struct {
	Addr        string // TCP/TLS bind address (e.g. ":9999")
	DBPath      string // SQLite database path
	CertFile    string // TLS certificate file path
	KeyFile     string // TLS private key file path
	DataDir     string // directory for generated certs and data
	RoomsFile   string // YAML file defining rooms to create on startup
	MetricsAddr string // HTTP bind address for /metrics endpoint (empty = disabled)

	TokenTTL        time.Duration // session token lifetime
	SweepInterval   time.Duration // expired-token sweep period
	HistoryReplay   int           // history lines replayed on join (0 = all)
	MaxAuthAttempts int           // failed /login attempts before close

	DisableRegistration bool // reject /login for unknown usernames

	// CLI-only action (run and exit)
	ExportUsers bool // export all users as YAML and exit
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":9999",
		MetricsAddr:     ":9998",
		DBPath:          "chatline.db",
		DataDir:         ".",
		TokenTTL:        model.DefaultTokenTTL,
		SweepInterval:   60 * time.Second,
		HistoryReplay:   50,
		MaxAuthAttempts: 3,
	}
}

// Dependencies holds external collaborators for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
// Replies may be nil; bot rooms then answer with an error-tagged line.
type Dependencies struct {
	Store   datastore.Store
	Replies ReplyGenerator
}

// ReplyGenerator produces one reply line for a bot-moderated room, given the
// room's prompt and its history (most recent line last, which is the message
// being answered).
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, prompt string, history []string) (string, error)
}

// Server is the chatline server.
type Server struct {
	cfg       Config
	store     datastore.Store
	directory *Directory
	authority *TokenAuthority
	registry  *Registry
	sessions  *SessionTable
	metrics   *Metrics
	replies   ReplyGenerator
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Server instance. The user directory is loaded from the store,
// so an error here usually means the database is unreadable.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("server: missing store dependency")
	}
	dir, err := NewDirectory(deps.Store)
	if err != nil {
		return nil, fmt.Errorf("server: load directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		directory: dir,
		registry:  NewRegistry(),
		sessions:  NewSessionTable(),
		metrics:   NewMetrics(),
		replies:   deps.Replies,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.authority = NewTokenAuthority(dir, cfg.TokenTTL)
	s.authority.onSweep = func(n int) { s.metrics.TokensSwept.Add(int64(n)) }
	s.registry.onCreate = func(name string) {
		s.metrics.RoomsCreated.Add(1)
		slog.Info("room created", "room", name)
	}
	return s, nil
}

// Rooms returns the room registry.
func (s *Server) Rooms() *Registry {
	return s.registry
}

// Sessions returns the session table.
func (s *Server) Sessions() *SessionTable {
	return s.sessions
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// loadOrGenerateTLS loads TLS cert/key from disk or generates a self-signed pair.
func loadOrGenerateTLS(cfg Config) (tls.Certificate, error) {
	certPath := cfg.CertFile
	keyPath := cfg.KeyFile

	if certPath == "" {
		certPath = filepath.Join(cfg.DataDir, "server.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "server.key")
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil {
		slog.Info("loaded TLS certificate", "cert", certPath)
		return cert, nil
	}

	slog.Info("generating self-signed TLS certificate")
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"chatline server"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create cert: %w", err)
	}

	certOut, err := os.Create(certPath) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write cert: %w", err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		_ = certOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode cert: %w", err)
	}
	if err := certOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close cert file: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal key: %w", err)
	}
	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write key: %w", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		_ = keyOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode key: %w", err)
	}
	if err := keyOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close key file: %w", err)
	}

	slog.Info("TLS certificate generated", "cert", certPath, "key", keyPath)

	return tls.LoadX509KeyPair(certPath, keyPath)
}
