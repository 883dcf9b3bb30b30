package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ltavares/chatline/pkg/protocol"
)

// Start binds the TLS listener and begins accepting connections. It returns
// once the listener is live; Run handles the blocking lifecycle.
func (s *Server) Start() error {
	cert, err := loadOrGenerateTLS(s.cfg)
	if err != nil {
		return fmt.Errorf("server: tls setup: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	ln, err := tls.Listen("tcp", s.cfg.Addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	slog.Info("listening", "addr", s.cfg.Addr)

	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("accept failed", "err", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts down.
func (s *Server) Run() error {
	defer func() {
		if err := s.store.Close(); err != nil {
			slog.Error("store close failed", "err", err)
		}
	}()

	if s.cfg.RoomsFile != "" {
		n, err := s.LoadRoomsFile(s.cfg.RoomsFile)
		if err != nil {
			return fmt.Errorf("server: rooms file: %w", err)
		}
		slog.Info("rooms bootstrapped", "file", s.cfg.RoomsFile, "rooms", n)
	}

	if err := s.Start(); err != nil {
		return err
	}
	s.StartMetricsHTTP()
	s.metrics.StartPeriodicLog(time.Minute, s.ctx.Done())
	s.authority.StartSweep(s.cfg.SweepInterval, s.ctx.Done())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	s.Shutdown()
	return nil
}

// Shutdown stops accepting, notifies connected clients, and closes every
// live connection. Token state stays in the store so clients can resume
// after a restart.
func (s *Server) Shutdown() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, c := range s.sessions.Drain() {
		c.send(protocol.Notice("Server shutting down"))
		c.close()
	}
	s.metrics.LogSummary()
}
