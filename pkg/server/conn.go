package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ltavares/chatline/pkg/model"
	"github.com/ltavares/chatline/pkg/protocol"
)

// connState tracks where a connection is in its protocol lifecycle.
type connState int

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateAuthenticatedNoRoom
	stateInRoom
	stateClosed
)

// Conn is the coordinator for one accepted connection. It owns the protocol
// state machine and is the only goroutine that reads from the transport, so
// a sender's own lines are processed strictly in order. Cross-connection
// effects go through Room, SessionTable, and Directory only.
type Conn struct {
	srv  *Server
	conn net.Conn

	// wmu serializes writes; broadcasts from other coordinators land here.
	wmu sync.Mutex

	// The remaining fields are owned by the coordinator goroutine.
	state    connState
	username string
	token    *model.Token
	room     *Room
}

// send writes one protocol line. Write failures are surfaced lazily: the
// coordinator's next read observes the broken transport.
func (c *Conn) send(line string) {
	c.wmu.Lock()
	_, err := c.conn.Write([]byte(line + "\n"))
	c.wmu.Unlock()
	if err != nil {
		slog.Debug("write failed", "user", c.username, "err", err)
	}
}

func (c *Conn) close() {
	_ = c.conn.Close()
}

// handleConn runs the coordinator for a single accepted connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := &Conn{srv: s, conn: netConn, state: stateConnecting}
	defer c.close()

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new connection", "remote", netConn.RemoteAddr())

	sc := protocol.NewLineScanner(netConn)

	c.state = stateAuthenticating
	if !c.authenticate(sc) {
		return
	}

	if quit := c.readLoop(sc); quit {
		return
	}
	c.handleUnexpectedDisconnect()
}

// authenticate runs the entry protocol: the connection's first lines must be
// /login or /token until one succeeds or the retry budget is exhausted.
// Anything else is rejected and the connection closed.
func (c *Conn) authenticate(sc *bufio.Scanner) bool {
	s := c.srv
	attempts := 0
	for {
		if !sc.Scan() {
			return false
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd := protocol.Parse(line)

		switch cmd.Name {
		case protocol.CmdLogin:
			if c.tryLogin(cmd.Args) {
				return true
			}
		case protocol.CmdToken:
			if c.tryResume(cmd.Args) {
				return true
			}
		default:
			c.send("Invalid command. Authenticate with /login <user> <pass> or /token <token>.")
			return false
		}

		attempts++
		if attempts >= s.cfg.MaxAuthAttempts {
			c.send("Too many failed attempts. Disconnecting.")
			return false
		}
		c.send(fmt.Sprintf("Attempts remaining: %d", s.cfg.MaxAuthAttempts-attempts))
	}
}

// tryLogin handles one /login attempt: verify (or register) credentials,
// issue a token, and register the session.
func (c *Conn) tryLogin(args string) bool {
	s := c.srv
	username, password, ok := strings.Cut(args, " ")
	if !ok || username == "" || password == "" {
		c.send("Usage: /login <user> <pass>")
		return false
	}

	err := s.directory.Authenticate(username, password, !s.cfg.DisableRegistration)
	switch {
	case err == nil:
	case errors.Is(err, ErrUserAlreadyActive):
		s.metrics.FailedAuths.Add(1)
		c.send("This username is already in use. Choose another or try again later.")
		return false
	default:
		s.metrics.FailedAuths.Add(1)
		slog.Debug("login failed", "user", username, "err", err)
		c.send("Invalid credentials.")
		return false
	}

	tok, err := s.authority.Issue(username)
	if err != nil {
		slog.Error("token issue failed", "user", username, "err", err)
		c.send("Server error issuing token.")
		s.directory.MarkInactive(username)
		return false
	}
	if evicted := s.sessions.Register(tok.Value, c); evicted != nil {
		// A fresh token value cannot collide; defensive only.
		evicted.close()
	}

	c.username = username
	c.token = tok
	c.state = stateAuthenticatedNoRoom
	s.metrics.SuccessfulAuths.Add(1)
	s.metrics.TokensIssued.Add(1)

	c.send(protocol.AuthTokenPrefix + tok.Value)
	c.send("Welcome " + username + "! You aren't in any room yet.")
	c.send("Use /join <room> to enter a room. Rooms are created automatically.")
	slog.Info("user authenticated", "user", username, "remote", c.conn.RemoteAddr())
	return true
}

// tryResume handles one /token attempt: validate the token, evict any prior
// connection holding it, and restore the user's last room membership.
func (c *Conn) tryResume(tokenValue string) bool {
	s := c.srv
	username, ok := s.authority.Validate(tokenValue)
	if !ok {
		s.metrics.FailedAuths.Add(1)
		c.send(protocol.TokenInvalid)
		c.send("Invalid or expired token. Please authenticate with /login.")
		return false
	}

	u, found := s.directory.Get(username)
	if !found || u.CurrentToken == nil {
		s.metrics.FailedAuths.Add(1)
		c.send(protocol.TokenInvalid)
		return false
	}

	c.username = username
	c.token = u.CurrentToken
	s.directory.MarkActive(username)

	if evicted := s.sessions.Register(tokenValue, c); evicted != nil {
		evicted.send(protocol.Notice("Your session has been resumed from another location"))
		evicted.close()
		s.metrics.SessionsEvicted.Add(1)
		slog.Info("stale session evicted", "user", username)
	}

	c.state = stateAuthenticatedNoRoom
	s.metrics.SuccessfulAuths.Add(1)
	s.metrics.SessionsResumed.Add(1)

	c.send(protocol.Resumed)
	c.send("Session resumed. Welcome back, " + username + "!")

	if last := s.directory.LastRoom(username); last != "" {
		room := s.registry.GetOrCreate(last)
		room.AddMember(username, c)
		c.room = room
		c.state = stateInRoom
		c.send("You have been reconnected to room: " + last)
	}
	slog.Info("session resumed", "user", username, "remote", c.conn.RemoteAddr())
	return true
}

// readLoop processes lines one at a time, in arrival order. It returns true
// when the client quit cleanly, false on transport failure.
func (c *Conn) readLoop(sc *bufio.Scanner) (quit bool) {
	for {
		select {
		case <-c.srv.ctx.Done():
			return true
		default:
		}
		if !sc.Scan() {
			return false
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if c.dispatch(line) {
			return true
		}
	}
}

// dispatch handles one steady-state line, returning true on /quit.
func (c *Conn) dispatch(line string) (quit bool) {
	cmd := protocol.Parse(line)
	switch cmd.Name {
	case "":
		c.handleChat(cmd.Args)
	case protocol.CmdJoin:
		c.handleJoin(cmd.Args)
	case protocol.CmdLeave:
		c.handleLeave()
	case protocol.CmdRooms:
		c.handleRooms()
	case protocol.CmdRefreshToken:
		c.handleRefreshToken()
	case protocol.CmdHelp:
		c.handleHelp()
	case protocol.CmdQuit:
		c.handleQuit()
		return true
	case protocol.CmdLogin:
		c.send("You are already authenticated.")
	case protocol.CmdToken:
		c.send("Token management is handled automatically by the server.")
	default:
		c.send("Unknown command " + cmd.Name + ". Try /help.")
	}
	return false
}

func (c *Conn) handleJoin(args string) {
	s := c.srv
	if args == "" {
		c.send("Please provide a room name: /join <room>")
		return
	}
	target := protocol.ParseJoinTarget(args)
	if err := model.ValidateRoomName(target.Room); err != nil {
		c.send("Cannot join: " + err.Error())
		return
	}
	if err := model.ValidatePrompt(target.Prompt); err != nil {
		c.send("Cannot join: " + err.Error())
		return
	}

	var room *Room
	if target.Bot {
		room = s.registry.GetOrCreateBot(target.Room, target.Prompt)
	} else {
		room = s.registry.GetOrCreate(target.Room)
	}

	if c.room == room {
		c.send("You are already in this room.")
		return
	}

	if prev := c.room; prev != nil {
		prev.RemoveMember(c.username)
		c.send("Leaving room: " + prev.Name())
		prev.Broadcast(protocol.Notice("User " + c.username + " left the room"))
	}

	room.AddMember(c.username, c)
	c.room = room
	c.state = stateInRoom
	if err := s.directory.SetLastRoom(c.username, room.Name()); err != nil {
		slog.Error("persist last room failed", "user", c.username, "err", err)
	}

	c.send("You have joined room: " + room.Name())
	for _, h := range room.RecentHistory(s.cfg.HistoryReplay) {
		c.send(h)
	}
	room.Broadcast(protocol.Notice("User " + c.username + " joined the room"))
}

func (c *Conn) handleLeave() {
	s := c.srv
	if c.room == nil {
		c.send("You're not in any room.")
		return
	}
	prev := c.room
	prev.RemoveMember(c.username)
	c.room = nil
	c.state = stateAuthenticatedNoRoom
	if err := s.directory.SetLastRoom(c.username, ""); err != nil {
		slog.Error("persist last room failed", "user", c.username, "err", err)
	}
	c.send("You have left room: " + prev.Name())
	prev.Broadcast(protocol.Notice("User " + c.username + " left the room"))
}

func (c *Conn) handleRooms() {
	infos := c.srv.registry.List()
	if len(infos) == 0 {
		c.send("No rooms available. Use /join <room> to create one.")
		return
	}
	c.send("Available rooms:")
	for _, info := range infos {
		marker := ""
		if info.BotModerated {
			marker = " [bot]"
		}
		c.send(fmt.Sprintf("-- %s (%d users)%s --", info.Name, info.MemberCount, marker))
	}
}

func (c *Conn) handleRefreshToken() {
	s := c.srv
	tok, err := s.authority.Refresh(c.username)
	if err != nil {
		slog.Error("token refresh failed", "user", c.username, "err", err)
		c.send("Failed to refresh token.")
		return
	}
	s.sessions.Rekey(c.token.Value, tok.Value, c)
	c.token = tok
	s.metrics.TokensRefreshed.Add(1)
	c.send(protocol.AuthTokenPrefix + tok.Value)
	c.send(fmt.Sprintf("Token refreshed. New token expires in %d seconds.",
		tok.SecondsUntilExpiry(time.Now().UTC())))
}

func (c *Conn) handleHelp() {
	c.send("Commands: /join <room>, /join AI:<room>|<prompt>, /leave, /rooms, /refresh_token, /quit, /help")
	c.send("Any other line is sent to your current room.")
}

// handleQuit performs full teardown: leave room, invalidate token, drop the
// session entry. This deliberately diverges from the unexpected-disconnect
// path, which keeps membership for a later resume. Teardown only runs when
// this connection still owns the session entry; a connection evicted by a
// resume can still drain a buffered /quit, and must not tear down state the
// successor now owns.
func (c *Conn) handleQuit() {
	s := c.srv
	if c.token != nil && !s.sessions.RemoveIf(c.token.Value, c) {
		// Evicted by a resume: the session, the room membership, and the
		// token all belong to the successor now. Close without teardown.
		c.send("Goodbye!")
		c.state = stateClosed
		return
	}
	if c.room != nil {
		c.room.RemoveMember(c.username)
		c.room.Broadcast(protocol.Notice("User " + c.username + " left the room"))
		c.room = nil
	}
	if c.token != nil {
		if err := s.authority.Invalidate(c.username); err != nil {
			slog.Error("token invalidate failed", "user", c.username, "err", err)
		}
	}
	s.directory.MarkInactive(c.username)
	c.send("Goodbye!")
	c.state = stateClosed
	slog.Info("client quit", "user", c.username)
}

func (c *Conn) handleChat(text string) {
	s := c.srv
	if c.room == nil {
		c.send("You are not in any room. Use /rooms to see what's available.")
		return
	}
	text = protocol.Sanitize(text)
	if text == "" {
		return
	}
	c.room.Broadcast(protocol.ChatLine(c.username, text))
	s.metrics.MessagesSent.Add(1)

	if bot, prompt := c.room.Bot(); bot {
		c.generateBotReply(prompt)
	}
}

// generateBotReply asks the reply generator for one line and broadcasts it.
// Runs synchronously in the coordinator so the user's message and the reply
// land in history in that order. Generator failure degrades to an
// error-tagged reply line; it never tears down the connection.
func (c *Conn) generateBotReply(prompt string) {
	s := c.srv
	room := c.room

	if s.replies == nil {
		// Count before broadcasting: a pipe write can park this goroutine
		// until the recipient reads, and observers may check the counter as
		// soon as they see the line.
		s.metrics.BotReplyFailures.Add(1)
		room.Broadcast(protocol.ChatLine(protocol.BotName, "[reply unavailable]"))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	reply, err := s.replies.GenerateReply(ctx, prompt, room.History())
	if err != nil {
		slog.Error("bot reply failed", "room", room.Name(), "err", err)
		s.metrics.BotReplyFailures.Add(1)
		room.Broadcast(protocol.ChatLine(protocol.BotName, "[reply unavailable]"))
		return
	}
	s.metrics.BotReplies.Add(1)
	room.Broadcast(protocol.ChatLine(protocol.BotName, protocol.Sanitize(reply)))
}

// handleUnexpectedDisconnect runs after a transport failure on an
// authenticated connection. Room membership is preserved (the connection
// handle is detached) so a token resume can restore it; only the session
// entry and active flag are cleared. A connection that was evicted by a
// resume no longer owns its session entry and must touch nothing.
func (c *Conn) handleUnexpectedDisconnect() {
	s := c.srv
	if c.token == nil {
		return
	}
	if !s.sessions.RemoveIf(c.token.Value, c) {
		slog.Debug("evicted connection closed", "user", c.username)
		return
	}
	if c.room != nil {
		c.room.DetachConn(c.username, c)
		c.room.Broadcast(protocol.Notice("User " + c.username + " has disconnected unexpectedly"))
	}
	s.directory.MarkInactive(c.username)
	s.metrics.TotalDisconnects.Add(1)
	slog.Info("client disconnected unexpectedly", "user", c.username)
}
