package server

import "sync"

// SessionTable maps an active token to the one live connection authenticated
// under it. The evict-then-register sequence on resume is atomic under the
// table lock, so two connections can never both believe they won a token.
type SessionTable struct {
	mu    sync.Mutex
	conns map[string]*Conn // token value -> connection
}

// NewSessionTable creates an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{conns: make(map[string]*Conn)}
}

// Register binds token to c, returning any previously registered connection
// for the same token. The caller notifies and closes the evicted connection
// outside this lock.
func (st *SessionTable) Register(token string, c *Conn) (evicted *Conn) {
	st.mu.Lock()
	defer st.mu.Unlock()
	prev := st.conns[token]
	st.conns[token] = c
	if prev == c {
		return nil
	}
	return prev
}

// Rekey atomically moves c's registration from oldToken to newToken
// (token refresh keeps the single session entry).
func (st *SessionTable) Rekey(oldToken, newToken string, c *Conn) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.conns[oldToken] == c {
		delete(st.conns, oldToken)
	}
	st.conns[newToken] = c
}

// RemoveIf removes the entry for token only if it is still bound to c, and
// reports whether it was. A connection that was evicted loses the race here,
// which keeps its cleanup from tearing down its successor's session.
func (st *SessionTable) RemoveIf(token string, c *Conn) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.conns[token] != c {
		return false
	}
	delete(st.conns, token)
	return true
}

// Get returns the live connection for token, if any.
func (st *SessionTable) Get(token string) *Conn {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conns[token]
}

// Count returns the number of live sessions.
func (st *SessionTable) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.conns)
}

// Drain empties the table and returns the connections it held
// (used on shutdown to force-close everything).
func (st *SessionTable) Drain() []*Conn {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Conn, 0, len(st.conns))
	for _, c := range st.conns {
		out = append(out, c)
	}
	st.conns = make(map[string]*Conn)
	return out
}
