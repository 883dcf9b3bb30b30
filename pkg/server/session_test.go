package server

import "testing"

func TestSessionRegisterEvictsPrevious(t *testing.T) {
	st := NewSessionTable()
	c1 := &Conn{}
	c2 := &Conn{}

	if evicted := st.Register("tok", c1); evicted != nil {
		t.Fatalf("first register evicted %v", evicted)
	}
	if evicted := st.Register("tok", c2); evicted != c1 {
		t.Fatalf("second register: want evicted c1, got %v", evicted)
	}
	if st.Get("tok") != c2 {
		t.Fatal("token not bound to the new connection")
	}
	if st.Count() != 1 {
		t.Fatalf("want 1 session, got %d", st.Count())
	}
}

func TestSessionRegisterSameConnNoEviction(t *testing.T) {
	st := NewSessionTable()
	c := &Conn{}
	st.Register("tok", c)
	if evicted := st.Register("tok", c); evicted != nil {
		t.Fatal("re-registering the same connection must not self-evict")
	}
}

func TestSessionRemoveIfGuardsOwnership(t *testing.T) {
	st := NewSessionTable()
	c1 := &Conn{}
	c2 := &Conn{}
	st.Register("tok", c1)
	st.Register("tok", c2)

	// The evicted connection's cleanup must not remove the successor.
	if st.RemoveIf("tok", c1) {
		t.Fatal("evicted connection removed the live session")
	}
	if st.Get("tok") != c2 {
		t.Fatal("live session disappeared")
	}

	if !st.RemoveIf("tok", c2) {
		t.Fatal("owner could not remove its own session")
	}
	if st.Count() != 0 {
		t.Fatalf("want empty table, got %d", st.Count())
	}
}

func TestSessionRekey(t *testing.T) {
	st := NewSessionTable()
	c := &Conn{}
	st.Register("old", c)
	st.Rekey("old", "new", c)

	if st.Get("old") != nil {
		t.Fatal("old token still registered")
	}
	if st.Get("new") != c {
		t.Fatal("new token not registered")
	}
	if st.Count() != 1 {
		t.Fatalf("want 1 session after rekey, got %d", st.Count())
	}
}

func TestSessionRekeyStaleConn(t *testing.T) {
	st := NewSessionTable()
	c1 := &Conn{}
	c2 := &Conn{}
	st.Register("old", c1)
	st.Register("old", c2)

	// A stale holder refreshing must not unbind the live connection's entry.
	st.Rekey("old", "new1", c1)
	if st.Get("old") != c2 {
		t.Fatal("stale rekey removed the live entry")
	}
}

func TestSessionDrain(t *testing.T) {
	st := NewSessionTable()
	st.Register("a", &Conn{})
	st.Register("b", &Conn{})

	drained := st.Drain()
	if len(drained) != 2 {
		t.Fatalf("want 2 drained conns, got %d", len(drained))
	}
	if st.Count() != 0 {
		t.Fatalf("table not empty after drain: %d", st.Count())
	}
}
