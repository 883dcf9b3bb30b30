package server

import (
	"sort"
	"sync"

	"github.com/ltavares/chatline/pkg/model"
	"github.com/ltavares/chatline/pkg/protocol"
)

// Registry is the process-wide name → Room mapping. Rooms are created lazily
// on first join and never deleted; an empty room is valid and persists.
//
// Lock order: Registry lock is held only for lookup-or-insert, never while a
// Room lock is taken or a network write is performed.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	// onCreate is invoked (outside the lock) when a room is created;
	// used for metrics.
	onCreate func(name string)
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the room with the given name, creating a plain room if
// none exists. Atomic: concurrent callers with the same unseen name observe
// exactly one Room instance.
func (r *Registry) GetOrCreate(name string) *Room {
	room, created := r.getOrCreate(name, false, "")
	if created && r.onCreate != nil {
		r.onCreate(name)
	}
	return room
}

// GetOrCreateBot returns the room with the given name as a bot-moderated
// room. An existing plain room is upgraded in place; an existing bot room
// keeps its original prompt (first prompt wins).
func (r *Registry) GetOrCreateBot(name, prompt string) *Room {
	room, created := r.getOrCreate(name, true, prompt)
	if created && r.onCreate != nil {
		r.onCreate(name)
	}
	return room
}

func (r *Registry) getOrCreate(name string, bot bool, prompt string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok {
		room = newRoom(name, bot, prompt)
		r.rooms[name] = room
		return room, true
	}
	if bot {
		room.upgradeToBot(prompt)
	}
	return room, false
}

// Get returns the room with the given name, if it exists.
func (r *Registry) Get(name string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	return room, ok
}

// List returns a name-ordered snapshot of (name, member count) pairs. The
// registry lock is held only for the pointer copy.
func (r *Registry) List() []model.RoomInfo {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	infos := make([]model.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		bot, _ := room.Bot()
		infos = append(infos, model.RoomInfo{
			Name:         room.Name(),
			MemberCount:  room.MemberCount(),
			BotModerated: bot,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Room is one named broadcast group. Membership survives a member's
// transport drop (the connection handle is detached, the username stays), so
// a token resume can restore it. Its lock guards only this room: activity in
// other rooms never contends.
type Room struct {
	name string

	mu      sync.RWMutex
	bot     bool
	prompt  string
	members map[string]*Conn // username -> live connection, nil while offline
	history []string
}

func newRoom(name string, bot bool, prompt string) *Room {
	return &Room{
		name:    name,
		bot:     bot,
		prompt:  prompt,
		members: make(map[string]*Conn),
	}
}

// Name returns the room's name. Rooms are equal iff their names are equal;
// the Registry guarantees one instance per name.
func (rm *Room) Name() string {
	return rm.name
}

// Bot reports whether the room is bot-moderated, and its prompt.
func (rm *Room) Bot() (bool, string) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.bot, rm.prompt
}

// upgradeToBot marks the room bot-moderated. A room that is already
// bot-moderated keeps its existing prompt.
func (rm *Room) upgradeToBot(prompt string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.bot {
		return
	}
	rm.bot = true
	rm.prompt = prompt
}

// AddMember adds (or re-attaches) a member with their live connection.
// Idempotent: joining twice just refreshes the connection handle.
func (rm *Room) AddMember(username string, c *Conn) {
	rm.mu.Lock()
	rm.members[username] = c
	rm.mu.Unlock()
}

// RemoveMember drops the member entirely (explicit /leave or /quit).
// Removing a non-member is a no-op.
func (rm *Room) RemoveMember(username string) {
	rm.mu.Lock()
	delete(rm.members, username)
	rm.mu.Unlock()
}

// DetachConn keeps the username's membership but clears its connection
// handle, provided the handle still is c. An unexpected disconnect detaches;
// it never removes, so a later resume finds the membership intact. The
// handle check keeps a stale connection's cleanup from detaching the
// connection that evicted it.
func (rm *Room) DetachConn(username string, c *Conn) {
	rm.mu.Lock()
	if cur, ok := rm.members[username]; ok && cur == c {
		rm.members[username] = nil
	}
	rm.mu.Unlock()
}

// MemberCount returns the number of members, online or not.
func (rm *Room) MemberCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// IsMember reports whether the username is a member.
func (rm *Room) IsMember(username string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.members[username]
	return ok
}

// Broadcast delivers line to every member with a live connection and appends
// it to history unless it is a control line. The membership snapshot is taken
// under the lock; the network writes happen after release, so a slow peer
// never blocks join/leave on this room and a concurrent membership change
// cannot alter the in-flight recipient set.
func (rm *Room) Broadcast(line string) {
	rm.mu.Lock()
	if !protocol.IsControlLine(line) {
		rm.history = append(rm.history, line)
	}
	conns := make([]*Conn, 0, len(rm.members))
	for _, c := range rm.members {
		if c != nil {
			conns = append(conns, c)
		}
	}
	rm.mu.Unlock()

	for _, c := range conns {
		c.send(line)
	}
}

// History returns a snapshot copy of the full history.
func (rm *Room) History() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]string, len(rm.history))
	copy(out, rm.history)
	return out
}

// RecentHistory returns a snapshot of at most n trailing history lines
// (everything when n <= 0).
func (rm *Room) RecentHistory(n int) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	start := 0
	if n > 0 && len(rm.history) > n {
		start = len(rm.history) - n
	}
	out := make([]string, len(rm.history)-start)
	copy(out, rm.history[start:])
	return out
}
