package realtime

import (
	"sync"

	"tradehub/internal/util"

	"github.com/google/uuid"
)

type member struct {
	client *Client
	name   string
}

// room is one broadcast group. mu guards membership and is never held
// across I/O; seq orders persist-then-broadcast of messages in the room.
type room struct {
	key string
	seq sync.Mutex

	mu      sync.Mutex
	members map[uuid.UUID]member
	removed bool
}

func (r *room) count() int {
	return len(r.members)
}

func (r *room) has(userID uuid.UUID) bool {
	_, ok := r.members[userID]
	return ok
}

// broadcast queues an event for every member except skip. Callers hold r.mu.
func (r *room) broadcast(event string, payload any, skip uuid.UUID) {
	for id, m := range r.members {
		if id == skip {
			continue
		}
		m.client.Send(event, payload)
	}
}

// roomTable holds the rooms of one kind and the set of rooms each identity
// has joined. Lock order is room.mu before roomTable.mu.
type roomTable struct {
	kind string

	mu     sync.Mutex
	rooms  map[string]*room
	joined map[uuid.UUID]map[string]struct{}
}

func newRoomTable(kind string) *roomTable {
	return &roomTable{
		kind:   kind,
		rooms:  make(map[string]*room),
		joined: make(map[uuid.UUID]map[string]struct{}),
	}
}

// lock returns the room with its membership lock held. When create is false
// and the room does not exist it returns nil.
func (t *roomTable) lock(key string, create bool) *room {
	for {
		t.mu.Lock()
		r, ok := t.rooms[key]
		if !ok {
			if !create {
				t.mu.Unlock()
				return nil
			}
			r = &room{key: key, members: make(map[uuid.UUID]member)}
			t.rooms[key] = r
		}
		t.mu.Unlock()

		r.mu.Lock()
		if !r.removed {
			return r
		}
		// Emptied and dropped between lookup and lock.
		r.mu.Unlock()
	}
}

// unlock releases a room and drops it from the table once empty
func (t *roomTable) unlock(r *room) {
	if len(r.members) == 0 && !r.removed {
		r.removed = true
		t.mu.Lock()
		if t.rooms[r.key] == r {
			delete(t.rooms, r.key)
		}
		t.mu.Unlock()
	}
	r.mu.Unlock()
}

// get returns an existing room without locking it
func (t *roomTable) get(key string) *room {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rooms[key]
}

// add puts userID in r on connection c and reports whether the identity was
// new to the room. Rejoining only refreshes the connection. Callers hold r.mu.
func (t *roomTable) add(r *room, userID uuid.UUID, c *Client, name string) bool {
	_, existed := r.members[userID]
	r.members[userID] = member{client: c, name: name}
	if existed {
		return false
	}
	t.mu.Lock()
	set, ok := t.joined[userID]
	if !ok {
		set = make(map[string]struct{})
		t.joined[userID] = set
	}
	set[r.key] = struct{}{}
	t.mu.Unlock()
	util.RoomMembers.WithLabelValues(t.kind).Inc()
	return true
}

// remove takes userID out of r. A non-nil c must be the member's current
// connection. Callers hold r.mu.
func (t *roomTable) remove(r *room, userID uuid.UUID, c *Client) (member, bool) {
	m, ok := r.members[userID]
	if !ok || (c != nil && m.client != c) {
		return member{}, false
	}
	delete(r.members, userID)
	t.mu.Lock()
	if set, ok := t.joined[userID]; ok {
		delete(set, r.key)
		if len(set) == 0 {
			delete(t.joined, userID)
		}
	}
	t.mu.Unlock()
	util.RoomMembers.WithLabelValues(t.kind).Dec()
	return m, true
}

// roomsOf returns the keys of every room userID has joined
func (t *roomTable) roomsOf(userID uuid.UUID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.joined[userID]))
	for k := range t.joined[userID] {
		keys = append(keys, k)
	}
	return keys
}

// size returns the number of live rooms
func (t *roomTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}
