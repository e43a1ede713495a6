package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Presence maps each identity to its live notification connection
type Presence struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Client
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[uuid.UUID]*Client)}
}

// Register makes c the live connection of userID, replacing any older one
func (p *Presence) Register(userID uuid.UUID, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userID] = c
}

// Unregister removes userID only while c is still its registered
// connection, so a stale connection closing cannot evict a newer one
func (p *Presence) Unregister(userID uuid.UUID, c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[userID] != c {
		return false
	}
	delete(p.conns, userID)
	return true
}

func (p *Presence) Online(userID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.conns[userID]
	return ok
}

// Push sends an event to the live connection of userID and reports whether
// one existed
func (p *Presence) Push(userID uuid.UUID, event string, payload any) bool {
	p.mu.RLock()
	c, ok := p.conns[userID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Send(event, payload)
}
