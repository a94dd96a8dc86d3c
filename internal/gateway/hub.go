package gateway

import "sync"

// hub tracks which sockets sit in which game room.
type hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[*Connection]struct{})}
}

func (h *hub) add(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		members = make(map[*Connection]struct{})
		h.rooms[c.room] = members
	}
	members[c] = struct{}{}
}

// remove reports whether c was still registered.
func (h *hub) remove(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
	return true
}

// broadcast queues msg on every socket in room and returns how many took it.
func (h *hub) broadcast(room string, msg *Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.rooms[room] {
		if err := c.SendMessage(msg); err == nil {
			sent++
		}
	}
	return sent
}

func (h *hub) connections() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Connection
	for _, members := range h.rooms {
		for c := range members {
			out = append(out, c)
		}
	}
	return out
}

func (h *hub) size() (rooms, sockets int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, members := range h.rooms {
		sockets += len(members)
	}
	return len(h.rooms), sockets
}
