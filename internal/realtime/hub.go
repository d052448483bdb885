// Package realtime carries the websocket layer: room membership, typed
// event fan-out, and the presence relay for collaborative task editing.
package realtime

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
)

// Room name prefixes. A session sits in zero-or-more task rooms, at most one
// user room, and the tab rooms of the tabs it watches.
const (
	roomTask = "task:"
	roomTab  = "tab:"
	roomUser = "user:"
)

// Hub is the room registry. It is an injected service with an explicit
// lifecycle, not a package singleton, so tests run isolated instances.
// Delivery is at-most-once per connected session and best-effort: a session
// whose outbound buffer is full is dropped rather than queued behind.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Session]struct{}
	sessions map[*Session]map[string]struct{}
	closed   bool
}

func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session]map[string]struct{}),
	}
}

// Register adds a session with no room memberships yet.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.close()
		return
	}
	if _, known := h.sessions[s]; !known {
		h.sessions[s] = make(map[string]struct{})
	}
}

// Unregister removes the session from every room and closes its outbound
// channel. Safe to call more than once.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	rooms := h.sessions[s]
	delete(h.sessions, s)
	for room := range rooms {
		h.removeFromRoom(room, s)
	}
	h.mu.Unlock()
	s.close()
}

func (h *Hub) Join(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	memberships, known := h.sessions[s]
	if !known {
		return
	}
	memberships[room] = struct{}{}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
}

func (h *Hub) Leave(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if memberships, known := h.sessions[s]; known {
		delete(memberships, room)
	}
	h.removeFromRoom(room, s)
}

// SetUserRooms replaces the session's user and tab room memberships in one
// step. The "join user tabs" message is idempotent: re-sending it swaps the
// old tab set for the new one. Task rooms are untouched.
func (h *Hub) SetUserRooms(s *Session, userID string, tabIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	memberships, known := h.sessions[s]
	if !known {
		return
	}
	for room := range memberships {
		if strings.HasPrefix(room, roomUser) || strings.HasPrefix(room, roomTab) {
			delete(memberships, room)
			h.removeFromRoom(room, s)
		}
	}
	join := func(room string) {
		memberships[room] = struct{}{}
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[*Session]struct{})
			h.rooms[room] = members
		}
		members[s] = struct{}{}
	}
	join(roomUser + userID)
	for _, tabID := range tabIDs {
		join(roomTab + tabID)
	}
}

// caller must hold h.mu
func (h *Hub) removeFromRoom(room string, s *Session) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Publish sends payload to every session in room.
func (h *Hub) Publish(room string, payload any) {
	h.publish(room, nil, payload)
}

// PublishExcept sends payload to every session in room except one; the
// presence relay uses it to exclude the signal's sender.
func (h *Hub) PublishExcept(room string, except *Session, payload any) {
	h.publish(room, except, payload)
}

func (h *Hub) publish(room string, except *Session, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		log.Printf("realtime: marshal for room %s: %v", room, err)
		return
	}

	h.mu.RLock()
	members := make([]*Session, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		if s == except {
			continue
		}
		members = append(members, s)
	}
	h.mu.RUnlock()

	for _, s := range members {
		if !s.enqueue(encoded) {
			// Slow consumer: drop the session, never block the fan-out.
			log.Printf("realtime: dropping slow session %s (user %s)", s.ID, s.UserID)
			h.Unregister(s)
		}
	}
}

// RoomSize reports the number of sessions in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Shutdown closes every session and rejects further joins.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.rooms = make(map[string]map[*Session]struct{})
	h.sessions = make(map[*Session]map[string]struct{})
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
