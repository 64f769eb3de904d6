package room

import (
	"log/slog"
	"sync"
)

// Hub is the registry of live rooms. Rooms are created lazily on the
// first join and destroyed when the last listener leaves or the
// session ends.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room

	// onEmpty, if set, runs after a room is destroyed.
	onEmpty func(sessionID string)
}

// NewHub creates an empty registry.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		rooms:  make(map[string]*Room),
	}
}

// SetOnEmpty installs a callback invoked after a room is destroyed.
func (h *Hub) SetOnEmpty(fn func(sessionID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEmpty = fn
}

// Join adds a listener to the session's room, creating it if needed.
func (h *Hub) Join(sessionID string, conn Handle) *Room {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if !ok {
		r = newRoom(sessionID, h.logger)
		h.rooms[sessionID] = r
		h.logger.Info("room created", "session_id", sessionID)
	}
	h.mu.Unlock()

	size := r.add(conn)
	h.logger.Debug("listener joined", "session_id", sessionID, "listeners", size)
	return r
}

// Leave removes a listener; the room is destroyed when it empties.
func (h *Hub) Leave(sessionID, connID string) {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}

	if r.remove(connID) > 0 {
		return
	}

	h.mu.Lock()
	// Re-check under the lock; a new listener may have joined.
	if r2, ok := h.rooms[sessionID]; ok && r2 == r && r.Size() == 0 {
		delete(h.rooms, sessionID)
		h.logger.Info("room destroyed", "session_id", sessionID)
		if h.onEmpty != nil {
			defer h.onEmpty(sessionID)
		}
	}
	h.mu.Unlock()
}

// Get returns the session's room, if any.
func (h *Hub) Get(sessionID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[sessionID]
	return r, ok
}

// Broadcast sends a message to the session's room, if it exists.
// Returns how many listeners dropped it.
func (h *Hub) Broadcast(sessionID string, msg any) int {
	r, ok := h.Get(sessionID)
	if !ok {
		return 0
	}
	return r.Broadcast(msg)
}

// Len returns the live room count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// EndSession kicks every listener and destroys the room. Speaker
// streams are torn down by the caller.
func (h *Hub) EndSession(sessionID string) {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if ok {
		delete(h.rooms, sessionID)
	}
	onEmpty := h.onEmpty
	h.mu.Unlock()

	if !ok {
		return
	}
	h.logger.Info("session ended, closing room", "session_id", sessionID)
	r.kickAll()
	if onEmpty != nil {
		onEmpty(sessionID)
	}
}

// Sessions lists the session IDs with live rooms.
func (h *Hub) Sessions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	return out
}
