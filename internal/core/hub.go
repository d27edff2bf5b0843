package core

import "sync"

// Hub is the room registry: for every conversation with live connections it
// holds exactly one Room. The hub lock only guards the map; member sets are
// guarded per room so unrelated conversations never block each other.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room

	// OnPrune, if set, is called for every client evicted during broadcast.
	OnPrune func(conversationID string, c *Client)
}

// NewHub creates an empty room registry.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// Join registers the client under the conversation's room, creating the room
// if needed, and returns the room size after joining.
func (h *Hub) Join(conversationID string, c *Client) int {
	for {
		room := h.roomFor(conversationID, true)
		if size, ok := room.addClient(c); ok {
			return size
		}
		// Lost a race with the last leave; drop the retired room and retry.
		h.dropRoom(conversationID, room)
	}
}

// Leave removes the client from the room. Leaving twice is a no-op.
func (h *Hub) Leave(conversationID string, c *Client) {
	room := h.roomFor(conversationID, false)
	if room == nil {
		return
	}
	if _, retired := room.removeClient(c); retired {
		h.dropRoom(conversationID, room)
	}
}

// Broadcast delivers the event to every member of the room and returns how
// many members received it. Members that cannot take the event are evicted.
func (h *Hub) Broadcast(conversationID string, event *Event) int {
	room := h.roomFor(conversationID, false)
	if room == nil {
		return 0
	}

	delivered, pruned, retired := room.broadcast(event)
	if retired {
		h.dropRoom(conversationID, room)
	}
	if h.OnPrune != nil {
		for _, c := range pruned {
			h.OnPrune(conversationID, c)
		}
	}
	return delivered
}

// MemberCount returns the room size, or 0 for an unknown conversation.
func (h *Hub) MemberCount(conversationID string) int {
	room := h.roomFor(conversationID, false)
	if room == nil {
		return 0
	}
	return room.Size()
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Has reports whether the client is currently a member of the room.
func (h *Hub) Has(conversationID string, c *Client) bool {
	room := h.roomFor(conversationID, false)
	return room != nil && room.Has(c)
}

func (h *Hub) roomFor(conversationID string, create bool) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[conversationID]
	if !ok && create {
		room = NewRoom(conversationID)
		h.rooms[conversationID] = room
	}
	return room
}

// dropRoom removes the room entry only if it still points at the retired room.
func (h *Hub) dropRoom(conversationID string, room *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[conversationID] == room {
		delete(h.rooms, conversationID)
	}
}
