package core

import "sync"

// Room groups clients connected to the same conversation.
// A room is retired (closed) once it becomes empty and is never reused;
// the hub replaces it with a fresh room on the next join.
type Room struct {
	ConversationID string

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// NewRoom constructs a room with no clients.
func NewRoom(conversationID string) *Room {
	return &Room{
		ConversationID: conversationID,
		clients:        make(map[*Client]struct{}),
	}
}

// addClient inserts a client. Returns false if the room was already retired.
func (r *Room) addClient(c *Client) (size int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, false
	}
	r.clients[c] = struct{}{}
	return len(r.clients), true
}

// removeClient deletes a client and reports whether the room is now retired.
func (r *Room) removeClient(c *Client) (removed, retired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c]; exists {
		delete(r.clients, c)
		removed = true
	}
	if len(r.clients) == 0 && !r.closed {
		r.closed = true
		retired = true
	}
	return removed, retired
}

// broadcast sends an event to all clients in the room. Members whose send
// fails are dropped and closed; they are not retried.
func (r *Room) broadcast(event *Event) (delivered int, pruned []*Client, retired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for client := range r.clients {
		if err := client.Send(event); err != nil {
			pruned = append(pruned, client)
			continue
		}
		delivered++
	}

	for _, client := range pruned {
		delete(r.clients, client)
		client.Close()
	}
	if len(pruned) > 0 && len(r.clients) == 0 && !r.closed {
		r.closed = true
		retired = true
	}
	return delivered, pruned, retired
}

// Size returns the number of clients currently in the room.
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Has reports whether the client is a member.
func (r *Room) Has(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[c]
	return ok
}
