package core

import "sync"

// Client is a connected participant as seen by the core layer.
// Events is drained by the transport's write loop; it is never closed,
// Done signals that the client is gone instead.
type Client struct {
	ID             string
	ConversationID string
	Events         chan *Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with an outbound buffer of the given size.
func NewClient(id, conversationID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 8
	}
	return &Client{
		ID:             id,
		ConversationID: conversationID,
		Events:         make(chan *Event, buffer),
		done:           make(chan struct{}),
	}
}

// Send queues an event without blocking.
func (c *Client) Send(ev *Event) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.Events <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close marks the client as gone. Safe to call many times.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the client has been closed or evicted.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
