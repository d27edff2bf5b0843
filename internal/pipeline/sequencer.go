package pipeline

import "sync"

// sequencer hands out per-conversation tickets in submission order. A ticket
// may persist only after every earlier ticket of the same conversation has
// been released.
type sequencer struct {
	mu    sync.Mutex
	tails map[string]*ticket
}

type ticket struct {
	seq            *sequencer
	conversationID string
	prev           <-chan struct{}
	done           chan struct{}
	once           sync.Once
}

func newSequencer() *sequencer {
	return &sequencer{tails: make(map[string]*ticket)}
}

func (s *sequencer) enter(conversationID string) *ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &ticket{seq: s, conversationID: conversationID, done: make(chan struct{})}
	if tail, ok := s.tails[conversationID]; ok {
		t.prev = tail.done
	}
	s.tails[conversationID] = t
	return t
}

// pending returns how many conversations currently hold tickets.
func (s *sequencer) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}

// wait blocks until the previous ticket is released.
func (t *ticket) wait() {
	if t.prev != nil {
		<-t.prev
	}
}

func (t *ticket) release() {
	t.once.Do(func() {
		close(t.done)
		t.seq.mu.Lock()
		if t.seq.tails[t.conversationID] == t {
			delete(t.seq.tails, t.conversationID)
		}
		t.seq.mu.Unlock()
	})
}

// abandon releases the ticket without persisting. Later tickets must still
// wait for earlier ones, so the release happens once the predecessor is done.
func (t *ticket) abandon() {
	if t.prev == nil {
		t.release()
		return
	}
	go func() {
		t.wait()
		t.release()
	}()
}
