package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/vovakirdan/medrelay/internal/store"
)

func TestHubJoinBroadcastAndLeave(t *testing.T) {
	hub := NewHub()

	alice := NewClient("a", "conv-1", 8)
	bob := NewClient("b", "conv-1", 8)

	if n := hub.Join("conv-1", alice); n != 1 {
		t.Fatalf("first join size = %d, want 1", n)
	}
	if n := hub.Join("conv-1", bob); n != 2 {
		t.Fatalf("second join size = %d, want 2", n)
	}

	msg := &store.Message{ID: "m1", ConversationID: "conv-1", OriginalText: "hi"}
	if delivered := hub.Broadcast("conv-1", MessageEvent(msg)); delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}

	ev := mustEvent(t, bob.Events, EventMessage)
	if ev.Message.ID != "m1" {
		t.Fatalf("unexpected message event: %+v", ev)
	}
	mustEvent(t, alice.Events, EventMessage)

	hub.Leave("conv-1", alice)
	if n := hub.MemberCount("conv-1"); n != 1 {
		t.Fatalf("member count after leave = %d, want 1", n)
	}

	hub.Broadcast("conv-1", SystemEvent("conv-1", "left", 1))
	mustEvent(t, bob.Events, EventSystem)
	mustNoEvent(t, alice.Events)
}

func TestHubMemberCountAfterJoinsAndLeaves(t *testing.T) {
	tests := []struct {
		joins, leaves int
	}{
		{1, 0}, {1, 1}, {5, 2}, {5, 5}, {10, 9},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d", tt.joins, tt.leaves), func(t *testing.T) {
			hub := NewHub()
			clients := make([]*Client, tt.joins)
			for i := range clients {
				clients[i] = NewClient(fmt.Sprint(i), "room", 1)
				hub.Join("room", clients[i])
			}
			for i := 0; i < tt.leaves; i++ {
				hub.Leave("room", clients[i])
			}

			if got, want := hub.MemberCount("room"), tt.joins-tt.leaves; got != want {
				t.Fatalf("MemberCount = %d, want %d", got, want)
			}
			wantRooms := 1
			if tt.joins == tt.leaves {
				wantRooms = 0
			}
			if got := hub.RoomCount(); got != wantRooms {
				t.Fatalf("RoomCount = %d, want %d", got, wantRooms)
			}
		})
	}
}

func TestHubLeaveIsIdempotent(t *testing.T) {
	hub := NewHub()
	alice := NewClient("a", "conv", 1)
	bob := NewClient("b", "conv", 1)

	hub.Join("conv", alice)
	hub.Join("conv", bob)

	hub.Leave("conv", alice)
	hub.Leave("conv", alice)
	hub.Leave("ghost", alice)

	if n := hub.MemberCount("conv"); n != 1 {
		t.Fatalf("member count = %d, want 1", n)
	}
}

func TestHubUnknownConversation(t *testing.T) {
	hub := NewHub()
	if n := hub.MemberCount("nope"); n != 0 {
		t.Fatalf("MemberCount = %d, want 0", n)
	}
	if n := hub.Broadcast("nope", SystemEvent("nope", "x", 0)); n != 0 {
		t.Fatalf("Broadcast delivered = %d, want 0", n)
	}
}

func TestHubBroadcastPrunesFailedMembers(t *testing.T) {
	hub := NewHub()

	var pruned []string
	hub.OnPrune = func(_ string, c *Client) { pruned = append(pruned, c.ID) }

	healthy := NewClient("healthy", "conv", 4)
	slow := NewClient("slow", "conv", 1)
	gone := NewClient("gone", "conv", 4)
	hub.Join("conv", healthy)
	hub.Join("conv", slow)
	hub.Join("conv", gone)
	gone.Close()

	// Fill the slow client's buffer so the broadcast cannot be queued.
	if err := slow.Send(SystemEvent("conv", "filler", 3)); err != nil {
		t.Fatalf("prime slow client: %v", err)
	}

	delivered := hub.Broadcast("conv", SystemEvent("conv", "hello", 3))
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if n := hub.MemberCount("conv"); n != 1 {
		t.Fatalf("member count after prune = %d, want 1", n)
	}
	if len(pruned) != 2 {
		t.Fatalf("pruned = %v, want 2 clients", pruned)
	}
	select {
	case <-slow.Done():
	default:
		t.Fatalf("pruned client was not closed")
	}
	mustEvent(t, healthy.Events, EventSystem)

	// Explicit leave after eviction is a no-op.
	hub.Leave("conv", slow)
	if n := hub.MemberCount("conv"); n != 1 {
		t.Fatalf("member count = %d, want 1", n)
	}
}

func TestHubPruningLastMemberRemovesRoom(t *testing.T) {
	hub := NewHub()
	c := NewClient("c", "conv", 1)
	hub.Join("conv", c)
	c.Close()

	hub.Broadcast("conv", SystemEvent("conv", "x", 1))
	if hub.RoomCount() != 0 {
		t.Fatalf("expected empty room to be removed")
	}

	// The conversation can be joined again afterwards.
	fresh := NewClient("fresh", "conv", 1)
	if n := hub.Join("conv", fresh); n != 1 {
		t.Fatalf("join after retire size = %d, want 1", n)
	}
}

func TestHubBroadcastIsFIFOPerRecipient(t *testing.T) {
	hub := NewHub()
	const total = 200

	listener := NewClient("listener", "conv", total)
	hub.Join("conv", listener)

	for i := 0; i < total; i++ {
		msg := &store.Message{ID: fmt.Sprint(i), ConversationID: "conv"}
		hub.Broadcast("conv", MessageEvent(msg))
	}

	for i := 0; i < total; i++ {
		ev := <-listener.Events
		if ev.Message.ID != fmt.Sprint(i) {
			t.Fatalf("event %d has id %s", i, ev.Message.ID)
		}
	}
}

func TestHubConcurrentJoinLeave(t *testing.T) {
	hub := NewHub()
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv := fmt.Sprintf("conv-%d", i%5)
			c := NewClient(fmt.Sprint(i), conv, 4)
			for j := 0; j < 20; j++ {
				hub.Join(conv, c)
				hub.Broadcast(conv, SystemEvent(conv, "tick", 0))
				hub.Leave(conv, c)
			}
		}(i)
	}
	wg.Wait()

	if n := hub.RoomCount(); n != 0 {
		t.Fatalf("RoomCount = %d after all clients left, want 0", n)
	}
}
