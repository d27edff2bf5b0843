package core

import (
	"fmt"
	"testing"

	"github.com/vovakirdan/medrelay/internal/store"
)

func benchmarkRoomBroadcast(b *testing.B, recipients int) {
	hub := NewHub()

	clients := make([]*Client, 0, recipients)
	for i := range recipients {
		c := NewClient(fmt.Sprintf("c%d", i), "bench", 1)
		hub.Join("bench", c)
		clients = append(clients, c)
	}

	event := MessageEvent(&store.Message{ID: "m", ConversationID: "bench", OriginalText: "payload"})

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Broadcast("bench", event)
		for _, c := range clients {
			<-c.Events
		}
	}
}

func BenchmarkRoomBroadcast_10(b *testing.B)  { benchmarkRoomBroadcast(b, 10) }
func BenchmarkRoomBroadcast_100(b *testing.B) { benchmarkRoomBroadcast(b, 100) }
func BenchmarkRoomBroadcast_500(b *testing.B) { benchmarkRoomBroadcast(b, 500) }
