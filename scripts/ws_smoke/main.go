package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/medrelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:8080/ws", "WebSocket base address")
	conversation := flag.String("conversation", "", "conversation id to join (required)")
	role := flag.String("role", "doctor", "speaker role: doctor or patient")
	lang := flag.String("lang", "en", "source language of the text")
	text := flag.String("text", "How are you feeling today?", "utterance to send")
	timeout := flag.Duration("timeout", 30*time.Second, "total timeout for the run")
	flag.Parse()

	if *conversation == "" {
		return fmt.Errorf("-conversation is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *base+"/"+*conversation, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, conn, proto.Inbound{
		Type:           proto.InboundTypeText,
		Role:           *role,
		Content:        *text,
		SourceLanguage: *lang,
	}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			if websocket.CloseStatus(err) == 4004 {
				return fmt.Errorf("conversation %s not found", *conversation)
			}
			return fmt.Errorf("read: %w", err)
		}

		switch outbound.Type {
		case proto.OutboundTypeSystem:
			fmt.Printf("system: %s\n", outbound.SystemText)
		case proto.OutboundTypeError:
			fmt.Printf("error: %s (%s)\n", outbound.Error, outbound.Code)
		case proto.OutboundTypeMessage:
			m := outbound.Message
			fmt.Printf("message %s [%s] %s -> %s\n", m.ID, m.Role, m.OriginalText, deref(m.TranslatedText))
			if m.TTSAudioPath != nil {
				fmt.Printf("  speech: /api/audio/%s\n", *m.TTSAudioPath)
			}
			return nil
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
