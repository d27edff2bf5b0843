package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/medrelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:8080/ws", "WebSocket base address")
	conversation := flag.String("conversation", "", "conversation id to join (required)")
	role := flag.String("role", "patient", "speaker role: doctor or patient")
	lang := flag.String("lang", "auto", "source language, auto to detect")
	flag.Parse()

	if *conversation == "" {
		return errors.New("-conversation is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *base+"/"+*conversation, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to conversation %s as %s\n", *conversation, *role)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn, *role)
	}()

	writeLoop(ctx, conn, *role, *lang)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn, self string) {
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			case 4004:
				log.Printf("conversation not found")
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch outbound.Type {
		case proto.OutboundTypeMessage:
			m := outbound.Message
			// Show each side the text in their own language.
			text := m.OriginalText
			if m.Role != self && m.TranslatedText != nil {
				text = *m.TranslatedText
			}
			fmt.Printf("%s: %s\n", m.Role, text)
		case proto.OutboundTypeSystem:
			fmt.Printf("* %s\n", outbound.SystemText)
		case proto.OutboundTypeError:
			fmt.Printf("! %s\n", outbound.Error)
		default:
			fmt.Printf("type=%s\n", outbound.Type)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, role, lang string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			if err := wsjson.Write(ctx, conn, proto.Inbound{
				Type:           proto.InboundTypeText,
				Role:           role,
				Content:        text,
				SourceLanguage: lang,
			}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
