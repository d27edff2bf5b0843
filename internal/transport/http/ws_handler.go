package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/proto"
	"github.com/vovakirdan/medrelay/internal/relay"
)

// StatusConversationNotFound closes sockets opened for unknown conversations.
const StatusConversationNotFound websocket.StatusCode = 4004

// WSHandler upgrades HTTP connections and hands them to the relay.
type WSHandler struct {
	relay    *relay.Relay
	maxBytes int64
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(r *relay.Relay, maxMessageBytes int64, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{relay: r, maxBytes: maxMessageBytes, log: logger}
}

// ServeHTTP handles /ws/{conversation_id}. It is mounted outside gin, which
// does not let a handler hijack its response writer.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", conversationID).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.maxBytes > 0 {
		conn.SetReadLimit(h.maxBytes)
	}

	if err := h.relay.Verify(ctx, conversationID); err != nil {
		if errors.Is(err, core.ErrConversationNotFound) {
			conn.Close(StatusConversationNotFound, "Conversation not found")
			return
		}
		h.log.Error().Err(err).Str("conversation_id", conversationID).Msg("verify conversation")
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	err = h.relay.Serve(ctx, conversationID, &wsConn{conn: conn})

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "session ended"
			if errors.Is(err, core.ErrSlowConsumer) {
				status = websocket.StatusPolicyViolation
				reason = "too slow"
			}
			h.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// wsConn adapts a websocket to relay.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (proto.Inbound, error) {
	typ, data, err := w.conn.Read(ctx)
	if err != nil {
		return proto.Inbound{}, err
	}
	if typ != websocket.MessageText {
		return proto.Inbound{}, fmt.Errorf("%w: expected a text frame", relay.ErrMalformed)
	}

	var in proto.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return proto.Inbound{}, fmt.Errorf("%w: %v", relay.ErrMalformed, err)
	}
	return in, nil
}

func (w *wsConn) Write(ctx context.Context, out proto.Outbound) error {
	return wsjson.Write(ctx, w.conn, out)
}
