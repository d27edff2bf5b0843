// Package relay runs the per-connection session loop: join a conversation's
// room, forward inbound utterances to the pipeline and stream room events
// back to the participant.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/log"
	"github.com/vovakirdan/medrelay/internal/metrics"
	"github.com/vovakirdan/medrelay/internal/pipeline"
	"github.com/vovakirdan/medrelay/internal/proto"
	"github.com/vovakirdan/medrelay/internal/store"
	"github.com/vovakirdan/medrelay/internal/utils"
)

// ErrMalformed marks an inbound frame that could not be decoded. The session
// answers it with an error event and keeps reading.
var ErrMalformed = errors.New("malformed inbound event")

// Conn is a bidirectional event stream to one participant.
type Conn interface {
	Read(ctx context.Context) (proto.Inbound, error)
	Write(ctx context.Context, out proto.Outbound) error
}

// Processor runs an utterance through translation and fan-out.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// Conversations resolves conversation ids.
type Conversations interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// Options tunes sessions.
type Options struct {
	Buffer    int
	RateLimit int // utterances per minute, 0 disables
}

// Relay hosts sessions for all conversations.
type Relay struct {
	hub           *core.Hub
	conversations Conversations
	processor     Processor
	metrics       *metrics.Metrics
	opts          Options
	logger        *zerolog.Logger
}

// New creates a relay. Metrics may be nil.
func New(hub *core.Hub, conversations Conversations, processor Processor, m *metrics.Metrics, opts Options, logger *zerolog.Logger) *Relay {
	if logger == nil {
		logger = log.Nop()
	}
	return &Relay{
		hub:           hub,
		conversations: conversations,
		processor:     processor,
		metrics:       m,
		opts:          opts,
		logger:        logger,
	}
}

// Verify checks that a conversation exists before a connection is accepted.
func (r *Relay) Verify(ctx context.Context, conversationID string) error {
	_, err := r.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return core.ErrConversationNotFound
	}
	return err
}

// Serve runs a session until the connection or ctx ends. The participant
// leaves the room and the rest of the room is told before Serve returns,
// also when the session panics; the panic is returned as an error.
func (r *Relay) Serve(ctx context.Context, conversationID string, conn Conn) (err error) {
	client := core.NewClient(utils.NewID(), conversationID, r.opts.Buffer)
	logger := r.logger.With().
		Str("conversation_id", conversationID).
		Str("client_id", client.ID).
		Logger()

	n := r.hub.Join(conversationID, client)
	r.metrics.SessionOpened()
	logger.Info().Int("participants", n).Msg("participant joined")

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errPanic, p)
		}
		if errors.Is(err, errPanic) {
			logger.Error().Err(err).Msg("session loop panicked")
		}
		r.hub.Leave(conversationID, client)
		client.Close()
		r.metrics.SessionClosed()

		left := r.hub.MemberCount(conversationID)
		r.hub.Broadcast(conversationID, core.SystemEvent(conversationID, participantText("left", left), left))
		logger.Info().Int("participants", left).Msg("participant left")
	}()

	r.hub.Broadcast(conversationID, core.SystemEvent(conversationID, participantText("joined", n), n))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{
		relay:   r,
		client:  client,
		conn:    conn,
		limiter: newRateLimiter(r.opts.RateLimit, time.Minute),
		logger:  logger,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- guard(ctx, s.readLoop)
	}()
	go func() {
		errCh <- guard(ctx, s.writeLoop)
	}()

	err = <-errCh
	cancel()
	<-errCh

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

var errPanic = errors.New("session panic")

// guard turns a panic in a session goroutine into an error so the session
// still goes through its leave path.
func guard(ctx context.Context, loop func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errPanic, p)
		}
	}()
	return loop(ctx)
}

func participantText(verb string, n int) string {
	return fmt.Sprintf("A participant %s. %d participant(s) in room.", verb, n)
}

type session struct {
	relay   *Relay
	client  *core.Client
	conn    Conn
	limiter *rateLimiter
	logger  zerolog.Logger
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		in, err := s.conn.Read(ctx)
		if errors.Is(err, ErrMalformed) {
			s.reply(fmt.Errorf("%w: %v", core.ErrBadRequest, err))
			continue
		}
		if err != nil {
			return err
		}

		if !s.limiter.allow() {
			s.reply(core.ErrRateLimited)
			continue
		}

		req, err := requestFrom(s.client.ConversationID, in)
		if err != nil {
			s.reply(err)
			continue
		}

		if _, err := s.relay.processor.Process(ctx, req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Str("role", string(req.Role)).Msg("utterance rejected")
			s.reply(err)
		}
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case event := <-s.client.Events:
			if err := s.conn.Write(ctx, proto.FromEvent(event)); err != nil {
				s.logger.Warn().Err(err).Msg("write event")
				return err
			}
		case <-s.client.Done():
			return core.ErrSlowConsumer
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reply sends an error to this participant only.
func (s *session) reply(err error) {
	if sendErr := s.client.Send(core.ErrorEvent(err)); sendErr != nil {
		s.logger.Debug().Err(sendErr).Msg("drop error reply")
	}
}

func requestFrom(conversationID string, in proto.Inbound) (pipeline.Request, error) {
	kind := store.KindText
	switch in.Type {
	case "", proto.InboundTypeText:
	case proto.InboundTypeAudioTranscription:
		kind = store.KindAudio
	default:
		return pipeline.Request{}, fmt.Errorf("%w: unknown event type %q", core.ErrBadRequest, in.Type)
	}

	role, ok := store.ParseRole(strings.ToLower(strings.TrimSpace(in.Role)))
	if !ok {
		return pipeline.Request{}, core.ErrUnknownRole
	}
	if strings.TrimSpace(in.Content) == "" && (kind != store.KindAudio || len(in.Audio) == 0) {
		return pipeline.Request{}, core.ErrEmptyContent
	}

	return pipeline.Request{
		ConversationID: conversationID,
		Role:           role,
		Kind:           kind,
		Text:           in.Content,
		Audio:          in.Audio,
		AudioFormat:    in.AudioFormat,
		SourceLanguage: in.SourceLanguage,
	}, nil
}
