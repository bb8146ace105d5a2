package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mbd888/krishiconnect/internal/idgen"
	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/mbd888/krishiconnect/internal/traces"
)

// Service joins the hub, the relay and the chat log.
type Service struct {
	hub      *Hub
	relay    *Relay
	messages MessageStore
	authz    Authorizer
	logger   *slog.Logger
}

// NewService creates a negotiation service and installs its chat handler
// on the hub.
func NewService(hub *Hub, messages MessageStore, authz Authorizer) *Service {
	s := &Service{hub: hub, messages: messages, authz: authz, logger: slog.Default()}
	hub.OnChat(func(ctx context.Context, from Sender, req ChatRequest) error {
		_, err := s.SendMessage(ctx, from, req)
		return err
	})
	return s
}

// WithRelay fans events out through Redis.
func (s *Service) WithRelay(r *Relay) *Service {
	s.relay = r
	return s
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Hub returns the room hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Run starts the hub and, when configured, the relay subscriber. It blocks
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if s.relay != nil {
		go s.relay.Run(ctx, s.hub.Broadcast)
	}
	s.hub.Run(ctx)
}

// Publish broadcasts an event to the contract's room. With a relay the
// event travels through Redis; if Redis is down it is still delivered to
// local clients and the error is returned.
func (s *Service) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if s.relay != nil {
		err := s.relay.Publish(ctx, &e)
		if err == nil {
			return nil
		}
		s.hub.Broadcast(&e)
		return fmt.Errorf("relay publish: %w", err)
	}
	s.hub.Broadcast(&e)
	return nil
}

// Authorize checks that userID may join or read the contract's room.
func (s *Service) Authorize(ctx context.Context, contractID, userID string) error {
	ok, err := s.authz.IsParty(ctx, contractID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParty
	}
	return nil
}

// SendMessage validates, persists and broadcasts a chat line.
func (s *Service) SendMessage(ctx context.Context, from Sender, req ChatRequest) (*Message, error) {
	ctx, span := traces.StartSpan(ctx, "negotiation.SendMessage", traces.ContractID(from.ContractID), traces.UserID(from.UserID))
	defer span.End()

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, ErrMessageTooBig
	}
	msg := &Message{
		ID:         idgen.WithPrefix(idgen.Message),
		ContractID: from.ContractID,
		SenderID:   from.UserID,
		Message:    text,
		CreatedAt:  time.Now().UTC(),
	}
	if req.ProposedPrice != "" {
		p, err := money.Normalize(req.ProposedPrice)
		if err != nil {
			return nil, fmt.Errorf("proposed price: %w", err)
		}
		msg.ProposedPrice = p
	}
	if req.ProposedQuantity != "" {
		q, err := money.NormalizeQuantity(req.ProposedQuantity)
		if err != nil {
			return nil, fmt.Errorf("proposed quantity: %w", err)
		}
		msg.ProposedQuantity = q
	}

	if err := s.Authorize(ctx, from.ContractID, from.UserID); err != nil {
		return nil, err
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if err := s.Publish(ctx, Event{
		Type:         EventChat,
		ContractID:   msg.ContractID,
		SenderID:     msg.SenderID,
		SenderRole:   from.Role,
		Quantity:     msg.ProposedQuantity,
		PricePerUnit: msg.ProposedPrice,
		Message:      msg.Message,
		Timestamp:    msg.CreatedAt,
	}); err != nil {
		s.logger.Warn("chat broadcast degraded", "contractId", msg.ContractID, "error", err)
	}
	return msg, nil
}

// History returns the most recent chat lines of a contract, oldest first.
func (s *Service) History(ctx context.Context, contractID, userID string, limit int) ([]*Message, error) {
	if err := s.Authorize(ctx, contractID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.messages.ListMessages(ctx, contractID, limit)
}
