package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/money"
)

// Service starts top-ups and credits wallets from provider webhooks.
type Service struct {
	gateway  Gateway
	deposits Depositor
	logger   *slog.Logger
}

// NewService creates a funding service. gateway may be nil when no
// provider is configured.
func NewService(gateway Gateway, deposits Depositor) *Service {
	return &Service{gateway: gateway, deposits: deposits, logger: slog.Default()}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Configured reports whether a payment provider is wired.
func (s *Service) Configured() bool { return s.gateway != nil }

// CreateTopUp starts a payment of amount into userID's wallet.
func (s *Service) CreateTopUp(ctx context.Context, userID, amount, idempotencyKey string) (*TopUp, error) {
	if s.gateway == nil {
		return nil, ErrUnconfigured
	}
	normalized, err := money.Normalize(amount)
	if err != nil {
		return nil, ledger.ErrInvalidAmount
	}
	if _, err := money.ParsePositive(normalized); err != nil {
		return nil, ledger.ErrInvalidAmount
	}

	top, err := s.gateway.CreateIntent(ctx, IntentRequest{UserID: userID, Amount: normalized, IdempotencyKey: idempotencyKey})
	if err != nil {
		return nil, err
	}
	s.logger.Info("top-up started", "userId", userID, "amount", normalized, "intentId", top.IntentID)
	return top, nil
}

// HandleWebhook verifies and applies a provider notification. Succeeded
// payments credit the wallet with the intent id as reference, so
// redelivered events are acknowledged without a second credit.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	if s.gateway == nil {
		return nil, ErrUnconfigured
	}
	ev, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		return nil, err
	}
	out := &Outcome{EventType: ev.Type}

	switch ev.Type {
	case EventSucceeded:
	case EventFailed:
		s.logger.Warn("top-up payment failed", "intentId", ev.IntentID, "userId", ev.UserID)
		return out, nil
	default:
		return out, nil
	}

	if ev.UserID == "" {
		return nil, fmt.Errorf("%w: intent %s has no user", ErrMalformedEvent, ev.IntentID)
	}
	_, txn, err := s.deposits.Deposit(ctx, ev.UserID, ev.Amount, ev.IntentID)
	switch {
	case errors.Is(err, ledger.ErrDuplicateReference):
		out.Duplicate = true
		return out, nil
	case err != nil:
		s.logger.Error("CRITICAL: payment succeeded but wallet credit failed",
			"intentId", ev.IntentID, "userId", ev.UserID, "amount", ev.Amount, "error", err)
		return nil, err
	}
	out.Credited = true
	out.Transaction = txn
	return out, nil
}
