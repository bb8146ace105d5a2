// Package funding tops up wallets through an external payment provider.
// A top-up is a provider payment intent; the wallet is credited only when
// the provider's signed webhook reports the payment as succeeded.
package funding

import (
	"context"
	"errors"

	"github.com/mbd888/krishiconnect/internal/ledger"
)

var (
	ErrUnconfigured     = errors.New("funding: payment provider not configured")
	ErrInvalidSignature = errors.New("funding: webhook signature verification failed")
	ErrMalformedEvent   = errors.New("funding: malformed payment event")
)

// Currency of every top-up.
const Currency = "inr"

// Payment event types the service reacts to.
const (
	EventSucceeded = "payment_intent.succeeded"
	EventFailed    = "payment_intent.payment_failed"
)

// TopUp is a pending provider payment the client completes.
type TopUp struct {
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// IntentRequest asks the provider for a payment intent.
type IntentRequest struct {
	UserID         string
	Amount         string
	IdempotencyKey string
}

// PaymentEvent is a verified provider notification.
type PaymentEvent struct {
	ID       string
	Type     string
	IntentID string
	UserID   string
	Amount   string
}

// Gateway creates payment intents and verifies webhook payloads.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*TopUp, error)
	ParseEvent(payload []byte, signature string) (*PaymentEvent, error)
}

// Depositor credits a wallet once per external reference.
type Depositor interface {
	Deposit(ctx context.Context, userID, amount, reference string) (*ledger.Wallet, *ledger.Transaction, error)
}

// Outcome reports what a webhook delivery did.
type Outcome struct {
	EventType   string              `json:"eventType"`
	Credited    bool                `json:"credited"`
	Duplicate   bool                `json:"duplicate,omitempty"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}
