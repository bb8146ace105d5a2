package funding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/krishiconnect/internal/money"
)

const metadataUserID = "user_id"

// StripeGateway implements Gateway with Stripe PaymentIntents.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway creates a gateway. backends may be nil for the live API.
func NewStripeGateway(secretKey, webhookSecret string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

// CreateIntent creates a PaymentIntent for the amount in paise.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*TopUp, error) {
	d, err := money.ParsePositive(req.Amount)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinor(d)),
		Currency: stripe.String(string(stripe.CurrencyINR)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, req.UserID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &TopUp{
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       fromMinor(pi.Amount),
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
	}, nil
}

// ParseEvent verifies the Stripe-Signature header and decodes PaymentIntent
// events. Other event types come back with only ID and Type set.
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &PaymentEvent{ID: event.ID, Type: string(event.Type)}
	if event.Type != stripe.EventTypePaymentIntentSucceeded && event.Type != stripe.EventTypePaymentIntentPaymentFailed {
		return out, nil
	}
	if event.Data == nil {
		return nil, ErrMalformedEvent
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if pi.ID == "" {
		return nil, errors.Join(ErrMalformedEvent, errors.New("payment intent without id"))
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	out.IntentID = pi.ID
	out.UserID = pi.Metadata[metadataUserID]
	out.Amount = fromMinor(amount)
	return out, nil
}

func toMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromMinor(v int64) string {
	return money.Format(decimal.New(v, -2))
}
