package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mbd888/krishiconnect/internal/retry"
)

// Signature headers set on every webhook delivery.
const (
	HeaderTimestamp = "X-KrishiConnect-Timestamp"
	HeaderSignature = "X-KrishiConnect-Signature"
)

// WebhookSender posts notifications as JSON to an SMS or push relay.
// When a secret is configured each body is signed with HMAC-SHA256 over
// "<timestamp>.<body>".
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender creates a sender for url. An empty secret sends unsigned.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	UserID   string    `json:"userId"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Send delivers one message. 4xx responses are permanent; anything else
// that fails may be retried by the dispatcher.
func (s *WebhookSender) Send(ctx context.Context, m Message) error {
	payload, err := json.Marshal(webhookPayload{
		UserID:   m.UserID,
		Subject:  m.Subject,
		Body:     m.Body,
		QueuedAt: m.QueuedAt,
	})
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal notification: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(HeaderTimestamp, ts)
	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(s.secret, ts, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("notification rejected: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("notification relay returned status %d", resp.StatusCode)
	}
}

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<payload>".
func Sign(secret, timestamp string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
