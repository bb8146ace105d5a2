// Package notify delivers short user notifications off the request path.
//
// Delivery itself is pluggable through Sender; the built-in LogSender only
// records the message. Dispatcher runs senders on a bounded goroutine pool
// and retries transient failures.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Message is one notification for one user.
type Message struct {
	UserID   string
	Subject  string
	Body     string
	QueuedAt time.Time
}

// Sender delivers a message through some channel (SMS, push, email).
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, m Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log sender. A nil logger uses slog.Default().
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, m Message) error {
	s.logger.InfoContext(ctx, "notification",
		"userId", m.UserID,
		"subject", m.Subject,
		"body", m.Body,
	)
	return nil
}
