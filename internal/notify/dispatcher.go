package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/mbd888/krishiconnect/internal/metrics"
	"github.com/mbd888/krishiconnect/internal/retry"
)

// Dispatcher defaults.
const (
	DefaultWorkers     = 16
	DefaultAttempts    = 3
	DefaultBackoff     = 500 * time.Millisecond
	DefaultSendTimeout = 10 * time.Second
)

// Dispatcher sends notifications asynchronously on a bounded pool. When
// every worker is busy new notifications are dropped, never queued
// unboundedly.
type Dispatcher struct {
	pool     *ants.Pool
	sender   Sender
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetry sets the attempts and base backoff per message.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		d.attempts = attempts
		d.backoff = backoff
	}
}

// WithSendTimeout bounds every delivery attempt sequence.
func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher starts a pool of workers goroutines in front of sender.
func NewDispatcher(sender Sender, workers int, opts ...Option) (*Dispatcher, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	d := &Dispatcher{
		sender:   sender,
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
		timeout:  DefaultSendTimeout,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			metrics.NotificationsTotal.WithLabelValues("panic").Inc()
			d.logger.Error("notification sender panicked", "panic", fmt.Sprint(p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create notification pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

// Notify queues a notification and returns immediately. The request
// context's values are kept but its cancellation is not.
func (d *Dispatcher) Notify(ctx context.Context, userID, subject, body string) {
	m := Message{UserID: userID, Subject: subject, Body: body, QueuedAt: d.now()}
	detached := context.WithoutCancel(ctx)

	err := d.pool.Submit(func() { d.deliver(detached, m) })
	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload):
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("notification dropped, dispatcher saturated", "userId", userID, "subject", subject)
	default:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("notification dropped", "userId", userID, "subject", subject, "error", err)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var rejected bool
	err := retry.Do(ctx, d.attempts, d.backoff, func() error {
		err := d.sender.Send(ctx, m)
		rejected = retry.IsPermanent(err)
		return err
	})
	if err != nil {
		result := "failed"
		if rejected {
			result = "rejected"
		}
		metrics.NotificationsTotal.WithLabelValues(result).Inc()
		d.logger.Error("notification delivery failed", "userId", m.UserID, "subject", m.Subject, "result", result, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
}

// Running returns the number of deliveries in flight.
func (d *Dispatcher) Running() int { return d.pool.Running() }

// Close stops accepting notifications and waits up to timeout for
// in-flight deliveries.
func (d *Dispatcher) Close(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}
