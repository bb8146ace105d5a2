package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel negotiation events travel on.
const DefaultChannel = "krishiconnect:negotiation"

// ConnectRedis initializes a Redis client from URL or host:port input.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Relay fans events out to every server instance through Redis pub/sub.
// Each instance delivers what it receives to its own hub, so a client sees
// events published on any instance.
type Relay struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRelay creates a relay on DefaultChannel.
func NewRelay(client *redis.Client, logger *slog.Logger) *Relay {
	return &Relay{client: client, channel: DefaultChannel, logger: logger}
}

// Publish sends an event to all instances, this one included.
func (r *Relay) Publish(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Run delivers relayed events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, deliver func(*Event)) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				r.logger.Warn("dropping malformed relayed event", "error", err)
				continue
			}
			deliver(&e)
		}
	}
}

// Ping checks the Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
