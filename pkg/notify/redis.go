package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream alerts are published to.
const DefaultStream = "kairos:alerts"

// RedisTransport publishes notifications to a Redis stream for downstream
// consumers. A rule destination, when set, names the stream.
type RedisTransport struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisTransport creates a stream publisher. maxLen caps the stream
// length approximately; zero leaves it unbounded.
func NewRedisTransport(client *redis.Client, stream string, maxLen int64) *RedisTransport {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisTransport{client: client, stream: stream, maxLen: maxLen}
}

// Name returns "redis".
func (t *RedisTransport) Name() string { return "redis" }

// Send appends n to the stream.
func (t *RedisTransport) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redis: marshal: %w", err)
	}

	stream := t.stream
	if n.Destination != "" {
		stream = n.Destination
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"rule_id":      n.RuleID,
			"run_id":       n.RunID,
			"notification": string(payload),
		},
	}
	if t.maxLen > 0 {
		args.MaxLen = t.maxLen
		args.Approx = true
	}

	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: publish to %s: %w", stream, err)
	}
	return nil
}
