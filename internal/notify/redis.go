package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes notifications on Redis pub/sub, one channel per
// account: {prefix}:{account_id}. System events go to {prefix}:system.
type RedisNotifier struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisNotifier(rdb *redis.Client, prefix string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, prefix: prefix}
}

// Channel returns the channel a notification for accountID is sent on.
func (r *RedisNotifier) Channel(accountID uuid.UUID) string {
	if accountID == uuid.Nil {
		return r.prefix + ":system"
	}
	return fmt.Sprintf("%s:%s", r.prefix, accountID)
}

func (r *RedisNotifier) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.Channel(n.AccountID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
