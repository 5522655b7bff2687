package repositories

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupTTL = 24 * time.Hour

// NotificationDedup short-circuits Pub/Sub redeliveries. Delivery is
// at-least-once; the reconciler is idempotent anyway, so this only suppresses
// repeat provider round-trips for a message we already handled.
type NotificationDedup struct {
	rdb *redis.Client
}

func NewNotificationDedup(rdb *redis.Client) *NotificationDedup {
	return &NotificationDedup{rdb: rdb}
}

// Seen marks the message id and reports whether it had been marked before.
func (d *NotificationDedup) Seen(ctx context.Context, messageID string) (bool, error) {
	if d == nil || d.rdb == nil || messageID == "" {
		return false, nil
	}
	ok, err := d.rdb.SetNX(ctx, "rtdn:msg:"+messageID, 1, dedupTTL).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
