package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrQueueKeyType means the queue key exists but is not a list, so appends
// would fail with WRONGTYPE.
var ErrQueueKeyType = errors.New("queue key is not a list")

// QueueProbe checks the Redis instance that holds the payload queue. It
// satisfies observability.Checker.
type QueueProbe struct {
	client   redis.Cmdable
	queueKey string
}

// NewQueueProbe probes client. An empty queueKey skips the key check.
func NewQueueProbe(client redis.Cmdable, queueKey string) *QueueProbe {
	return &QueueProbe{client: client, queueKey: queueKey}
}

// Name returns the component name.
func (p *QueueProbe) Name() string {
	return "redis"
}

// Check pings the server, then makes sure the queue key is a list or absent.
func (p *QueueProbe) Check(ctx context.Context) error {
	if p.client == nil {
		return errors.New("redis client is nil")
	}
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if p.queueKey == "" {
		return nil
	}

	kind, err := p.client.Type(ctx, p.queueKey).Result()
	if err != nil {
		return fmt.Errorf("redis type %s: %w", p.queueKey, err)
	}
	switch kind {
	case "none", "list":
		return nil
	default:
		return fmt.Errorf("%w: %s holds a %s", ErrQueueKeyType, p.queueKey, kind)
	}
}
