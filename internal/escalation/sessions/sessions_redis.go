// Package sessions marks user sessions for forced re-authentication after a
// high or critical privilege change. The mark is a shared, expiring flag:
// gateways consult it before honoring an existing session.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	id "smartattend/pkg/domain"
)

var isMarkedDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "smartattend_session_mark_check_duration_ms",
	Help:    "Latency of session invalidation checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const sessionMarkKeyPrefix = "sil:user:"

// DefaultMarkTTL outlives the longest session a gateway may hold, so a mark
// can never expire before the session it targets.
const DefaultMarkTTL = 24 * time.Hour

// RedisInvalidator is the Redis-backed session invalidation list, shared
// across instances.
type RedisInvalidator struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOption func(*RedisInvalidator)

// WithMarkTTL overrides the mark lifetime.
func WithMarkTTL(ttl time.Duration) RedisOption {
	return func(r *RedisInvalidator) { r.ttl = ttl }
}

// NewRedis constructs a Redis-backed invalidator. The client lifecycle is
// managed externally.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisInvalidator {
	inv := &RedisInvalidator{client: client, ttl: DefaultMarkTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	return inv
}

// Invalidate marks every session of the user. SET with expiry is atomic; the
// key's existence is the mark.
func (r *RedisInvalidator) Invalidate(ctx context.Context, user id.UserID) error {
	if user.IsNil() {
		return nil
	}
	return r.client.Set(ctx, sessionMarkKeyPrefix+user.String(), "1", r.ttl).Err()
}

// IsMarked reports whether the user's sessions are marked. A missing key
// means not marked (or the mark expired with its sessions).
func (r *RedisInvalidator) IsMarked(ctx context.Context, user id.UserID) (bool, error) {
	start := time.Now()
	defer func() {
		isMarkedDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if user.IsNil() {
		return false, nil
	}
	_, err := r.client.Get(ctx, sessionMarkKeyPrefix+user.String()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
