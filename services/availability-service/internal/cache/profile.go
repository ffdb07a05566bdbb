// Package cache keeps tutor profile snapshots in Redis so that every
// instance of the service shares one view.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/metrics"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/model"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

// KV is the subset of redis.Cmdable the cache uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ProfileCache is a read-through cache in front of a booking.ProfileSource.
// Redis failures fall back to the source.
type ProfileCache struct {
	rdb    KV
	source booking.ProfileSource
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewProfileCache(rdb KV, source booking.ProfileSource, ttl time.Duration, logger *slog.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ProfileCache{
		rdb:    rdb,
		source: source,
		ttl:    ttl,
		prefix: "tutorslots:profile:",
		logger: logger,
	}
}

func (c *ProfileCache) key(tutorID string) string {
	return c.prefix + tutorID
}

func (c *ProfileCache) TutorProfile(ctx context.Context, tutorID string) (model.TutorProfile, error) {
	raw, err := c.rdb.Get(ctx, c.key(tutorID)).Bytes()
	switch {
	case err == nil:
		var p model.TutorProfile
		if err := json.Unmarshal(raw, &p); err == nil {
			metrics.RecordCache(true)
			return p, nil
		}
		c.logger.Warn("discarding undecodable profile cache entry", "tutor_id", tutorID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("profile cache read failed", "tutor_id", tutorID, "err", err)
	}
	metrics.RecordCache(false)

	p, err := c.source.TutorProfile(ctx, tutorID)
	if err != nil {
		return model.TutorProfile{}, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, c.key(tutorID), data, c.ttl).Err(); err != nil {
			c.logger.Warn("profile cache write failed", "tutor_id", tutorID, "err", err)
		}
	}
	return p, nil
}

// Invalidate drops the tutor's snapshot. Deleting a missing key is not an error.
func (c *ProfileCache) Invalidate(ctx context.Context, tutorID string) error {
	return c.rdb.Del(ctx, c.key(tutorID)).Err()
}
