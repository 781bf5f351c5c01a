package profile

import (
	"campuschat/backend/internal/models"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CachedDirectory keeps lookups of another Directory in Redis. Cache
// failures are logged and fall through to the wrapped directory.
type CachedDirectory struct {
	next  Directory
	redis *redis.Client
	ttl   time.Duration
	log   *logrus.Entry
}

func NewCachedDirectory(next Directory, rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		redis: rdb,
		ttl:   ttl,
		log:   logger.WithField("component", "profile_cache"),
	}
}

func cacheKey(p models.Participant) string {
	return "profile:" + p.Key()
}

func (c *CachedDirectory) Lookup(ctx context.Context, p models.Participant) (Profile, error) {
	key := cacheKey(p)
	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var prof Profile
		if jsonErr := json.Unmarshal(raw, &prof); jsonErr == nil {
			return prof, nil
		}
		c.log.WithField("key", key).Warn("dropping undecodable cached profile")
	case !errors.Is(err, redis.Nil):
		c.log.WithError(err).Warn("profile cache read failed")
	}

	prof, err := c.next.Lookup(ctx, p)
	if err != nil {
		return Profile{}, err
	}
	if b, err := json.Marshal(prof); err == nil {
		if err := c.redis.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.log.WithError(err).Warn("profile cache write failed")
		}
	}
	return prof, nil
}

// Invalidate drops a cached profile, e.g. after the user edits it.
func (c *CachedDirectory) Invalidate(ctx context.Context, p models.Participant) error {
	return c.redis.Del(ctx, cacheKey(p)).Err()
}
