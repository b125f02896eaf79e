package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cacheKeyPrefix = "support-chat:identity:"

// CachedDirectory keeps directory answers in Redis for a short TTL, so a ban
// takes effect within one TTL.
type CachedDirectory struct {
	next   Directory
	client redis.UniversalClient
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedDirectory wraps next with a Redis cache.
func NewCachedDirectory(next Directory, client redis.UniversalClient, ttl time.Duration, log zerolog.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, client: client, ttl: ttl, log: log.With().Str("component", "identity_cache").Logger()}
}

func (d *CachedDirectory) Lookup(ctx context.Context, id string) (User, error) {
	key := cacheKeyPrefix + id
	raw, err := d.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var user User
		if jsonErr := json.Unmarshal(raw, &user); jsonErr == nil {
			return user, nil
		}
	case !errors.Is(err, redis.Nil):
		d.log.Warn().Err(err).Msg("identity cache read failed")
	}

	user, err := d.next.Lookup(ctx, id)
	if err != nil {
		return User{}, err
	}
	if raw, err := json.Marshal(user); err == nil {
		if err := d.client.Set(ctx, key, raw, d.ttl).Err(); err != nil {
			d.log.Warn().Err(err).Msg("identity cache write failed")
		}
	}
	return user, nil
}
