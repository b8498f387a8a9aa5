package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/models"
)

const grantKeyPrefix = "datagate:grant:"

// incrementScript performs the quota check and increment in a single Redis
// call so concurrent downloads against the same grant stay linearizable.
// Returns the new count, -1 if the key is absent, -2 if the quota is spent.
var incrementScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return -1
end
local grant = cjson.decode(raw)
if grant.downloads_used >= grant.max_downloads then
  return -2
end
grant.downloads_used = grant.downloads_used + 1
redis.call('SET', KEYS[1], cjson.encode(grant), 'KEEPTTL')
return grant.downloads_used
`)

// RedisStore is a Store backed by Redis, for deployments that run more than
// one gateway instance. Grants carry a Redis TTL matching their expiry, so
// Redis reclaims them even without a sweep.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore creates a grant store on the given Redis client.
func NewRedisStore(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "redis_token_store").Logger(),
	}
}

func grantKey(keyHash string) string {
	return grantKeyPrefix + keyHash
}

// Put stores a grant keyed by its KeyHash with a TTL matching its expiry.
func (s *RedisStore) Put(ctx context.Context, grant *models.AccessGrant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	ttl := time.Until(grant.ExpiresAt)
	if ttl <= 0 {
		// Already expired; keep it briefly so reads observe ErrExpired
		// rather than ErrNotFound.
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, grantKey(grant.KeyHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("store grant: %w", err)
	}
	return nil
}

// Get returns the grant for the given key hash.
func (s *RedisStore) Get(ctx context.Context, keyHash string) (*models.AccessGrant, bool, error) {
	raw, err := s.client.Get(ctx, grantKey(keyHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get grant: %w", err)
	}
	var grant models.AccessGrant
	if err := json.Unmarshal(raw, &grant); err != nil {
		return nil, false, fmt.Errorf("unmarshal grant: %w", err)
	}
	// KeyHash is excluded from the JSON body; restore it from the Redis key.
	grant.KeyHash = keyHash
	return &grant, true, nil
}

// IncrementUsage consumes one download from the grant's quota via a Lua
// script; the check and the write cannot interleave with another caller's.
func (s *RedisStore) IncrementUsage(ctx context.Context, keyHash string) (int, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{grantKey(keyHash)}).Int()
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	switch res {
	case -1:
		return 0, ErrNotFound
	case -2:
		return 0, ErrQuotaExceeded
	default:
		return res, nil
	}
}

// Delete removes a grant. Idempotent.
func (s *RedisStore) Delete(ctx context.Context, keyHash string) error {
	if err := s.client.Del(ctx, grantKey(keyHash)).Err(); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

// Scan visits all stored grants using cursor iteration; no key-space lock is
// ever taken.
func (s *RedisStore) Scan(ctx context.Context, fn func(grant *models.AccessGrant) bool) error {
	iter := s.client.Scan(ctx, 0, grantKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("key", iter.Val()).Msg("skipping unreadable grant during scan")
			continue
		}
		var grant models.AccessGrant
		if err := json.Unmarshal(raw, &grant); err != nil {
			s.logger.Warn().Err(err).Str("key", iter.Val()).Msg("skipping malformed grant during scan")
			continue
		}
		grant.KeyHash = strings.TrimPrefix(iter.Val(), grantKeyPrefix)
		if !fn(&grant) {
			return nil
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan grants: %w", err)
	}
	return nil
}
