package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/novadesk/novadesk-api/internal/models"
)

const (
	blacklistKeyPrefix = "novadesk:blacklist:"
	blacklistUserSet   = "novadesk:blacklist:user:"
)

// BlacklistRepository stores revoked access-token digests in Redis. Each
// digest is keyed individually with a TTL set to the token's natural expiry,
// so expired entries vanish without a sweep. A per-user set tracks which
// digests belong to whom for bulk removal on account deletion.
type BlacklistRepository struct {
	client *redis.Client
}

// NewBlacklistRepository creates a new instance of BlacklistRepository.
func NewBlacklistRepository(client *redis.Client) *BlacklistRepository {
	return &BlacklistRepository{client: client}
}

// Add records a revoked token digest until its expiry passes.
func (r *BlacklistRepository) Add(ctx context.Context, entry models.BlacklistedAccessToken) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		// Already expired; nothing to deny.
		return nil
	}

	key := blacklistKeyPrefix + entry.TokenHash
	if err := r.client.Set(ctx, key, entry.Reason, ttl).Err(); err != nil {
		return fmt.Errorf("blacklist add: %w", err)
	}

	userKey := blacklistUserSet + entry.UserID
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, userKey, entry.TokenHash)
	pipe.Expire(ctx, userKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("blacklist index: %w", err)
	}
	return nil
}

// Contains reports whether a token digest has been revoked.
func (r *BlacklistRepository) Contains(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.client.Exists(ctx, blacklistKeyPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return n > 0, nil
}

// RemoveAllForUser drops every blacklist entry recorded for a user.
func (r *BlacklistRepository) RemoveAllForUser(ctx context.Context, userID string) error {
	userKey := blacklistUserSet + userID
	hashes, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("blacklist members: %w", err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, blacklistKeyPrefix+h)
	}
	keys = append(keys, userKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("blacklist remove: %w", err)
	}
	return nil
}
