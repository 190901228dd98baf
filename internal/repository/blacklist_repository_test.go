package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/novadesk/novadesk-api/internal/models"
)

func newBlacklistRepo(t *testing.T) (*BlacklistRepository, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewBlacklistRepository(client), mr, func() {
		client.Close()
		mr.Close()
	}
}

func blacklistEntry(userID, hash string, expiresIn time.Duration) models.BlacklistedAccessToken {
	return models.BlacklistedAccessToken{
		ID:        "bl-" + hash,
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: time.Now().Add(expiresIn),
		RevokedAt: time.Now(),
		Reason:    "access_token_revocation",
	}
}

func TestBlacklistAddAndContains(t *testing.T) {
	repo, _, cleanup := newBlacklistRepo(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, repo.Add(ctx, blacklistEntry("u1", "digest-1", time.Hour)))

	present, err := repo.Contains(ctx, "digest-1")
	require.NoError(t, err)
	require.True(t, present)

	present, err = repo.Contains(ctx, "digest-other")
	require.NoError(t, err)
	require.False(t, present)
}

func TestBlacklistSkipsExpiredTokens(t *testing.T) {
	repo, mr, cleanup := newBlacklistRepo(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, repo.Add(ctx, blacklistEntry("u1", "digest-stale", -time.Minute)))

	require.Empty(t, mr.Keys())
	present, err := repo.Contains(ctx, "digest-stale")
	require.NoError(t, err)
	require.False(t, present)
}

func TestBlacklistEntriesExpireWithToken(t *testing.T) {
	repo, mr, cleanup := newBlacklistRepo(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, repo.Add(ctx, blacklistEntry("u1", "digest-ttl", time.Minute)))

	mr.FastForward(2 * time.Minute)

	present, err := repo.Contains(ctx, "digest-ttl")
	require.NoError(t, err)
	require.False(t, present)
}

func TestBlacklistRemoveAllForUser(t *testing.T) {
	repo, _, cleanup := newBlacklistRepo(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, repo.Add(ctx, blacklistEntry("u1", "digest-a", time.Hour)))
	require.NoError(t, repo.Add(ctx, blacklistEntry("u1", "digest-b", time.Hour)))
	require.NoError(t, repo.Add(ctx, blacklistEntry("u2", "digest-c", time.Hour)))

	require.NoError(t, repo.RemoveAllForUser(ctx, "u1"))

	for hash, want := range map[string]bool{"digest-a": false, "digest-b": false, "digest-c": true} {
		present, err := repo.Contains(ctx, hash)
		require.NoError(t, err)
		require.Equal(t, want, present, hash)
	}
}
