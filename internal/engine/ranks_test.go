package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automod/internal/site"
)

func TestRankCacheResolution(t *testing.T) {
	client := newFakeClient()
	client.mods["golang"] = []string{"amod"}
	client.contribs["golang"] = []string{"acontrib"}
	rc := NewRankCache(client, 0)

	for user, want := range map[string]string{
		"amod":     "moderator",
		"acontrib": "contributor",
		"nobody":   "user",
	} {
		got, err := rc.Rank(context.Background(), user, "golang")
		require.NoError(t, err)
		assert.Equal(t, want, got, user)
	}
}

func TestRankCacheTTL(t *testing.T) {
	client := newFakeClient()
	client.mods["golang"] = []string{"amod"}
	rc := NewRankCache(client, time.Hour)

	now := time.Now()
	rc.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := rc.Rank(context.Background(), "amod", "golang")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, client.modCalls, "cached within the TTL")
	assert.Equal(t, 1, client.contribCalls)

	now = now.Add(2 * time.Hour)
	_, err := rc.Rank(context.Background(), "amod", "golang")
	require.NoError(t, err)
	assert.Equal(t, 2, client.modCalls, "expired entries are re-fetched")
}

func TestRankCacheMissingContributorList(t *testing.T) {
	client := newFakeClient()
	client.mods["golang"] = []string{"amod"}
	client.contribErr["golang"] = &site.StatusError{Code: 404}
	rc := NewRankCache(client, 0)

	got, err := rc.Rank(context.Background(), "someone", "golang")
	require.NoError(t, err, "a community without a contributor list is fine")
	assert.Equal(t, "user", got)
}

func TestRankCacheModeratorFetchError(t *testing.T) {
	client := newFakeClient()
	client.failures["moderators"] = &site.StatusError{Code: 403}
	rc := NewRankCache(client, 0)

	_, err := rc.IsModerator(context.Background(), "anyone", "golang")
	require.Error(t, err)
	assert.True(t, site.IsForbidden(err))
}
