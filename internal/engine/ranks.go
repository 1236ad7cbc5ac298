package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"automod/internal/site"
)

// RankCache caches per-community moderator and contributor lists with a TTL
// (one hour by default). First use in a cycle after expiry re-fetches.
type RankCache struct {
	client site.Client
	ttl    time.Duration

	mu       sync.Mutex
	mods     map[string]map[string]bool
	contribs map[string]map[string]bool
	fetched  map[string]time.Time

	now func() time.Time
}

// NewRankCache returns a cache backed by client. A zero ttl defaults to one
// hour.
func NewRankCache(client site.Client, ttl time.Duration) *RankCache {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &RankCache{
		client:   client,
		ttl:      ttl,
		mods:     make(map[string]map[string]bool),
		contribs: make(map[string]map[string]bool),
		fetched:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Rank returns "moderator", "contributor" or "user" for an account within a
// community.
func (rc *RankCache) Rank(ctx context.Context, user, community string) (string, error) {
	mods, contribs, err := rc.lists(ctx, community)
	if err != nil {
		return "", err
	}
	switch {
	case mods[user]:
		return "moderator", nil
	case contribs[user]:
		return "contributor", nil
	default:
		return "user", nil
	}
}

// IsModerator reports whether the account moderates the community.
func (rc *RankCache) IsModerator(ctx context.Context, user, community string) (bool, error) {
	mods, _, err := rc.lists(ctx, community)
	if err != nil {
		return false, err
	}
	return mods[user], nil
}

func (rc *RankCache) lists(ctx context.Context, community string) (map[string]bool, map[string]bool, error) {
	rc.mu.Lock()
	if at, ok := rc.fetched[community]; ok && rc.now().Sub(at) < rc.ttl {
		mods, contribs := rc.mods[community], rc.contribs[community]
		rc.mu.Unlock()
		return mods, contribs, nil
	}
	rc.mu.Unlock()

	var modNames, contribNames []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names, err := rc.client.Moderators(gctx, community)
		if err != nil {
			return err
		}
		modNames = names
		return nil
	})
	g.Go(func() error {
		names, err := rc.client.Contributors(gctx, community)
		// A 404 means the community has no public contributor list.
		if err != nil && !site.IsNotFound(err) {
			return err
		}
		contribNames = names
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	mods := make(map[string]bool, len(modNames))
	for _, name := range modNames {
		mods[name] = true
	}
	contribs := make(map[string]bool, len(contribNames))
	for _, name := range contribNames {
		contribs[name] = true
	}

	rc.mu.Lock()
	rc.mods[community] = mods
	rc.contribs[community] = contribs
	rc.fetched[community] = rc.now()
	rc.mu.Unlock()

	return mods, contribs, nil
}
