// ABOUTME: Cached lookup of Matrix user profiles
// ABOUTME: Puts a request cache in front of the homeserver profile endpoint

package matrix

import (
	"context"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-bridge/internal/reqcache"
)

// ProfileFetcher fetches a profile from the homeserver.
type ProfileFetcher func(ctx context.Context, userID id.UserID) (*mautrix.RespUserProfile, error)

// ProfileCache deduplicates profile lookups. Concurrent lookups of the same
// user share one request and results are reused until the TTL passes.
type ProfileCache struct {
	cache  *reqcache.Cache[*mautrix.RespUserProfile]
	logger *slog.Logger
}

// NewProfileCache wraps fetch in a request cache.
func NewProfileCache(ttl time.Duration, maxSize int, fetch ProfileFetcher, logger *slog.Logger, opts ...reqcache.Option) (*ProfileCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]reqcache.Option{reqcache.WithLogger(logger)}, opts...)

	cache, err := reqcache.New[*mautrix.RespUserProfile](ttl, maxSize, func(ctx context.Context, key string, _ ...any) (*mautrix.RespUserProfile, error) {
		return fetch(ctx, id.UserID(key))
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &ProfileCache{
		cache:  cache,
		logger: logger.With("component", "profiles"),
	}, nil
}

// Get returns the profile of userID.
func (p *ProfileCache) Get(ctx context.Context, userID id.UserID) (*mautrix.RespUserProfile, error) {
	return p.cache.Get(ctx, userID.String())
}

// DisplayName returns the display name of userID, or the user ID itself when
// the profile cannot be fetched or has no display name.
func (p *ProfileCache) DisplayName(ctx context.Context, userID id.UserID) string {
	profile, err := p.Get(ctx, userID)
	if err != nil {
		p.logger.Debug("profile lookup failed", "user", userID, "error", err)
		return userID.String()
	}
	if profile == nil || profile.DisplayName == "" {
		return userID.String()
	}
	return profile.DisplayName
}

// Stats returns the cache counters.
func (p *ProfileCache) Stats() reqcache.Stats {
	return p.cache.Stats()
}
