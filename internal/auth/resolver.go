package auth

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/onixbyte/helix/internal/cache"
	"github.com/onixbyte/helix/internal/obs"
)

const (
	authorityCacheName  = "user-authorities"
	defaultAuthorityTTL = 30 * time.Minute
)

// AuthorityResolver returns the authority codes a user holds through roles.
// Results are cached per user until Invalidate or TTL expiry.
type AuthorityResolver struct {
	store  AuthorityStore
	cache  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// ResolverOption configures AuthorityResolver behavior.
type ResolverOption func(*AuthorityResolver)

// WithAuthorityTTL sets how long resolved authorities stay cached.
func WithAuthorityTTL(ttl time.Duration) ResolverOption {
	return func(r *AuthorityResolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *zap.Logger) ResolverOption {
	return func(r *AuthorityResolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewAuthorityResolver constructs a resolver. A nil cache disables caching.
func NewAuthorityResolver(store AuthorityStore, c cache.Store, opts ...ResolverOption) *AuthorityResolver {
	r := &AuthorityResolver{
		store:  store,
		cache:  c,
		ttl:    defaultAuthorityTTL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func authorityKey(userID int64) string {
	return cache.Key(authorityCacheName, strconv.FormatInt(userID, 10))
}

// AuthoritiesOf returns the sorted, distinct authority codes of the user.
func (r *AuthorityResolver) AuthoritiesOf(ctx context.Context, userID int64) ([]string, error) {
	key := authorityKey(userID)
	if r.cache != nil {
		var codes []string
		ok, err := r.cache.Get(ctx, key, &codes)
		switch {
		case err != nil:
			r.logger.Warn("authority cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		case ok:
			obs.CacheRequest(authorityCacheName, true)
			return codes, nil
		}
		obs.CacheRequest(authorityCacheName, false)
	}

	codes, err := r.store.AuthorityCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	codes = dedupe(codes)

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, codes, r.ttl); err != nil {
			r.logger.Warn("authority cache write failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return codes, nil
}

// Invalidate evicts cached authorities of the given users.
func (r *AuthorityResolver) Invalidate(ctx context.Context, userIDs ...int64) error {
	if r.cache == nil || len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = authorityKey(id)
	}
	return r.cache.Delete(ctx, keys...)
}

func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
