// Package entra verifies Microsoft Entra ID tokens against the tenant's
// published signing keys.
package entra

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/onixbyte/helix/internal/auth"
	"github.com/onixbyte/helix/internal/cache"
	"github.com/onixbyte/helix/internal/obs"
)

const (
	// DefaultHost is the Entra ID authority host.
	DefaultHost = "https://login.microsoftonline.com"

	keyCacheName     = "msal"
	defaultKeyTTL    = 24 * time.Hour
	defaultFetchWait = 10 * time.Second
	maxKeySetBytes   = 1 << 20
	msgNoResponse    = "No response from Microsoft Entra ID."
	upstreamKeyFetch = "entra_keys"
)

// ErrKeyNotFound means the tenant does not publish the requested key id.
var ErrKeyNotFound = errors.New("entra: signing key not found")

// JSONWebKey is the subset of a published RSA key needed to rebuild it.
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type keySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// KeySource resolves a signing key by key id.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// KeyCache fetches the tenant key set on a miss and caches every key it
// returns under its own kid.
type KeyCache struct {
	client   *http.Client
	host     string
	tenantID string
	store    cache.Store
	ttl      time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	group    singleflight.Group
}

var _ KeySource = (*KeyCache)(nil)

// KeyCacheOption configures KeyCache behavior.
type KeyCacheOption func(*KeyCache)

// WithHTTPClient sets the client used for key fetches.
func WithHTTPClient(c *http.Client) KeyCacheOption {
	return func(k *KeyCache) {
		if c != nil {
			k.client = c
		}
	}
}

// WithHost overrides the authority host.
func WithHost(host string) KeyCacheOption {
	return func(k *KeyCache) {
		if host = strings.TrimRight(strings.TrimSpace(host), "/"); host != "" {
			k.host = host
		}
	}
}

// WithKeyTTL sets how long fetched keys stay cached.
func WithKeyTTL(ttl time.Duration) KeyCacheOption {
	return func(k *KeyCache) {
		if ttl > 0 {
			k.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds a shared key set fetch independently of the
// callers waiting on it.
func WithFetchTimeout(d time.Duration) KeyCacheOption {
	return func(k *KeyCache) {
		if d > 0 {
			k.timeout = d
		}
	}
}

// WithKeyLogger sets the logger.
func WithKeyLogger(l *zap.Logger) KeyCacheOption {
	return func(k *KeyCache) {
		if l != nil {
			k.logger = l
		}
	}
}

// NewKeyCache constructs a KeyCache for tenantID backed by store.
func NewKeyCache(tenantID string, store cache.Store, opts ...KeyCacheOption) *KeyCache {
	k := &KeyCache{
		client:   &http.Client{Timeout: 10 * time.Second},
		host:     DefaultHost,
		tenantID: tenantID,
		store:    store,
		ttl:      defaultKeyTTL,
		timeout:  defaultFetchWait,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func keyCacheKey(kid string) string {
	return cache.Key(keyCacheName, "public-key", kid)
}

// PublicKey returns the RSA key for kid, fetching the key set on a miss.
func (k *KeyCache) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, ErrKeyNotFound
	}
	var jwk JSONWebKey
	ok, err := k.store.Get(ctx, keyCacheKey(kid), &jwk)
	if err != nil {
		k.logger.Warn("signing key cache read failed", zap.String("kid", kid), zap.Error(err))
	}
	if ok {
		obs.CacheRequest(keyCacheName, true)
		return rebuild(jwk)
	}
	obs.CacheRequest(keyCacheName, false)

	// Concurrent misses share one fetch. It runs detached from the first
	// caller so one cancelled request cannot fail the others; each caller
	// still stops waiting when its own context ends.
	ch := k.group.DoChan("fetch", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
		defer cancel()
		return k.fetch(fctx)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, auth.UpstreamFailure(msgNoResponse, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	for _, key := range res.Val.([]JSONWebKey) {
		if key.Kid == kid {
			return rebuild(key)
		}
	}
	return nil, ErrKeyNotFound
}

// rebuild converts a published key; a malformed key is an upstream fault.
func rebuild(jwk JSONWebKey) (*rsa.PublicKey, error) {
	pub, err := jwk.RSA()
	if err != nil {
		obs.UpstreamRequest(upstreamKeyFetch, "malformed_key")
		return nil, auth.UpstreamUnavailable(msgNoResponse, err)
	}
	return pub, nil
}

// Invalidate evicts the cached key for kid.
func (k *KeyCache) Invalidate(ctx context.Context, kid string) error {
	return k.store.Delete(ctx, keyCacheKey(kid))
}

func (k *KeyCache) keysURL() string {
	return fmt.Sprintf("%s/%s/discovery/v2.0/keys", k.host, k.tenantID)
}

func (k *KeyCache) fetch(ctx context.Context) ([]JSONWebKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.keysURL(), http.NoBody)
	if err != nil {
		return nil, auth.Internal("Cannot reach Microsoft Entra ID.", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		obs.UpstreamRequest(upstreamKeyFetch, "error")
		k.logger.Error("fetch signing keys failed", zap.Error(err))
		return nil, auth.UpstreamFailure(msgNoResponse, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		obs.UpstreamRequest(upstreamKeyFetch, "bad_status")
		k.logger.Error("fetch signing keys returned bad status", zap.Int("status", resp.StatusCode))
		return nil, auth.UpstreamUnavailable(msgNoResponse, fmt.Errorf("status %d", resp.StatusCode))
	}

	var set keySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetBytes)).Decode(&set); err != nil {
		obs.UpstreamRequest(upstreamKeyFetch, "decode_error")
		return nil, auth.UpstreamFailure(msgNoResponse, fmt.Errorf("decode key set: %w", err))
	}

	keys := make([]JSONWebKey, 0, len(set.Keys))
	for _, key := range set.Keys {
		if key.Kid == "" || key.N == "" || key.E == "" {
			continue
		}
		if key.Kty != "" && key.Kty != "RSA" {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		obs.UpstreamRequest(upstreamKeyFetch, "empty")
		return nil, auth.UpstreamUnavailable(msgNoResponse, errors.New("empty key set"))
	}
	obs.UpstreamRequest(upstreamKeyFetch, "success")

	for _, key := range keys {
		if err := k.store.Set(ctx, keyCacheKey(key.Kid), key, k.ttl); err != nil {
			k.logger.Warn("signing key cache write failed", zap.String("kid", key.Kid), zap.Error(err))
		}
	}
	k.logger.Debug("signing keys refreshed", zap.Int("count", len(keys)))
	return keys, nil
}

// RSA rebuilds the public key from its base64url modulus and exponent.
func (j JSONWebKey) RSA() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(j.N, "="))
	if err != nil {
		return nil, fmt.Errorf("entra: decode modulus of %s: %w", j.Kid, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(j.E, "="))
	if err != nil {
		return nil, fmt.Errorf("entra: decode exponent of %s: %w", j.Kid, err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, fmt.Errorf("entra: malformed key %s", j.Kid)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
