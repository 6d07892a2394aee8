package entra

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onixbyte/helix/internal/auth"
	"github.com/onixbyte/helix/internal/cache"
)

const testTenant = "tenant-1"

type keyServer struct {
	*httptest.Server
	hits atomic.Int32
	mu   sync.Mutex
	keys []JSONWebKey
	code int

	// When blocked, requests wait for release.
	blocked  atomic.Bool
	hold     chan struct{}
	holdOnce sync.Once
}

func newKeyServer(t *testing.T, keys ...JSONWebKey) *keyServer {
	t.Helper()
	ks := &keyServer{keys: keys, code: http.StatusOK, hold: make(chan struct{})}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.hits.Add(1)
		if ks.blocked.Load() {
			<-ks.hold
		}
		if r.URL.Path != "/"+testTenant+"/discovery/v2.0/keys" {
			http.NotFound(w, r)
			return
		}
		ks.mu.Lock()
		defer ks.mu.Unlock()
		w.WriteHeader(ks.code)
		_ = json.NewEncoder(w).Encode(keySet{Keys: ks.keys})
	}))
	t.Cleanup(ks.Close)
	t.Cleanup(ks.release)
	return ks
}

func (ks *keyServer) release() {
	ks.holdOnce.Do(func() { close(ks.hold) })
}

// countingStore counts cache reads, so a test knows when callers have
// missed the cache and are about to join the shared fetch.
type countingStore struct {
	cache.Store
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	defer s.gets.Add(1)
	return s.Store.Get(ctx, key, dst)
}

func (ks *keyServer) setCode(code int) {
	ks.mu.Lock()
	ks.code = code
	ks.mu.Unlock()
}

func jwkFor(kid string, pub *rsa.PublicKey) JSONWebKey {
	return JSONWebKey{
		Kid: kid,
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestKeyCacheCachesWholeKeySet(t *testing.T) {
	k1, k2, k3 := newRSAKey(t), newRSAKey(t), newRSAKey(t)
	srv := newKeyServer(t, jwkFor("a", &k1.PublicKey), jwkFor("b", &k2.PublicKey), jwkFor("c", &k3.PublicKey))
	kc := NewKeyCache(testTenant, cache.NewMemory(), WithHost(srv.URL))
	ctx := context.Background()

	got, err := kc.PublicKey(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, got.N.Cmp(k1.N))
	assert.Equal(t, k1.E, got.E)
	assert.Equal(t, int32(1), srv.hits.Load())

	for kid, want := range map[string]*rsa.PrivateKey{"a": k1, "b": k2, "c": k3} {
		got, err := kc.PublicKey(ctx, kid)
		require.NoError(t, err)
		assert.Equal(t, 0, got.N.Cmp(want.N), kid)
	}
	assert.Equal(t, int32(1), srv.hits.Load(), "cached keys must not trigger a fetch")

	_, err = kc.PublicKey(ctx, "unknown")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int32(2), srv.hits.Load(), "unknown kid triggers exactly one more fetch")
}

func TestKeyCacheUpstreamFailures(t *testing.T) {
	ctx := context.Background()

	empty := newKeyServer(t)
	_, err := NewKeyCache(testTenant, cache.NewMemory(), WithHost(empty.URL)).PublicKey(ctx, "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrUpstreamUnavailable))
	msg, _ := auth.PublicMessage(err)
	assert.Equal(t, msgNoResponse, msg)

	failing := newKeyServer(t, jwkFor("a", &newRSAKey(t).PublicKey))
	failing.setCode(http.StatusInternalServerError)
	_, err = NewKeyCache(testTenant, cache.NewMemory(), WithHost(failing.URL)).PublicKey(ctx, "a")
	assert.True(t, errors.Is(err, auth.ErrUpstreamUnavailable))

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	_, err = NewKeyCache(testTenant, cache.NewMemory(), WithHost(down.URL)).PublicKey(ctx, "a")
	assert.Equal(t, auth.KindUpstreamUnavailable, auth.KindOf(err))
}

func TestKeyCacheInvalidate(t *testing.T) {
	srv := newKeyServer(t, jwkFor("a", &newRSAKey(t).PublicKey))
	kc := NewKeyCache(testTenant, cache.NewMemory(), WithHost(srv.URL))
	ctx := context.Background()

	_, err := kc.PublicKey(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, kc.Invalidate(ctx, "a"))
	_, err = kc.PublicKey(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestKeyCacheConcurrentMisses(t *testing.T) {
	const callers = 16
	srv := newKeyServer(t, jwkFor("a", &newRSAKey(t).PublicKey))
	srv.blocked.Store(true)
	store := &countingStore{Store: cache.NewMemory()}
	kc := NewKeyCache(testTenant, store, WithHost(srv.URL))

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := kc.PublicKey(context.Background(), "a")
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool {
		return store.gets.Load() == callers && srv.hits.Load() == 1
	}, 2*time.Second, time.Millisecond)
	// Let the last callers reach the shared fetch before it completes.
	time.Sleep(50 * time.Millisecond)
	srv.release()
	wg.Wait()

	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestKeyCacheSharedFetchSurvivesCancelledCaller(t *testing.T) {
	srv := newKeyServer(t, jwkFor("a", &newRSAKey(t).PublicKey))
	srv.blocked.Store(true)
	store := &countingStore{Store: cache.NewMemory()}
	kc := NewKeyCache(testTenant, store, WithHost(srv.URL))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := kc.PublicKey(first, "a")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, 2*time.Second, time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := kc.PublicKey(context.Background(), "a")
		secondErr <- err
	}()
	require.Eventually(t, func() bool { return store.gets.Load() == 2 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, auth.ErrUpstreamUnavailable)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared fetch")
	}

	srv.release()
	select {
	case err := <-secondErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not finish")
	}
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestKeyCacheMalformedKeyIsUpstreamFault(t *testing.T) {
	srv := newKeyServer(t, JSONWebKey{Kid: "bad", Kty: "RSA", N: "!!", E: "AQAB"})
	kc := NewKeyCache(testTenant, cache.NewMemory(), WithHost(srv.URL))

	_, err := kc.PublicKey(context.Background(), "bad")
	require.Error(t, err)
	assert.Equal(t, auth.KindUpstreamUnavailable, auth.KindOf(err))
	msg, _ := auth.PublicMessage(err)
	assert.Equal(t, msgNoResponse, msg)
}

func TestJSONWebKeyRejectsMalformed(t *testing.T) {
	_, err := JSONWebKey{Kid: "x", N: "!!", E: "AQAB"}.RSA()
	assert.Error(t, err)
	_, err = JSONWebKey{Kid: "x", N: "AQAB", E: ""}.RSA()
	assert.Error(t, err)
}
