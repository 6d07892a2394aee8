// Package cache provides the shared key/value cache used for external keys,
// upstream access tokens and resolved authorities.
package cache

import (
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigFastest

// Store is a TTL key/value cache. Values are encoded as JSON so every
// implementation hands back copies, never shared references.
type Store interface {
	// Get decodes the value under key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set stores value under key. A ttl of zero keeps the entry until evicted.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete evicts keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Key joins a cache name and entry key with the "::" separator.
func Key(name string, parts ...string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, p := range parts {
		b.WriteString("::")
		b.WriteString(p)
	}
	return b.String()
}

func encode(value any) ([]byte, error) {
	return codec.Marshal(value)
}

func decode(data []byte, dst any) error {
	return codec.Unmarshal(data, dst)
}
