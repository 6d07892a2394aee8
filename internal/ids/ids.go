package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier used for request ids.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RequestID returns incoming when it is a well-formed ULID, otherwise a new id.
// Client-supplied values are never echoed unchecked into logs.
func RequestID(incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming != "" {
		if id, err := ulid.ParseStrict(incoming); err == nil {
			return id.String()
		}
	}
	return New()
}
