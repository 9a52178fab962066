// Package identity generates document identities.
package identity

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDGenerator issues lexicographically sortable ids. Ids minted within the
// same millisecond stay ordered through the monotonic entropy counter.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

func NewULIDGenerator() *ULIDGenerator {
	return newGenerator(rand.Reader, time.Now)
}

func newGenerator(r io.Reader, now func() time.Time) *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(r, 0),
		now:     now,
	}
}

// NewID ignores the name; identities are never derived from content.
func (g *ULIDGenerator) NewID(_ string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}
