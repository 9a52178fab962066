package identity

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestULIDGeneratorMonotonicWithinMillisecond(t *testing.T) {
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	g := newGenerator(bytes.NewReader(bytes.Repeat([]byte{0x01}, 4096)), func() time.Time { return at })

	prev := g.NewID("a.pdf")
	for i := 0; i < 50; i++ {
		next := g.NewID("a.pdf")
		if next <= prev {
			t.Fatalf("expected increasing ids, got %s after %s", next, prev)
		}
		prev = next
	}

	parsed, err := ulid.Parse(prev)
	if err != nil {
		t.Fatalf("ulid.Parse() error = %v", err)
	}
	if parsed.Time() != ulid.Timestamp(at) {
		t.Fatalf("expected timestamp %d, got %d", ulid.Timestamp(at), parsed.Time())
	}
}

func TestULIDGeneratorConcurrentUnique(t *testing.T) {
	g := NewULIDGenerator()
	const workers, perWorker = 8, 200

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := g.NewID("")
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}
