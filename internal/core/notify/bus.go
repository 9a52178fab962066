// Package notify fans full state snapshots out to observers.
package notify

import (
	"sync"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

// SnapshotSource captures the current consistent state.
type SnapshotSource func() domain.Snapshot

// Bus is a single-writer, multi-reader fan-out. Every Publish captures one
// snapshot and enqueues it, in sequence order, to every attached subscriber.
// Each subscriber is drained by its own goroutine, so a slow observer never
// delays the publisher or other observers.
type Bus struct {
	source SnapshotSource

	mu     sync.Mutex
	seq    uint64
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
	wg     sync.WaitGroup
}

func NewBus(source SnapshotSource) *Bus {
	return &Bus{
		source: source,
		subs:   make(map[uint64]*subscriber),
	}
}

// SetSource replaces the snapshot source. It must be called before the first Publish.
func (b *Bus) SetSource(source SnapshotSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.source = source
}

// Subscribe attaches fn and returns an idempotent detach function.
func (b *Bus) Subscribe(fn func(domain.Snapshot)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || fn == nil {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	sub := newSubscriber(fn)
	b.subs[id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.run()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.stop(false)
		})
	}
}

// Publish captures the current snapshot and delivers it to all subscribers.
// It returns the sequence number assigned to the snapshot.
func (b *Bus) Publish(reason string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return b.seq
	}
	b.seq++
	if len(b.subs) == 0 || b.source == nil {
		return b.seq
	}

	snapshot := b.source()
	snapshot.Seq = b.seq
	snapshot.Reason = reason
	for _, sub := range b.subs {
		sub.enqueue(snapshot)
	}
	return b.seq
}

// Current captures a snapshot without publishing it; Seq is the last published sequence.
func (b *Bus) Current() domain.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.source == nil {
		return domain.Snapshot{Seq: b.seq}
	}
	snapshot := b.source()
	snapshot.Seq = b.seq
	snapshot.Reason = "current"
	return snapshot
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops accepting publications, delivers what is already queued and
// waits for all subscriber goroutines to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for id, sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop(true)
	}
	b.wg.Wait()
}

type subscriber struct {
	fn func(domain.Snapshot)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []domain.Snapshot
	stopped bool
	drain   bool
}

func newSubscriber(fn func(domain.Snapshot)) *subscriber {
	s := &subscriber{fn: fn}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) enqueue(snapshot domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.queue = append(s.queue, snapshot)
	s.cond.Signal()
}

func (s *subscriber) stop(drain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.drain = drain
	s.cond.Signal()
}

func (s *subscriber) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped && (!s.drain || len(s.queue) == 0) {
			s.queue = nil
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue[0] = domain.Snapshot{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.fn(next)
	}
}
