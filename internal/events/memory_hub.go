package events

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

// subscription is one attached consumer. Delivery never blocks: a full
// buffer counts a drop instead, and the counter makes slow consumers
// observable.
type subscription struct {
	ch      chan Event
	filter  Filter
	dropped atomic.Uint64
	once    sync.Once
}

// MemoryHub is the in-process Hub. Subscriptions are keyed by identity, so
// cancel is O(1) and safe to call more than once.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	dropped atomic.Uint64
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[*subscription]struct{})}
}

// Publish fans the event out to every matching subscription without
// blocking; a subscriber that cannot keep up loses the event.
func (h *MemoryHub) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe attaches a consumer. The cancel function detaches it and closes
// the channel, so range loops over the channel terminate.
func (h *MemoryHub) Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{
		ch:     make(chan Event, defaultChannelBuffer),
		filter: filter,
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			// No publisher can hold sub.ch past the delete; closing here is
			// race-free.
			close(sub.ch)
		})
	}

	return sub.ch, cancel, nil
}

// Dropped reports how many events were lost to slow subscribers since the
// hub was created.
func (h *MemoryHub) Dropped() uint64 {
	return h.dropped.Load()
}
