// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package eventbus

import (
	"bedguard/pkg/logger"
	"context"
	"sync"
	"sync/atomic"
)

type Topic string
type Event = any

// Bus is an in-memory pub/sub. Each subscriber holds at most one pending
// event: a newer publish replaces whatever the subscriber has not read yet.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Topic]map[uint64]chan Event
	last      map[Topic]Event
	idCounter atomic.Uint64
	closed    atomic.Bool
	log       *logger.Logger

	published atomic.Int64
	delivered atomic.Int64
	replaced  atomic.Int64
	dropped   atomic.Int64
}

// Stats is a point-in-time copy of the bus counters.
type Stats struct {
	Published int64
	Delivered int64
	Replaced  int64
	Dropped   int64
}

func New() *Bus {
	return &Bus{
		subs: make(map[Topic]map[uint64]chan Event),
		last: make(map[Topic]Event),
		log:  logger.New("EventBus"),
	}
}

func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Replaced:  b.replaced.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Publish records ev as the latest event of topic and hands it to every
// current subscriber without blocking. Delivery happens under the lock so
// remove and Close cannot close a channel mid-send.
func (b *Bus) Publish(topic Topic, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return
	}
	b.published.Add(1)

	b.last[topic] = ev
	for _, ch := range b.subs[topic] {
		b.offer(ch, ev)
	}
}

// offer never blocks; callers hold mu.
func (b *Bus) offer(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		b.delivered.Add(1)
		return
	default:
	}

	// full: evict the stale value, then retry once
	select {
	case <-ch:
		b.replaced.Add(1)
	default:
	}
	select {
	case ch <- ev:
		b.delivered.Add(1)
	default:
		b.dropped.Add(1)
		b.log.Warn("dropped event: %+v", ev)
	}
}

// Subscribe returns a channel of events for topic and an unsubscribe func.
// With withLast set, the most recent event (if any) is queued immediately.
// The channel is closed on unsubscribe, on ctx cancellation, or on Close.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, withLast bool) (<-chan Event, func()) {
	if b.closed.Load() {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 1)
	id := b.idCounter.Add(1)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]chan Event)
	}
	b.subs[topic][id] = ch
	if last, ok := b.last[topic]; withLast && ok {
		b.offer(ch, last)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	unsub := func() { once.Do(func() { close(done) }) }

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		b.remove(topic, id)
	}()

	return ch, unsub
}

// remove closes the subscriber channel unless Close already did.
func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.subs[topic]
	if !ok {
		return
	}
	ch, ok := m[id]
	if !ok {
		return
	}
	delete(m, id)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Bus) GetLast(topic Topic) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.last[topic]
	return v, ok
}

// Close closes every subscriber channel. Publish becomes a no-op and
// Subscribe returns an already closed channel.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	for _, m := range b.subs {
		for _, ch := range m {
			close(ch)
		}
	}
	b.subs = make(map[Topic]map[uint64]chan Event)
	b.last = make(map[Topic]Event)
	b.mu.Unlock()
}

// Listen calls fn for every event of type T on topic until ctx ends or the
// bus closes. Events of any other type are skipped.
func Listen[T any](ctx context.Context, b *Bus, topic Topic, fn func(T)) {
	ch, unsub := b.Subscribe(ctx, topic, false)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if v, ok := ev.(T); ok {
				fn(v)
			}
		}
	}
}
