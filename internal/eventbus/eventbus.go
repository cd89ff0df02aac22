// Package eventbus carries the scheduler's cycle, decision and dispatch
// events to in-process observers such as the service log. It is deliberately
// lossy towards slow consumers: the scheduling loop must never wait on an
// observer.
package eventbus

import "sync"

// Event is any value published on the bus; observers type-switch on the
// concrete core/events types.
type Event interface{}

// EventBus is the publish/subscribe contract used by the scheduler.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// subscriberBuffer holds one cycle's worth of events: an evaluation of the
// full 48h window of 15min slots emits at most 192 decision events plus the
// per-site dispatch events and the cycle summary.
const subscriberBuffer = 256

// Bus fans events out to buffered subscriber channels.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

// New creates an empty Bus.
func New() *Bus { return &Bus{} }

// Publish sends the event to all subscribers. Delivery is non-blocking; a
// subscriber that falls a full cycle behind loses events rather than
// stalling the scheduling loop.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new observer and returns its channel. Subscribing
// after Close yields an already closed channel.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the observer and closes its channel.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Close closes all subscriber channels and drops further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.mu.Unlock()
}
