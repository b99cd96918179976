package routing

import (
	"github.com/google/uuid"

	"github.com/moschopsuk/ndi-router/internal/ndi"
)

// Event is an event emitted by a Table or a Registry.
type Event interface{}

// EventRouting is emitted when the source of an output changes.
type EventRouting struct {
	Output int
	Old    int
	Input  int
}

// EventLock is emitted when the lock state of an output changes.
// Owner is uuid.Nil when the output has been unlocked.
type EventLock struct {
	Output int
	Owner  uuid.UUID
}

// EventOutputLabel is emitted when an output is renamed.
type EventOutputLabel struct {
	Output int
	Label  string
}

// EventInputLabel is emitted when an input is renamed.
type EventInputLabel struct {
	Input int
	Label string
}

// EventSource is emitted when the source behind an input slot
// appears or disappears. Source is nil when the slot has been freed.
type EventSource struct {
	Input  int
	Source *ndi.Source
}

// Subscription is a live feed of events, delivered in commit order.
// The channel is closed when the subscriber is too slow
// or the publisher is closed; consumers must then resync
// from a snapshot and subscribe again.
type Subscription struct {
	C chan Event
}

type subscriptions struct {
	subs map[*Subscription]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		subs: make(map[*Subscription]struct{}),
	}
}

// caller must hold the publisher's mutex.
func (ss *subscriptions) subscribe(size int) *Subscription {
	sub := &Subscription{
		C: make(chan Event, size),
	}
	ss.subs[sub] = struct{}{}
	return sub
}

// caller must hold the publisher's mutex.
func (ss *subscriptions) unsubscribe(sub *Subscription) {
	if _, ok := ss.subs[sub]; ok {
		delete(ss.subs, sub)
		close(sub.C)
	}
}

// caller must hold the publisher's mutex.
func (ss *subscriptions) publish(ev Event) {
	for sub := range ss.subs {
		select {
		case sub.C <- ev:
		default:
			// the subscriber is not draining; drop it instead of
			// stalling the writer.
			delete(ss.subs, sub)
			close(sub.C)
		}
	}
}

// caller must hold the publisher's mutex.
func (ss *subscriptions) close() {
	for sub := range ss.subs {
		delete(ss.subs, sub)
		close(sub.C)
	}
}
