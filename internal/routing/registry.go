package routing

import (
	"fmt"
	"sync"

	"github.com/moschopsuk/ndi-router/internal/ndi"
)

// Input is one input slot of the registry.
type Input struct {
	// display label. Follows the source name while the slot is occupied.
	Label string

	// discovered source occupying the slot, nil when empty.
	Source *ndi.Source
}

// Registry tracks the sources currently visible on the network.
// Each discovered source occupies the lowest free input slot and keeps
// it until the source disappears. "known" only means "discoverable";
// the registry makes no liveness guarantee about media flowing.
type Registry struct {
	mutex sync.RWMutex
	slots []Input
	subs  *subscriptions
}

// NewRegistry allocates a Registry with the given number of input slots.
func NewRegistry(inputs int) *Registry {
	r := &Registry{
		slots: make([]Input, inputs),
		subs:  newSubscriptions(),
	}

	for i := range r.slots {
		r.slots[i].Label = defaultInputLabel(i)
	}

	return r
}

func defaultInputLabel(i int) string {
	return fmt.Sprintf("Input %d", i+1)
}

// Close closes the Registry and every subscription.
func (r *Registry) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.subs.close()
}

// Subscribe returns a live feed of registry events.
func (r *Registry) Subscribe(size int) *Subscription {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.subs.subscribe(size)
}

// Unsubscribe removes a subscription.
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.subs.unsubscribe(sub)
}

// Snapshot returns a consistent copy of every input slot.
func (r *Registry) Snapshot() []Input {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	slots := make([]Input, len(r.slots))
	copy(slots, r.slots)
	return slots
}

// Resolve returns the source occupying an input slot, or nil.
func (r *Registry) Resolve(input int) *ndi.Source {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if input < 0 || input >= len(r.slots) {
		return nil
	}
	return r.slots[input].Source
}

// SetLabel renames an input slot. A manual label sticks until the slot
// changes hands; it is reset to the default when the source disappears.
func (r *Registry) SetLabel(input int, label string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if input < 0 || input >= len(r.slots) {
		return ErrInvalidInput
	}

	if r.slots[input].Label == label {
		return nil
	}

	r.slots[input].Label = label
	r.subs.publish(EventInputLabel{Input: input, Label: label})
	return nil
}

// Sync reconciles the registry against the outcome of a discovery cycle.
// New sources are assigned the lowest free slot; sources that are no
// longer visible free their slot.
func (r *Registry) Sync(sources []ndi.Source) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	visible := make(map[string]ndi.Source, len(sources))
	for _, src := range sources {
		visible[src.ID] = src
	}

	// update / remove occupied slots
	for i := range r.slots {
		slot := &r.slots[i]
		if slot.Source == nil {
			continue
		}

		if src, ok := visible[slot.Source.ID]; ok {
			// replace instead of mutating: pointers already handed out
			// through Resolve() or events stay immutable.
			cpy := src
			slot.Source = &cpy
			delete(visible, src.ID)
			continue
		}

		slot.Source = nil
		slot.Label = defaultInputLabel(i)
		r.subs.publish(EventSource{Input: i, Source: nil})
		r.subs.publish(EventInputLabel{Input: i, Label: slot.Label})
	}

	// assign free slots to new sources, in discovery order
	for _, src := range sources {
		if _, ok := visible[src.ID]; !ok {
			continue
		}

		i := r.freeSlot()
		if i < 0 {
			// no free slots left; the source stays invisible to the
			// protocol until one is freed.
			continue
		}

		cpy := src
		r.slots[i].Source = &cpy
		r.slots[i].Label = src.Name
		r.subs.publish(EventSource{Input: i, Source: &cpy})
		r.subs.publish(EventInputLabel{Input: i, Label: src.Name})
	}
}

// caller must hold mutex.
func (r *Registry) freeSlot() int {
	for i := range r.slots {
		if r.slots[i].Source == nil {
			return i
		}
	}
	return -1
}
