// Package routing contains the routing table and the source registry.
package routing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Unrouted is the input value of an output with no assigned source.
const Unrouted = -1

// ErrInvalidOutput is returned when an output index is out of range.
var ErrInvalidOutput = errors.New("invalid output index")

// ErrInvalidInput is returned when an input index is out of range.
var ErrInvalidInput = errors.New("invalid input index")

// ErrLockConflict is returned when an output is locked by another client.
var ErrLockConflict = errors.New("output is locked by another client")

// Output is one entry of the routing table.
type Output struct {
	// display label.
	Label string

	// routed input slot, Unrouted when none.
	Input int

	// lock owner, uuid.Nil when unlocked.
	LockOwner uuid.UUID
}

// Table is the authoritative mapping of outputs to input slots.
// All mutations are serialized; each committed mutation advances
// the generation counter and is published to subscribers in commit order.
type Table struct {
	inputs int

	mutex      sync.RWMutex
	generation uint64
	outputs    []Output
	subs       *subscriptions
}

// NewTable allocates a Table with the initial one-to-one routing.
func NewTable(outputs int, inputs int) *Table {
	t := &Table{
		inputs:  inputs,
		outputs: make([]Output, outputs),
		subs:    newSubscriptions(),
	}

	for i := range t.outputs {
		t.outputs[i].Label = fmt.Sprintf("Output %d", i+1)

		if i < inputs {
			t.outputs[i].Input = i
		} else {
			t.outputs[i].Input = Unrouted
		}
	}

	return t
}

// Close closes the Table and every subscription.
func (t *Table) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.subs.close()
}

// Subscribe returns a live feed of table events.
func (t *Table) Subscribe(size int) *Subscription {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.subs.subscribe(size)
}

// Unsubscribe removes a subscription.
func (t *Table) Unsubscribe(sub *Subscription) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.subs.unsubscribe(sub)
}

// Snapshot returns the generation counter and a consistent copy
// of every output.
func (t *Table) Snapshot() (uint64, []Output) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	outputs := make([]Output, len(t.outputs))
	copy(outputs, t.outputs)
	return t.generation, outputs
}

// Assign routes an output to an input slot, or clears it
// when input is Unrouted. The slot is not required to contain
// a discovered source; the table only mirrors the assignment.
func (t *Table) Assign(output int, input int, client uuid.UUID) error {
	if input != Unrouted && (input < 0 || input >= t.inputs) {
		return ErrInvalidInput
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if output < 0 || output >= len(t.outputs) {
		return ErrInvalidOutput
	}

	o := &t.outputs[output]

	if o.LockOwner != uuid.Nil && o.LockOwner != client {
		return ErrLockConflict
	}

	if o.Input == input {
		return nil
	}

	old := o.Input
	o.Input = input
	t.generation++

	t.subs.publish(EventRouting{Output: output, Old: old, Input: input})
	return nil
}

// Lock grants the exclusive-edit claim on an output to a client.
// Locking an output already owned by the same client is a no-op.
func (t *Table) Lock(output int, client uuid.UUID) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if output < 0 || output >= len(t.outputs) {
		return ErrInvalidOutput
	}

	o := &t.outputs[output]

	switch o.LockOwner {
	case client:
		return nil

	case uuid.Nil:
		o.LockOwner = client
		t.generation++
		t.subs.publish(EventLock{Output: output, Owner: client})
		return nil

	default:
		return ErrLockConflict
	}
}

// Unlock releases the lock on an output if it is held by the client;
// otherwise it is a no-op.
func (t *Table) Unlock(output int, client uuid.UUID) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if output < 0 || output >= len(t.outputs) {
		return ErrInvalidOutput
	}

	o := &t.outputs[output]

	if o.LockOwner != client {
		return nil
	}

	o.LockOwner = uuid.Nil
	t.generation++
	t.subs.publish(EventLock{Output: output, Owner: uuid.Nil})
	return nil
}

// ForceUnlock releases the lock on an output regardless of its owner.
func (t *Table) ForceUnlock(output int) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if output < 0 || output >= len(t.outputs) {
		return ErrInvalidOutput
	}

	o := &t.outputs[output]

	if o.LockOwner == uuid.Nil {
		return nil
	}

	o.LockOwner = uuid.Nil
	t.generation++
	t.subs.publish(EventLock{Output: output, Owner: uuid.Nil})
	return nil
}

// ReleaseAll unlocks every output held by a client.
// It is called on session teardown; the table reflects the released
// locks before the call returns.
func (t *Table) ReleaseAll(client uuid.UUID) {
	if client == uuid.Nil {
		return
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	for i := range t.outputs {
		o := &t.outputs[i]

		if o.LockOwner == client {
			o.LockOwner = uuid.Nil
			t.generation++
			t.subs.publish(EventLock{Output: i, Owner: uuid.Nil})
		}
	}
}

// SetOutputLabel renames an output. Labels are not access-controlled.
func (t *Table) SetOutputLabel(output int, label string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if output < 0 || output >= len(t.outputs) {
		return ErrInvalidOutput
	}

	if t.outputs[output].Label == label {
		return nil
	}

	t.outputs[output].Label = label
	t.generation++
	t.subs.publish(EventOutputLabel{Output: output, Label: label})
	return nil
}
