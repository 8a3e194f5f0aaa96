package provision

import (
	"context"
	"fmt"
	"sync"

	"github.com/geonotify/portal/internal/idp"
)

// Flags is the provisioning signal: two booleans that let the role
// resolver distinguish "no admin record because none was ever created"
// from "no admin record yet because writes haven't landed".
type Flags struct {
	InFlight      bool
	JustCompleted bool
}

// SignalStore persists flags keyed by flow id. Implementations bound
// abandonment with a TTL so a closed tab cannot block forever.
type SignalStore interface {
	Put(ctx context.Context, flowID string, f Flags) error
	Get(ctx context.Context, flowID string) (Flags, error) // zero Flags when absent
	Clear(ctx context.Context, flowID string) error
}

// Outcome is a completed provisioning attempt, delivered to an awaiting
// resolver through the board's typed channel.
type Outcome struct {
	Principal *idp.Principal
	Err       error
}

// Board couples the flag store with in-process completion channels.
//
// The flags cover the cross-instance case (the resolver may run on a
// different portal instance, or after a restart); the channels are the
// direct handoff used when provisioner and resolver share a process, so
// the resolver can await the result instead of polling with a delay.
type Board struct {
	store   SignalStore
	mu      sync.Mutex
	waiters map[string]chan Outcome
}

// NewBoard creates a Board over the given flag store.
func NewBoard(store SignalStore) *Board {
	return &Board{store: store, waiters: make(map[string]chan Outcome)}
}

// Begin marks a flow as in flight and opens its completion channel.
// Must be called before any provisioning write starts.
func (b *Board) Begin(ctx context.Context, flowID string) error {
	if err := b.store.Put(ctx, flowID, Flags{InFlight: true}); err != nil {
		return fmt.Errorf("provision: set in-flight flag: %w", err)
	}

	b.mu.Lock()
	b.waiters[flowID] = make(chan Outcome, 1)
	b.mu.Unlock()
	return nil
}

// Finish records the outcome of a flow: on success the "just completed"
// flag replaces "in flight"; on failure the flags are cleared entirely so
// a failed attempt never blocks a later retry. Either way the completion
// channel fires once and closes.
func (b *Board) Finish(ctx context.Context, flowID string, outcome Outcome) error {
	var err error
	if outcome.Err != nil {
		err = b.store.Clear(ctx, flowID)
	} else {
		err = b.store.Put(ctx, flowID, Flags{JustCompleted: true})
	}

	b.mu.Lock()
	waiter, ok := b.waiters[flowID]
	if ok {
		delete(b.waiters, flowID)
	}
	b.mu.Unlock()

	if ok {
		waiter <- outcome
		close(waiter)
	}

	if err != nil {
		return fmt.Errorf("provision: update signal flags: %w", err)
	}
	return nil
}

// Await returns the completion channel for a flow when the provisioning
// sequence runs in this process. The second return is false when no such
// flow is registered here.
func (b *Board) Await(flowID string) (<-chan Outcome, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	waiter, ok := b.waiters[flowID]
	return waiter, ok
}

// Flags reads the persisted signal for a flow.
func (b *Board) Flags(ctx context.Context, flowID string) (Flags, error) {
	return b.store.Get(ctx, flowID)
}

// ConsumeCompleted reads and clears the "just completed" flag. The first
// dashboard render consumes it to show the first-run welcome state.
func (b *Board) ConsumeCompleted(ctx context.Context, flowID string) (bool, error) {
	f, err := b.store.Get(ctx, flowID)
	if err != nil {
		return false, err
	}
	if !f.JustCompleted {
		return false, nil
	}
	if err := b.store.Clear(ctx, flowID); err != nil {
		return false, err
	}
	return true, nil
}
