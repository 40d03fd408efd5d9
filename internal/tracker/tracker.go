package tracker

import (
	"sync/atomic"

	"github.com/wootoff-monitor/internal/types"
)

// Change is the outcome of one Update
type Change struct {
	Decision types.Decision
	Current  types.Snapshot
	Previous *types.Snapshot
}

// Tracker holds the last reported Snapshot and classifies new ones against it.
// Only the monitor loop calls Update; Current may be read from any goroutine.
type Tracker struct {
	current             atomic.Pointer[types.Snapshot]
	notifyOnPriceChange bool
}

// New returns an empty tracker. With notifyOnPriceChange a price-only change
// yields PriceChanged instead of NoChange.
func New(notifyOnPriceChange bool) *Tracker {
	return &Tracker{notifyOnPriceChange: notifyOnPriceChange}
}

// Update compares next with the stored Snapshot on (title, status) and stores
// next unless the decision is NoChange
func (t *Tracker) Update(next types.Snapshot) Change {
	prev := t.current.Load()
	decision := classify(prev, next, t.notifyOnPriceChange)

	change := Change{Decision: decision, Current: next}
	if prev != nil {
		p := *prev
		change.Previous = &p
	}

	if decision != types.NoChange {
		stored := next
		t.current.Store(&stored)
	}
	return change
}

// Current returns a copy of the stored Snapshot
func (t *Tracker) Current() (types.Snapshot, bool) {
	s := t.current.Load()
	if s == nil {
		return types.Snapshot{}, false
	}
	return *s, true
}

func classify(prev *types.Snapshot, next types.Snapshot, priceCounts bool) types.Decision {
	if prev == nil {
		return types.FirstObservation
	}

	prevTitle, prevStatus := prev.Key()
	nextTitle, nextStatus := next.Key()

	switch {
	case prevTitle != nextTitle:
		return types.NewItem
	case prevStatus != nextStatus:
		return types.StatusChanged
	case priceCounts && prev.Price != next.Price:
		return types.PriceChanged
	}
	return types.NoChange
}
