// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Change describes one status transition delivered to observers.
type Change struct {
	Stage    Stage
	Previous Status
	Current  Status
}

// Tracker stores one Status per stage. The zero value is ready to use
// with every stage at NotStarted.
//
// Set and Reset must be called from a single goroutine at a time (the
// owning pipeline). Get and Snapshot may be called from anywhere.
type Tracker struct {
	statuses [stageCount]atomic.Uint32

	// observerMu guards observers and nextObserver. It is never held
	// while an observer runs.
	observerMu   sync.Mutex
	observers    map[uint64]func(Change)
	nextObserver uint64
}

// Get returns the current status of stage.
func (t *Tracker) Get(stage Stage) Status {
	if stage >= stageCount {
		return NotStarted
	}
	return Status(t.statuses[stage].Load())
}

// Snapshot returns all three statuses. Each field is read atomically;
// the three reads are not a single atomic unit, which is acceptable
// because there is only one writer and it moves strictly forward.
func (t *Tracker) Snapshot() State {
	return State{
		Storing:   t.Get(StageStorage),
		Deploying: t.Get(StageDeployment),
		Indexing:  t.Get(StageIndexing),
	}
}

// Set records status for stage and, if the value changed, calls every
// observer with the transition before returning.
func (t *Tracker) Set(stage Stage, status Status) {
	if stage >= stageCount {
		return
	}
	previous := Status(t.statuses[stage].Swap(uint32(status)))
	if previous == status {
		return
	}
	t.notify(Change{Stage: stage, Previous: previous, Current: status})
}

// Reset returns every stage to NotStarted, notifying observers for
// each stage that was not already there.
func (t *Tracker) Reset() {
	for _, stage := range Stages {
		t.Set(stage, NotStarted)
	}
}

// Subscribe registers fn to be called on every status change. fn runs
// on the writer's goroutine and must not call Set or Reset. The
// returned function removes the observer; it is safe to call more
// than once.
func (t *Tracker) Subscribe(fn func(Change)) (cancel func()) {
	t.observerMu.Lock()
	defer t.observerMu.Unlock()

	if t.observers == nil {
		t.observers = make(map[uint64]func(Change))
	}
	id := t.nextObserver
	t.nextObserver++
	t.observers[id] = fn

	return func() {
		t.observerMu.Lock()
		defer t.observerMu.Unlock()
		delete(t.observers, id)
	}
}

func (t *Tracker) notify(change Change) {
	t.observerMu.Lock()
	if len(t.observers) == 0 {
		t.observerMu.Unlock()
		return
	}
	// Deliver in registration order so observers see a stable order.
	ids := make([]uint64, 0, len(t.observers))
	for id := range t.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	callbacks := make([]func(Change), len(ids))
	for index, id := range ids {
		callbacks[index] = t.observers[id]
	}
	t.observerMu.Unlock()

	for _, callback := range callbacks {
		callback(change)
	}
}
