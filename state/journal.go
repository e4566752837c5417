// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state holds the shared transition journal and chain context used by
// every settlement component. A top-level transition takes the journal lock,
// records undo entries as it mutates state and either finalises or reverts to
// the snapshot it started from.
package state

import "sync"

// Journal is an append-only list of undo operations.
//
// Snapshot, RevertToSnapshot and Append are not guarded by the journal lock.
// They must only be used by the goroutine that holds it, or by single-threaded
// callers that never take the lock at all.
type Journal struct {
	mu      sync.Mutex
	entries []func()
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Lock serialises top-level state transitions.
func (j *Journal) Lock() {
	j.mu.Lock()
}

// Unlock releases the transition lock.
func (j *Journal) Unlock() {
	j.mu.Unlock()
}

// Append records an undo operation. A nil journal discards it.
func (j *Journal) Append(undo func()) {
	if j == nil {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}

// RevertToSnapshot runs every undo entry recorded after the snapshot, newest
// first, and drops them.
func (j *Journal) RevertToSnapshot(id int) {
	if j == nil || id < 0 || id > len(j.entries) {
		return
	}
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	j.entries = j.entries[:id]
}

// Finalise commits everything recorded so far.
func (j *Journal) Finalise() {
	if j == nil {
		return
	}
	clear(j.entries)
	j.entries = j.entries[:0]
}

// Length returns the number of pending undo entries.
func (j *Journal) Length() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}
