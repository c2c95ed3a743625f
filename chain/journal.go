package chain

import (
	"fmt"
	"sync"
)

// Journal records undo operations for state mutated while a snapshot is open.
// Components call Append after every mutation; RevertToSnapshot replays the
// undo entries in reverse order.
type Journal struct {
	mu        sync.Mutex
	entries   []func()
	snapshots []int
}

// NewJournal creates an empty journal
func NewJournal() *Journal {
	return &Journal{}
}

// Append records an undo operation. Nothing is recorded when no snapshot is open.
func (j *Journal) Append(undo func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.snapshots) == 0 {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot opens a new revision and returns its id
func (j *Journal) Snapshot() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := len(j.snapshots)
	j.snapshots = append(j.snapshots, len(j.entries))
	return id
}

// RevertToSnapshot undoes every mutation recorded since the snapshot was taken
// and closes it together with any snapshot opened after it.
func (j *Journal) RevertToSnapshot(id int) {
	j.mu.Lock()
	if id < 0 || id >= len(j.snapshots) {
		j.mu.Unlock()
		panic(fmt.Sprintf("revision id %d cannot be reverted", id))
	}
	start := j.snapshots[id]
	undo := j.entries[start:]
	j.entries = j.entries[:start]
	j.snapshots = j.snapshots[:id]
	if len(j.snapshots) == 0 {
		j.entries = nil
	}
	j.mu.Unlock()

	// Undo entries take component locks, run them without holding ours.
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// Commit closes the snapshot keeping its mutations. Entries stay available to
// enclosing snapshots until the outermost one is closed.
func (j *Journal) Commit(id int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if id < 0 || id >= len(j.snapshots) {
		panic(fmt.Sprintf("revision id %d cannot be committed", id))
	}
	j.snapshots = j.snapshots[:id]
	if len(j.snapshots) == 0 {
		j.entries = nil
	}
}

// Length returns the number of recorded undo entries
func (j *Journal) Length() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Depth returns the number of open snapshots
func (j *Journal) Depth() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.snapshots)
}
