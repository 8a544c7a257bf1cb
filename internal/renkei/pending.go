package renkei

import (
	"encoding/json"
	"sync"
	"time"
)

// commandResult is the single resolution of a pending command: either a
// raw data payload or a failure, never both.
type commandResult struct {
	data json.RawMessage
	err  error
}

// waiter represents one in-flight command awaiting its response.
//
// The channel is buffered so resolution never blocks the read loop.
// Each waiter resolves at most once; the table removes it at the moment
// of resolution so a late real response cannot resolve it again.
type waiter struct {
	name     string
	seq      uint64
	deadline time.Time
	ch       chan commandResult
}

// pendingTable tracks in-flight commands keyed by command name.
//
// The protocol has no sub-command identifiers, so at most one command of
// a given name may be outstanding at a time. Different names pipeline
// freely. All mutation happens under a single mutex shared with nothing
// else.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	nextSeq uint64
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]*waiter)}
}

// register creates a waiter for the named command.
// It fails fast with ErrCommandPending if one is already in flight.
func (t *pendingTable) register(name string, deadline time.Time) (*waiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.waiters[name]; exists {
		return nil, ErrCommandPending
	}

	t.nextSeq++
	w := &waiter{
		name:     name,
		seq:      t.nextSeq,
		deadline: deadline,
		ch:       make(chan commandResult, 1),
	}
	t.waiters[name] = w
	return w, nil
}

// resolve delivers a response payload to the named waiter.
// Returns false if no command of that name is pending (stray response).
func (t *pendingTable) resolve(name string, data json.RawMessage) bool {
	t.mu.Lock()
	w, ok := t.waiters[name]
	if ok {
		delete(t.waiters, name)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	w.ch <- commandResult{data: data}
	return true
}

// fail delivers an error to the named waiter.
// Returns false if no command of that name is pending.
func (t *pendingTable) fail(name string, err error) bool {
	t.mu.Lock()
	w, ok := t.waiters[name]
	if ok {
		delete(t.waiters, name)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	w.ch <- commandResult{err: err}
	return true
}

// failOldest fails the longest-pending waiter. The controller sends
// ERROR responses without naming the command that failed, so the oldest
// outstanding command is taken as the culprit.
// Returns the failed command name, or "" if nothing was pending.
func (t *pendingTable) failOldest(err error) string {
	t.mu.Lock()
	var oldest *waiter
	for _, w := range t.waiters {
		if oldest == nil || w.seq < oldest.seq {
			oldest = w
		}
	}
	if oldest != nil {
		delete(t.waiters, oldest.name)
	}
	t.mu.Unlock()

	if oldest == nil {
		return ""
	}
	oldest.ch <- commandResult{err: err}
	return oldest.name
}

// expire fails every waiter whose deadline has passed with ErrTimeout.
// Invoked on a steady clock tick while a connection is up.
// Returns the number of expired commands.
func (t *pendingTable) expire(now time.Time) int {
	t.mu.Lock()
	var expired []*waiter
	for name, w := range t.waiters {
		if now.After(w.deadline) {
			expired = append(expired, w)
			delete(t.waiters, name)
		}
	}
	t.mu.Unlock()

	for _, w := range expired {
		w.ch <- commandResult{err: ErrTimeout}
	}
	return len(expired)
}

// abandonAll fails every outstanding waiter with the given reason.
// Invoked exactly once per connection-loss transition: no pending
// command survives a reconnection boundary.
func (t *pendingTable) abandonAll(err error) int {
	t.mu.Lock()
	abandoned := make([]*waiter, 0, len(t.waiters))
	for name, w := range t.waiters {
		abandoned = append(abandoned, w)
		delete(t.waiters, name)
	}
	t.mu.Unlock()

	for _, w := range abandoned {
		w.ch <- commandResult{err: err}
	}
	return len(abandoned)
}

// size returns the number of in-flight commands.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
