// Package waiter correlates inbound notifications with requests that are
// waiting for them. A caller registers the prefixes it expects before
// sending its request, then blocks on the returned Pending until a
// matching frame arrives or the deadline passes.
package waiter

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when no matching frame arrives before the deadline.
	ErrTimeout = errors.New("waiter: timed out")
	// ErrCleared is returned to every outstanding waiter by ClearAll.
	ErrCleared = errors.New("waiter: cleared")
)

// Table is the registry of outstanding waiters. The zero value is ready
// to use. Registration is safe from any goroutine; Dispatch is expected to
// be called from a single notification path.
type Table struct {
	mu      sync.Mutex
	waiters []*Pending
}

type result struct {
	frame []byte
	err   error
}

// Pending is one registered expectation.
type Pending struct {
	table    *Table
	prefixes [][]byte
	deadline time.Time
	done     chan result // buffered, receives exactly once
}

// Expect registers a waiter that resolves with the first frame beginning
// with any of prefixes. The timeout starts now, not when Wait is called.
func (t *Table) Expect(timeout time.Duration, prefixes ...[]byte) *Pending {
	p := &Pending{
		table:    t,
		prefixes: prefixes,
		deadline: time.Now().Add(timeout),
		done:     make(chan result, 1),
	}
	t.mu.Lock()
	t.waiters = append(t.waiters, p)
	t.mu.Unlock()
	return p
}

// Dispatch resolves and removes every waiter with a prefix matching
// frame, newest first. A frame can satisfy several waiters.
func (t *Table) Dispatch(frame []byte) int {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	t.mu.Lock()
	defer t.mu.Unlock()
	matched := 0
	for i := len(t.waiters) - 1; i >= 0; i-- {
		w := t.waiters[i]
		if !w.matches(cp) {
			continue
		}
		w.done <- result{frame: cp}
		t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
		matched++
	}
	return matched
}

// ClearAll fails every outstanding waiter with ErrCleared. Used when the
// transport is gone and nothing can arrive anymore.
func (t *Table) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.waiters {
		w.done <- result{err: ErrCleared}
	}
	t.waiters = nil
}

// Len returns the number of outstanding waiters.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// remove withdraws p if it is still registered. Reports whether it was.
func (t *Table) remove(p *Pending) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range t.waiters {
		if w == p {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pending) matches(frame []byte) bool {
	for _, pre := range p.prefixes {
		if bytes.HasPrefix(frame, pre) {
			return true
		}
	}
	return false
}

// Wait blocks until the waiter resolves, its deadline passes (ErrTimeout)
// or ctx is done. On timeout or cancellation the waiter is withdrawn.
func (p *Pending) Wait(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	select {
	case r := <-p.done:
		return r.frame, r.err
	case <-timer.C:
		if !p.table.remove(p) {
			// Resolved concurrently with the deadline.
			r := <-p.done
			return r.frame, r.err
		}
		return nil, ErrTimeout
	case <-ctx.Done():
		if !p.table.remove(p) {
			r := <-p.done
			return r.frame, r.err
		}
		return nil, ctx.Err()
	}
}

// Cancel withdraws the waiter without waiting.
func (p *Pending) Cancel() {
	p.table.remove(p)
}
