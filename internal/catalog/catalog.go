// Package catalog aggregates the device's file list. A fetch sends one
// catalog query; the device answers with one entry notification per
// stored file, each echoing the total file count.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/skellyctl/internal/ble/protocol"
)

// State is the fetch lifecycle.
type State int

const (
	Idle State = iota
	Fetching
	Complete
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Complete:
		return "complete"
	case TimedOut:
		return "timed-out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Entry is one stored file.
type Entry = protocol.CatalogEntry

// followupTags are queried once per completed fetch, in this order.
var followupTags = []byte{
	protocol.TagQueryOrder,
	protocol.TagQueryLive,
	protocol.TagQueryVolume,
	protocol.TagQueryCapacity,
}

// Options configures fetch timing.
type Options struct {
	IdleTimeout     time.Duration // give up when no entry arrives for this long
	FollowupSpacing time.Duration // gap between follow-up queries
}

// DefaultOptions returns the timings the device expects.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:     6 * time.Second,
		FollowupSpacing: 100 * time.Millisecond,
	}
}

// Catalog holds the file table for one session.
type Catalog struct {
	send func(frame []byte) error
	opts Options

	mu            sync.Mutex
	state         State
	entries       map[uint16]Entry
	expected      int
	followupsSent bool
	timer         *time.Timer
	cycle         uint64
	done          chan struct{} // closed when the current cycle settles
}

// New returns an idle catalog that issues queries through send.
func New(send func(frame []byte) error, opts Options) *Catalog {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 6 * time.Second
	}
	if opts.FollowupSpacing < 0 {
		opts.FollowupSpacing = 0
	}
	done := make(chan struct{})
	close(done)
	return &Catalog{
		send:    send,
		opts:    opts,
		entries: make(map[uint16]Entry),
		done:    done,
	}
}

// StartFetch clears the table and queries the device. With followups
// set, completion also triggers the play-order, live-state, volume and
// capacity queries. A timeout is not fatal; call StartFetch again.
func (c *Catalog) StartFetch(followups bool) error {
	c.mu.Lock()
	c.cycle++
	cycle := c.cycle
	c.entries = make(map[uint16]Entry)
	c.expected = 0
	c.followupsSent = !followups
	c.state = Fetching
	c.done = make(chan struct{})
	c.armLocked(cycle)
	c.mu.Unlock()

	if err := c.send(protocol.Query(protocol.TagQueryCatalog)); err != nil {
		c.mu.Lock()
		if c.cycle == cycle && c.state == Fetching {
			c.settleLocked(Idle)
		}
		c.mu.Unlock()
		return fmt.Errorf("catalog: query: %w", err)
	}
	return nil
}

// Handle consumes one decoded notification. Only catalog entries matter;
// everything else is ignored. Never blocks.
func (c *Catalog) Handle(n protocol.Notification) {
	e, ok := n.(protocol.CatalogEntry)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Serial] = e
	if e.Total > 0 {
		c.expected = int(e.Total)
	}
	if c.state != Fetching {
		return
	}
	c.armLocked(c.cycle)
	c.checkCompleteLocked()
}

func (c *Catalog) checkCompleteLocked() {
	if c.expected == 0 || len(c.entries) < c.expected {
		return
	}
	c.settleLocked(Complete)
	slog.Info("[FILES] file list complete", "count", len(c.entries))
	if c.followupsSent {
		return
	}
	c.followupsSent = true
	for i, tag := range followupTags {
		frame := protocol.Query(tag)
		time.AfterFunc(time.Duration(i)*c.opts.FollowupSpacing, func() {
			if err := c.send(frame); err != nil {
				slog.Warn("[FILES] follow-up query failed", "tag", fmt.Sprintf("%02X", frame[1]), "error", err)
			}
		})
	}
}

func (c *Catalog) armLocked(cycle uint64) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.opts.IdleTimeout, func() { c.expire(cycle) })
}

func (c *Catalog) expire(cycle uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cycle != cycle || c.state != Fetching {
		return
	}
	c.settleLocked(TimedOut)
	if len(c.entries) == 0 {
		slog.Warn("[FILES] no file info received (timeout)")
		return
	}
	slog.Warn("[FILES] file list incomplete (timeout)", "received", len(c.entries), "expected", c.expected)
}

func (c *Catalog) settleLocked(s State) {
	c.state = s
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Abort ends an in-flight fetch without a result, e.g. on disconnect.
func (c *Catalog) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Fetching {
		c.settleLocked(Idle)
	}
}

// Wait blocks until the current fetch cycle completes or times out and
// returns the resulting state.
func (c *Catalog) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	select {
	case <-done:
		return c.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// State returns the current fetch state.
func (c *Catalog) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Expected returns the file count the device declared, 0 if unknown.
func (c *Catalog) Expected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expected
}

// Entries returns the table sorted by serial.
func (c *Catalog) Entries() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// FindByName looks a file up by name, ignoring case and surrounding space.
func (c *Catalog) FindByName(name string) (Entry, bool) {
	needle := normalizeName(name)
	if needle == "" {
		return Entry{}, false
	}
	for _, e := range c.Entries() {
		if normalizeName(e.Name) == needle {
			return e, true
		}
	}
	return Entry{}, false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
