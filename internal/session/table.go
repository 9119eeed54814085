// Package session implements the proxy's fixed-capacity, double-buffered
// session table (§3, §4.4): a hash table mapping a client IPv4 address to a
// slot index (or, for the accelerator's own table, a global socket index),
// providing coarse two-epoch TTL eviction without per-entry timers.
//
// A Table is not safe for concurrent use. Each dispatch worker owns exactly
// one table exclusively, and the accelerator worker owns a second one; no
// other goroutine ever touches either (§5).
package session

import (
	"github.com/embarknet/udprelay/internal/fnvhash"
	"github.com/embarknet/udprelay/internal/netaddr"
)

// DefaultCapacity is the table size every dispatch worker and the
// accelerator worker use (§3, §4.4): a power of two large enough that, under
// the configured slot counts, load factor never approaches the point where
// linear probing degrades or Insert's "table is full" case becomes
// reachable.
const DefaultCapacity = 4096

type entry struct {
	key      netaddr.Address
	value    int
	sequence uint64
	used     bool
}

// Table is a fixed-capacity open-addressed hash table with a double-buffer
// "epoch swap" scheme. Capacity must be a power of two.
type Table struct {
	capacity uint64
	mask     uint64

	current         []entry
	previous        []entry
	currentSequence uint64
	previousSequence uint64
}

// New constructs a table with the given capacity, which must be a power of
// two (the caller is expected to pass a value like 4096, per spec §3).
func New(capacity int) *Table {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("session: capacity must be a positive power of two")
	}
	return &Table{
		capacity:        uint64(capacity),
		mask:            uint64(capacity - 1),
		current:         make([]entry, capacity),
		previous:        make([]entry, capacity),
		currentSequence: 1,
		previousSequence: 0,
	}
}

func (t *Table) probeStart(key netaddr.Address) uint64 {
	return fnvhash.Address(key) & t.mask
}

// isLive reports whether entry e is live for the given epoch sequence (its key tag must be IPv4, per §3's liveness definition).
func isLive(e *entry, sequence uint64) bool {
	return e.used && e.sequence == sequence && e.key.Kind == netaddr.KindIPv4
}

// Insert assumes key is not already present in the current epoch. It
// linear-probes from hash(key) skipping live current-epoch entries, writing
// key/value/currentSequence at the first available slot. Behavior is
// undefined if the table is full (unreachable under the configured load
// factors, per §4.4).
func (t *Table) Insert(key netaddr.Address, value int) {
	idx := t.probeStart(key)
	for i := uint64(0); i < t.capacity; i++ {
		slot := (idx + i) & t.mask
		e := &t.current[slot]
		if !isLive(e, t.currentSequence) {
			e.key = key
			e.value = value
			e.sequence = t.currentSequence
			e.used = true
			return
		}
	}
}

// Get probes the current epoch until an empty entry or a match; on miss it
// probes the previous epoch, promoting a previous-epoch hit into the
// current epoch before returning it. Returns -1 on a full miss.
func (t *Table) Get(key netaddr.Address) int {
	idx := t.probeStart(key)

	for i := uint64(0); i < t.capacity; i++ {
		slot := (idx + i) & t.mask
		e := &t.current[slot]
		if !isLive(e, t.currentSequence) {
			break
		}
		if e.key.Equal(key) {
			return e.value
		}
	}

	for i := uint64(0); i < t.capacity; i++ {
		slot := (idx + i) & t.mask
		e := &t.previous[slot]
		if !isLive(e, t.previousSequence) {
			break
		}
		if e.key.Equal(key) {
			t.Insert(key, e.value)
			return e.value
		}
	}

	return -1
}

// Update inserts (key, value) iff key is not already present in either
// epoch, returning true iff it performed the insert. Used by the
// accelerator worker to detect newly-observed sessions (§4.7c).
func (t *Table) Update(key netaddr.Address, value int) bool {
	if t.Get(key) >= 0 {
		return false
	}
	t.Insert(key, value)
	return true
}

// Swap increments the epoch counters and flips current/previous, so that
// entries live before the swap become the "previous" set (still visible to
// Get) and, after a second swap with no intervening re-insert, are gone.
func (t *Table) Swap() {
	t.current, t.previous = t.previous, t.current
	t.previousSequence = t.currentSequence
	t.currentSequence++
}
