package registry

import (
	"errors"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of clients that can be subscribed at the same time
const DefaultCapacity = 4

var (
	// ErrFull is returned by Add when every slot is active
	ErrFull = errors.New("subscriber registry full")

	// ErrNotFound is returned by Remove when no active slot holds the address
	ErrNotFound = errors.New("subscriber not found")

	// ErrAlreadySubscribed is returned by Add when the address already holds a slot.
	// The returned slot is the existing one and the registry is unchanged.
	ErrAlreadySubscribed = errors.New("subscriber already registered")
)

// Entry is one slot of the subscriber table
type Entry struct {
	ID     uuid.UUID      `json:"id"`
	Addr   netip.AddrPort `json:"address"`
	Active bool           `json:"active"`
	Since  time.Time      `json:"since"`
}

// Snapshot is an immutable copy of the table in slot order
type Snapshot []Entry

// ActiveEntries returns the active entries in slot order
func (s Snapshot) ActiveEntries() []Entry {
	active := make([]Entry, 0, len(s))
	for _, e := range s {
		if e.Active {
			active = append(active, e)
		}
	}
	return active
}

// ActiveCount returns the number of active entries
func (s Snapshot) ActiveCount() int {
	return countActive(s)
}

func countActive(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Active {
			n++
		}
	}
	return n
}

// Registry is the subscriber table. It is not safe for concurrent use.
type Registry struct {
	slots []Entry
	now   func() time.Time
}

// New creates a registry with the given number of slots
func New(capacity int) *Registry {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	return &Registry{
		slots: make([]Entry, capacity),
		now:   time.Now,
	}
}

// Add stores addr in the first inactive slot and returns the slot index
func (r *Registry) Add(addr netip.AddrPort) (int, error) {
	addr = normalize(addr)

	if slot := r.find(addr); slot >= 0 {
		return slot, ErrAlreadySubscribed
	}

	for i := range r.slots {
		if !r.slots[i].Active {
			r.slots[i] = Entry{
				ID:     uuid.New(),
				Addr:   addr,
				Active: true,
				Since:  r.now(),
			}
			return i, nil
		}
	}

	return -1, ErrFull
}

// Remove marks the active slot holding addr (host and port) as inactive
func (r *Registry) Remove(addr netip.AddrPort) (int, error) {
	slot := r.find(normalize(addr))
	if slot < 0 {
		return -1, ErrNotFound
	}

	r.slots[slot].Active = false
	return slot, nil
}

// Lookup returns the active entry holding addr
func (r *Registry) Lookup(addr netip.AddrPort) (Entry, bool) {
	slot := r.find(normalize(addr))
	if slot < 0 {
		return Entry{}, false
	}
	return r.slots[slot], true
}

// Snapshot returns a full copy of the table
func (r *Registry) Snapshot() Snapshot {
	snap := make(Snapshot, len(r.slots))
	copy(snap, r.slots)
	return snap
}

// Active returns the number of active slots
func (r *Registry) Active() int {
	return countActive(r.slots)
}

// Capacity returns the number of slots
func (r *Registry) Capacity() int {
	return len(r.slots)
}

func (r *Registry) find(addr netip.AddrPort) int {
	for i, e := range r.slots {
		if e.Active && e.Addr == addr {
			return i
		}
	}
	return -1
}

// normalize maps IPv4-in-IPv6 addresses to plain IPv4 so both forms compare equal
func normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
