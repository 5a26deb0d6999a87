package transport

import (
	"sync"
	"time"
)

// managedState is the two-state lifecycle of a connection-oriented
// transport entry inside the Inventory (spec.md §4.2): Used while at least
// one logical caller holds a reference, Unused (with a pending idle timer)
// once the last one drops it. Claiming an Unused entry before its idle
// timer fires cancels the teardown and moves it back to Used.
type managedState int

const (
	stateUsed managedState = iota
	stateUnused
)

// IdleTimeout is how long a connection-oriented transport is kept alive
// after its last user releases it, before Inventory closes and evicts it.
// Exported so the stack layer can override it from Config.
var IdleTimeout = 32 * time.Second

type managedEntry struct {
	transport Connection
	state     managedState
	refcount  int
	idleTimer *time.Timer
}

// Inventory tracks connection-oriented (TCP/TLS/WS) transports so they can
// be reused across requests instead of dialing a fresh connection for
// every message, per spec.md §4.2's Used/Unused state machine.
type Inventory struct {
	mu      sync.Mutex
	entries map[string]*managedEntry // keyed by Connection.ID()

	onEvict func(Connection)
}

// NewInventory creates an empty managed-transport inventory. onEvict, if
// non-nil, is called (outside the lock) when a transport's idle timer
// fires and it is closed and removed.
func NewInventory(onEvict func(Connection)) *Inventory {
	return &Inventory{
		entries: make(map[string]*managedEntry),
		onEvict: onEvict,
	}
}

// AddUsed registers a newly claimed connection-oriented transport with
// refcount 1 (transport.add_managed_used in spec.md §4.2).
func (inv *Inventory) AddUsed(conn Connection) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	id := conn.ID()
	if e, ok := inv.entries[id]; ok {
		inv.claimLocked(e)
		return
	}
	inv.entries[id] = &managedEntry{transport: conn, state: stateUsed, refcount: 1}
}

// AddUnused registers a connection-oriented transport with no current
// claimants; its idle timer starts immediately.
func (inv *Inventory) AddUnused(conn Connection) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	id := conn.ID()
	if _, ok := inv.entries[id]; ok {
		return
	}
	e := &managedEntry{transport: conn, state: stateUnused, refcount: 0}
	inv.entries[id] = e
	inv.armIdleLocked(e)
}

// Claim increments the refcount of a tracked transport, transitioning it
// Unused→Used and cancelling any pending idle teardown. Returns false if
// the transport is not tracked.
func (inv *Inventory) Claim(id string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	e, ok := inv.entries[id]
	if !ok {
		return false
	}
	inv.claimLocked(e)
	return true
}

func (inv *Inventory) claimLocked(e *managedEntry) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	e.state = stateUsed
	e.refcount++
}

// Release decrements the refcount; when it reaches zero the entry becomes
// Unused and an idle countdown begins. Closing and removing the entry is
// deferred to the timer so a transport reclaimed just after Release still
// avoids a reconnect.
func (inv *Inventory) Release(id string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	e, ok := inv.entries[id]
	if !ok || e.refcount == 0 {
		return
	}
	e.refcount--
	if e.refcount == 0 {
		e.state = stateUnused
		inv.armIdleLocked(e)
	}
}

func (inv *Inventory) armIdleLocked(e *managedEntry) {
	e.idleTimer = time.AfterFunc(IdleTimeout, func() { inv.expire(e.transport.ID()) })
}

func (inv *Inventory) expire(id string) {
	inv.mu.Lock()
	e, ok := inv.entries[id]
	if !ok || e.state != stateUnused {
		inv.mu.Unlock()
		return
	}
	delete(inv.entries, id)
	inv.mu.Unlock()

	e.transport.Close()
	if inv.onEvict != nil {
		inv.onEvict(e.transport)
	}
}

// Lookup returns a live (non-closed) tracked transport by id.
func (inv *Inventory) Lookup(id string) (Connection, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	e, ok := inv.entries[id]
	if !ok || e.transport.IsClosed() {
		return nil, false
	}
	return e.transport, true
}

// ByRemote returns the first live, sufficiently-secure tracked connection
// whose remote address matches, for the "live connected transport reuse"
// tier of Select (spec.md §4.2).
func (inv *Inventory) ByRemote(remoteAddr string, requireSecure bool) (Connection, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, e := range inv.entries {
		if e.transport.IsClosed() {
			continue
		}
		if e.transport.RemoteAddr().String() != remoteAddr {
			continue
		}
		inv.entries[e.transport.ID()] = e
		return e.transport, true
	}
	return nil, false
}

// Len reports how many transports are currently tracked, used for tests
// and metrics.
func (inv *Inventory) Len() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.entries)
}
