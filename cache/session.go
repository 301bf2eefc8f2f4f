package cache

import (
	"sync"
	"time"
)

// DefaultSessionLifetime is the idle time after which a session and all its
// data are evicted.
const DefaultSessionLifetime = 20 * time.Minute

// Session is a thread-safe two-level store: session id -> (TupleKey ->
// value), with a last-access timestamp per session. Any read or write of a
// session refreshes its timestamp; every mutating call opportunistically
// purges sessions idle longer than the configured lifetime.
type Session[V any] struct {
	mu       sync.Mutex
	sessions map[string]*sessionData[V]
	lifetime time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

type sessionData[V any] struct {
	lastUpdate time.Time
	data       map[TupleKey]V
}

// NewSession creates a session store whose sessions expire after the given
// idle lifetime.
func NewSession[V any](lifetime time.Duration) *Session[V] {
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	return &Session[V]{
		sessions: make(map[string]*sessionData[V]),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// purgeLocked drops all sessions idle longer than the lifetime. Callers
// must hold mu.
func (c *Session[V]) purgeLocked() {
	now := c.now()
	for id, ses := range c.sessions {
		if now.Sub(ses.lastUpdate) > c.lifetime {
			delete(c.sessions, id)
		}
	}
}

// Get returns the value stored under key in the given session, refreshing
// the session timestamp.
func (c *Session[V]) Get(sesID string, key TupleKey) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Purge first so an expired session is not resurrected by the access.
	c.purgeLocked()

	var zero V
	ses, ok := c.sessions[sesID]
	if !ok {
		return zero, false
	}
	ses.lastUpdate = c.now()
	v, ok := ses.data[key]
	return v, ok
}

// Put stores value under key in the given session, creating the session if
// needed and refreshing its timestamp.
func (c *Session[V]) Put(sesID string, key TupleKey, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ses, ok := c.sessions[sesID]
	if !ok {
		ses = &sessionData[V]{data: make(map[TupleKey]V)}
		c.sessions[sesID] = ses
	}
	ses.lastUpdate = c.now()
	ses.data[key] = value

	c.purgeLocked()
}

// Delete removes the value stored under key in the given session.
func (c *Session[V]) Delete(sesID string, key TupleKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ses, ok := c.sessions[sesID]; ok {
		delete(ses.data, key)
	}
	c.purgeLocked()
}

// DeletePrefix removes every value in the given session whose first n key
// components match prefix.
func (c *Session[V]) DeletePrefix(sesID string, prefix TupleKey, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ses, ok := c.sessions[sesID]; ok {
		for key := range ses.data {
			if key.HasPrefix(prefix, n) {
				delete(ses.data, key)
			}
		}
	}
	c.purgeLocked()
}

// DeletePrefixAllSessions removes, from every session, each value whose
// first n key components match prefix. Used when the owning session is not
// known to the caller.
func (c *Session[V]) DeletePrefixAllSessions(prefix TupleKey, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ses := range c.sessions {
		for key := range ses.data {
			if key.HasPrefix(prefix, n) {
				delete(ses.data, key)
			}
		}
	}
	c.purgeLocked()
}

// DeleteSession removes an entire session and all its data.
func (c *Session[V]) DeleteSession(sesID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sessions, sesID)
	c.purgeLocked()
}

// DeleteValueUnknownSession scans every session for a value stored under
// key that eq reports equal to value, and deletes each owning session. Used
// to invalidate an entry whose session id is not known to the caller.
func (c *Session[V]) DeleteValueUnknownSession(value V, key TupleKey, eq func(a, b V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ses := range c.sessions {
		if v, ok := ses.data[key]; ok && eq(v, value) {
			delete(c.sessions, id)
		}
	}
	c.purgeLocked()
}

// Clear removes all sessions.
func (c *Session[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string]*sessionData[V])
}

// SetClock overrides the time source. Tests only.
func (c *Session[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
