package cache

import (
	"time"

	"github.com/visq/visq/query"
)

// DefaultExcludeListLifetime is the idle lifetime of a per-session exclude
// list.
const DefaultExcludeListLifetime = 30 * time.Minute

// universalSession holds exclude entries added without a session id.
const universalSession = "universal"

// ExcludeList tracks, per user session, the signatures of queries whose
// caching is intentionally degraded: excluded queries are served from the
// session tier only, and error cleanup must not destroy their artifacts.
// Entries expire together with the owning session.
type ExcludeList struct {
	sessions *Session[struct{}]
}

// NewExcludeList creates an exclude list whose per-session entries expire
// after the given idle lifetime.
func NewExcludeList(lifetime time.Duration) *ExcludeList {
	if lifetime <= 0 {
		lifetime = DefaultExcludeListLifetime
	}
	return &ExcludeList{sessions: NewSession[struct{}](lifetime)}
}

func excludeSession(sesID string) string {
	if sesID == "" {
		return universalSession
	}
	return sesID
}

// Contains reports whether q is excluded for the given session (or
// universally when sesID is empty).
func (l *ExcludeList) Contains(q query.Query, sesID string) bool {
	_, ok := l.sessions.Get(excludeSession(sesID), Key(q.Signature()))
	return ok
}

// Add puts q on the exclude list for the given session.
func (l *ExcludeList) Add(q query.Query, sesID string) {
	l.sessions.Put(excludeSession(sesID), Key(q.Signature()), struct{}{})
}

// ClearSession drops every exclude entry of the given session.
func (l *ExcludeList) ClearSession(sesID string) {
	l.sessions.DeleteSession(excludeSession(sesID))
}

// Clear drops all exclude entries for all sessions.
func (l *ExcludeList) Clear() {
	l.sessions.Clear()
}

// SetClock overrides the time source. Tests only.
func (l *ExcludeList) SetClock(now func() time.Time) {
	l.sessions.SetClock(now)
}
