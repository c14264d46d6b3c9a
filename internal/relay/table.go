package relay

import (
	"maps"
	"slices"
	"time"
)

// Table is the set of live sessions, keyed by session ID.
//
// Iteration order is ascending ID, which is creation order. Removal never
// invalidates an iteration in progress because iteration walks a sorted copy
// of the keys.
type Table struct {
	sessions map[SessionID]*Session
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{sessions: make(map[SessionID]*Session)}
}

// Insert adds s to the table, replacing any session with the same ID.
func (t *Table) Insert(s *Session) {
	t.sessions[s.ID] = s
}

// Get returns the session with the given ID, or nil.
func (t *Table) Get(id SessionID) *Session {
	return t.sessions[id]
}

// Remove deletes and returns the session with the given ID, or nil if it
// is not present. The session is not closed.
func (t *Table) Remove(id SessionID) *Session {
	s, ok := t.sessions[id]
	if !ok {
		return nil
	}
	delete(t.sessions, id)
	return s
}

// Len returns the number of sessions.
func (t *Table) Len() int {
	return len(t.sessions)
}

// IDs returns the session IDs in ascending order.
func (t *Table) IDs() []SessionID {
	return slices.Sorted(maps.Keys(t.sessions))
}

// All returns the sessions in ascending ID order.
func (t *Table) All() []*Session {
	ids := t.IDs()
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.sessions[id])
	}
	return out
}

// Expired returns the IDs of sessions idle longer than timeout at now, in
// ascending order. Callers remove them after the scan.
func (t *Table) Expired(now time.Time, timeout time.Duration) []SessionID {
	var expired []SessionID
	for _, id := range t.IDs() {
		if t.sessions[id].IsExpired(now, timeout) {
			expired = append(expired, id)
		}
	}
	return expired
}
