package core

import "sort"

// Registry is the in-memory mapping from session id to Session, plus
// the two admission caps (session count and aggregate byte total).
// Every mutation is expected to come from the single event-loop
// goroutine — no internal locking.
type Registry struct {
	sessions   map[string]*Session
	sessionCap int
	byteCap    int64
	totalBytes int64
}

// NewRegistry creates an empty Registry enforcing the given caps. A
// zero cap means "unlimited" for that dimension.
func NewRegistry(sessionCap int, byteCap int64) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		sessionCap: sessionCap,
		byteCap:    byteCap,
	}
}

// CanAdmit reports whether a new upload of the given size would fit
// under both caps, evaluated after the full payload has been received.
func (r *Registry) CanAdmit(size int64) *Error {
	if r.sessionCap > 0 && len(r.sessions) >= r.sessionCap {
		return NewError(CodeMaxSessions, "registry already holds the maximum of %d sessions", r.sessionCap)
	}
	if r.byteCap > 0 && r.totalBytes+size > r.byteCap {
		return NewError(CodeMaxTotalBytes, "admitting %d bytes would exceed the aggregate cap of %d", size, r.byteCap)
	}
	return nil
}

// Insert adds a newly admitted session and accounts its size against
// the aggregate byte cap. Callers must have already checked CanAdmit.
func (r *Registry) Insert(s *Session) {
	r.sessions[s.ID] = s
	r.totalBytes += s.Size
}

// Lookup returns the session with the given id, or (nil, false).
func (r *Registry) Lookup(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// List returns every session, sorted by id for deterministic output.
func (r *Registry) List() []*Session {
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Remove deletes a session from the registry and decrements the
// aggregate byte counter. It does not release the session's image or
// any live runtime resources — callers (internal/daemon's DELETE
// handler) must ensure the session is terminal and close its Image
// first.
func (r *Registry) Remove(id string) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	r.totalBytes -= s.Size
}

// Len returns the current number of sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// TotalBytes returns the current aggregate byte count across all live
// sessions.
func (r *Registry) TotalBytes() int64 {
	return r.totalBytes
}
