package controller

import (
	"sync"
	"time"

	"github.com/searchforge/candidate_merge/merge"
	"github.com/searchforge/candidate_merge/policy"
)

// Session holds the per-request merge state. All merge state is scoped to
// the session and discarded with it, which is what keeps the sent set from
// growing without bound in a long-lived process.
type Session struct {
	ID        string
	Service   *merge.Service
	Deadline  *policy.SessionDeadline
	CreatedAt time.Time

	mu      sync.Mutex
	endedAt time.Time
}

// MarkEnded records the moment the session's fallback ran.
func (s *Session) MarkEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = time.Now()
	}
}

// EndedAt returns when the session ended, zero if still live.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Registry tracks live sessions and evicts ended ones after a grace TTL so
// late stats queries still resolve.
type Registry struct {
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns a registry; ended sessions linger for ttl.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Registry{
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Get resolves a session, lazily evicting it when its grace TTL has passed.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if r.expired(session, time.Now()) {
		r.evict(id)
		return nil, false
	}
	return session, true
}

// Put stores a session, sweeping expired ones. Expired services are closed
// only after the lock is released: Close waits for in-flight sink dispatches,
// and holding the lock through that would stall every concurrent lookup.
func (r *Registry) Put(session *Session) {
	now := time.Now()
	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	r.sessions[session.ID] = session
	r.mu.Unlock()

	for _, s := range expired {
		s.Service.Close()
	}
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	endedAt := s.EndedAt()
	return !endedAt.IsZero() && now.Sub(endedAt) > r.ttl
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		session.Service.Close()
	}
}
