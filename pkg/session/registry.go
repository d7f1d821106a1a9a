package session

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tdurouchoux/home-monitoring-display/pkg/storage"
)

// ErrNotFound is returned for unknown or expired session IDs
var ErrNotFound = errors.New("session not found")

// Session is one dashboard session. It owns a WindowCache; the cache is
// dropped together with the session.
type Session struct {
	ID      string
	Created time.Time
	Cache   *storage.WindowCache

	lastUsed time.Time
	element  *list.Element
}

// Registry tracks live sessions with LRU eviction and an idle TTL
type Registry struct {
	src      storage.Source
	loc      *time.Location
	opts     []storage.Option
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	lru      *list.List
}

// NewRegistry creates a registry whose sessions cache src in loc.
// A capacity or ttl of zero disables the corresponding limit.
func NewRegistry(src storage.Source, loc *time.Location, capacity int, ttl time.Duration, opts ...storage.Option) *Registry {
	return &Registry{
		src:      src,
		loc:      loc,
		opts:     opts,
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
		lru:      list.New(),
	}
}

// Create starts a new session with an empty cache
func (r *Registry) Create() *Session {
	now := r.now()
	s := &Session{
		ID:       uuid.NewString(),
		Created:  now,
		Cache:    storage.NewWindowCache(r.src, r.loc, r.opts...),
		lastUsed: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s.element = r.lru.PushFront(s)
	r.sessions[s.ID] = s

	// Evict least recently used session if full
	if r.capacity > 0 && r.lru.Len() > r.capacity {
		if oldest := r.lru.Back(); oldest != nil {
			evicted := oldest.Value.(*Session)
			r.removeLocked(evicted.ID)
			log.Info().Str("session", evicted.ID).Msg("Evicted least recently used session")
		}
	}

	return s
}

// Get returns a live session and marks it as used
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	now := r.now()
	if r.expired(s, now) {
		r.removeLocked(id)
		return nil, ErrNotFound
	}

	s.lastUsed = now
	r.lru.MoveToFront(s.element)
	return s, nil
}

// Delete ends a session
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	r.removeLocked(id)
	return nil
}

// Sweep drops idle sessions and returns how many were removed
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	// Oldest sessions sit at the back
	for e := r.lru.Back(); e != nil; {
		s := e.Value.(*Session)
		prev := e.Prev()
		if !r.expired(s, now) {
			break
		}
		r.removeLocked(s.ID)
		removed++
		e = prev
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Int("live", len(r.sessions)).Msg("Swept idle sessions")
	}
	return removed
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	return r.ttl > 0 && now.Sub(s.lastUsed) > r.ttl
}

// removeLocked removes a session (must hold lock)
func (r *Registry) removeLocked(id string) {
	if s, ok := r.sessions[id]; ok {
		r.lru.Remove(s.element)
		delete(r.sessions, id)
	}
}
