package parking

import (
	"sort"
	"strings"
	"sync"

	"parkinglot/parking-server/internal/model"
)

// Filter narrows a session listing. Query matches plate or category,
// case-insensitively.
type Filter struct {
	Category model.Category
	Query    string
}

func (f Filter) matches(s model.ParkingSession) bool {
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s.Plate), q) ||
		strings.Contains(strings.ToLower(string(s.Category)), q)
}

// Registry caches active sessions by plate.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]model.ParkingSession
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]model.ParkingSession)}
}

func (r *Registry) Get(plate string) (model.ParkingSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[plate]
	return s, ok
}

func (r *Registry) Put(s model.ParkingSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Plate] = s
}

func (r *Registry) Remove(plate string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, plate)
}

// Replace swaps the whole cache for sessions.
func (r *Registry) Replace(sessions []model.ParkingSession) {
	next := make(map[string]model.ParkingSession, len(sessions))
	for _, s := range sessions {
		next[s.Plate] = s
	}

	r.mu.Lock()
	r.sessions = next
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the sessions matching f, oldest entry first.
func (r *Registry) List(f Filter) []model.ParkingSession {
	r.mu.RLock()
	out := make([]model.ParkingSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		if f.matches(s) {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTimestamp != out[j].EntryTimestamp {
			return out[i].EntryTimestamp < out[j].EntryTimestamp
		}
		return out[i].Plate < out[j].Plate
	})
	return out
}
