package ws

import "sync"

// Registry tracks which live sessions belong to which user. It is mutated on
// connect and disconnect only, so one mutex guards both directions.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]map[string]*Session
	byID   map[string]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]map[string]*Session),
		byID:   make(map[string]int64),
	}
}

// Add registers s for userID. It reports whether this is the user's first
// live session.
func (r *Registry) Add(userID int64, s *Session) (cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.byUser[userID]
	if !ok {
		sessions = make(map[string]*Session)
		r.byUser[userID] = sessions
	}
	sessions[s.ID()] = s
	r.byID[s.ID()] = userID
	return !ok
}

// Remove unregisters a session. It reports the owning user and whether that
// user has no sessions left. Removing an unknown session is a no-op.
func (r *Registry) Remove(sessionID string) (userID int64, wentOffline bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byID[sessionID]
	if !ok {
		return 0, false, false
	}
	delete(r.byID, sessionID)

	sessions := r.byUser[userID]
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.byUser, userID)
		return userID, true, true
	}
	return userID, false, true
}

// Sessions returns a snapshot of the user's live sessions.
func (r *Registry) Sessions(userID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*Session, 0, len(r.byUser[userID]))
	for _, s := range r.byUser[userID] {
		res = append(res, s)
	}
	return res
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OwnerOf returns the user a session was registered for.
func (r *Registry) OwnerOf(sessionID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byID[sessionID]
	return userID, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
