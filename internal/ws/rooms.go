package ws

import (
	"strconv"
	"sync"
)

const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
)

// UserRoom names the notification room holding every session of a user.
func UserRoom(userID int64) string {
	return userRoomPrefix + strconv.FormatInt(userID, 10)
}

// ConversationRoom names the room of sessions currently viewing a thread.
func ConversationRoom(conversationID int64) string {
	return conversationRoomPrefix + strconv.FormatInt(conversationID, 10)
}

// rooms maps room names to member sessions and back.
type rooms struct {
	mu        sync.RWMutex
	members   map[string]map[*Session]struct{}
	bySession map[*Session]map[string]struct{}
}

func newRooms() *rooms {
	return &rooms{
		members:   make(map[string]map[*Session]struct{}),
		bySession: make(map[*Session]map[string]struct{}),
	}
}

func (r *rooms) join(room string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[room] == nil {
		r.members[room] = make(map[*Session]struct{})
	}
	r.members[room][s] = struct{}{}
	if r.bySession[s] == nil {
		r.bySession[s] = make(map[string]struct{})
	}
	r.bySession[s][room] = struct{}{}
}

func (r *rooms) leave(room string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(room, s)
}

// leaveAll removes s from every room it joined.
func (r *rooms) leaveAll(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.bySession[s] {
		r.removeLocked(room, s)
	}
	delete(r.bySession, s)
}

func (r *rooms) removeLocked(room string, s *Session) {
	if m, ok := r.members[room]; ok {
		delete(m, s)
		if len(m) == 0 {
			delete(r.members, room)
		}
	}
	if joined, ok := r.bySession[s]; ok {
		delete(joined, room)
	}
}

// snapshot returns the current members of a room. Callers deliver outside
// the lock so a slow session never holds up joins and leaves.
func (r *rooms) snapshot(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*Session, 0, len(r.members[room]))
	for s := range r.members[room] {
		res = append(res, s)
	}
	return res
}

func (r *rooms) isMember(room string, s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[room][s]
	return ok
}
