package collab

import (
	"sync"

	"github.com/google/uuid"
)

type Session struct {
	ID     string
	UserID string
	RoomID string
	Outbox *Outbox
}

// Sessions indexes live sessions by id, by user and by room. All three
// indices change together under one lock.
type Sessions struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byUser map[string][]string
	byRoom map[string][]string
	newID  func() string
}

func NewSessions() *Sessions {
	return &Sessions{
		byID:   map[string]*Session{},
		byUser: map[string][]string{},
		byRoom: map[string][]string{},
		newID:  uuid.NewString,
	}
}

func (s *Sessions) Create(room, user string, outbox *Outbox) *Session {
	session := &Session{
		ID:     s.newID(),
		UserID: user,
		RoomID: room,
		Outbox: outbox,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[session.ID] = session
	s.byUser[user] = append(s.byUser[user], session.ID)
	s.byRoom[room] = append(s.byRoom[room], session.ID)
	return session
}

func (s *Sessions) Remove(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	s.byUser[session.UserID] = removeID(s.byUser[session.UserID], id)
	if len(s.byUser[session.UserID]) == 0 {
		delete(s.byUser, session.UserID)
	}
	s.byRoom[session.RoomID] = removeID(s.byRoom[session.RoomID], id)
	if len(s.byRoom[session.RoomID]) == 0 {
		delete(s.byRoom, session.RoomID)
	}
	return session, true
}

// Get returns the live sessions of room in join order; an unknown room
// yields an empty list.
func (s *Sessions) Get(room string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.byRoom[room])
}

func (s *Sessions) UserSessions(user string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.byUser[user])
}

func (s *Sessions) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// UserInRoom reports whether user still has a session in room.
func (s *Sessions) UserInRoom(room, user string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byRoom[room] {
		if session, ok := s.byID[id]; ok && session.UserID == user {
			return true
		}
	}
	return false
}

func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Sessions) RoomCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.byRoom))
	for room, ids := range s.byRoom {
		out[room] = len(ids)
	}
	return out
}

func (s *Sessions) resolveLocked(ids []string) []*Session {
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if session, ok := s.byID[id]; ok {
			out = append(out, session)
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
