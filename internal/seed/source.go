package seed

import (
	"context"
	"errors"
	"sync"

	"github.com/agentworkforce/relaycollab/internal/collab"
)

var ErrInvalidInput = errors.New("invalid input")

// Source supplies the initial text of a room the first time it is loaded.
// found is false when the source has no document for the room; the room
// then starts empty.
type Source interface {
	Load(ctx context.Context, room string) (text string, found bool, err error)
	Close() error
}

type MemorySource struct {
	mu    sync.RWMutex
	texts map[string]string
}

func NewMemorySource() *MemorySource {
	return &MemorySource{texts: map[string]string{}}
}

func (s *MemorySource) Put(room, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[room] = text
}

func (s *MemorySource) Load(_ context.Context, room string) (string, bool, error) {
	if err := collab.ValidateRoomID(room); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.texts[room]
	return text, ok, nil
}

func (s *MemorySource) Close() error {
	return nil
}
