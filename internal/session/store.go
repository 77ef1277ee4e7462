package session

import (
	"fmt"
	"sort"
	"sync"
)

// Store is the session registry. Its lock is held only while a session is
// added, removed or looked up, never while a session reads or decodes.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// nextName numbers "Terminal N" display names for the process lifetime.
	nextName int
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// Add registers s, assigning a display name if it has none. It fails if the
// id is already taken.
func (st *Store) Add(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[s.id]; ok {
		return fmt.Errorf("session %s: %w", s.id, ErrDuplicate)
	}
	st.nextName++
	if s.name == "" {
		s.name = fmt.Sprintf("Terminal %d", st.nextName)
	}
	st.sessions[s.id] = s
	return nil
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// GetAll returns the registered sessions, oldest first.
func (st *Store) GetAll() []*Session {
	st.mu.RLock()
	result := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		result = append(result, s)
	}
	st.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].createdAt.Equal(result[j].createdAt) {
			return result[i].id < result[j].id
		}
		return result[i].createdAt.Before(result[j].createdAt)
	})
	return result
}

func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
