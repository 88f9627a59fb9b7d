package snapshot

import (
	"sync"
	"time"

	"bioguard/internal/model"
)

// Store holds the latest read-only snapshot per session for the UI
// collaborator's pull API. Consumers never see partial updates: each cycle
// replaces the whole snapshot.
type Store struct {
	mu        sync.RWMutex
	bySession map[string]model.Snapshot
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		bySession: make(map[string]model.Snapshot),
		limit:     limit,
	}
}

func (s *Store) Update(snap model.Snapshot) {
	if snap.SessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession[snap.SessionID] = snap
	if len(s.bySession) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(sessionID string) (model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.bySession[sessionID]
	return snap, ok
}

func (s *Store) GetAll() []model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Snapshot, 0, len(s.bySession))
	for _, snap := range s.bySession {
		out = append(out, snap)
	}
	return out
}

func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySession, sessionID)
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, snap := range s.bySession {
		if oldestID == "" || snap.UpdatedAt.Before(oldest) {
			oldestID = id
			oldest = snap.UpdatedAt
		}
	}
	if oldestID != "" {
		delete(s.bySession, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession = make(map[string]model.Snapshot)
}
