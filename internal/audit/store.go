package audit

import (
	"sync"
	"time"

	"bioguard/internal/model"
)

// Store is the bounded append-only transition log. Records are never
// edited once added; the ring drops the oldest entries when full.
type Store struct {
	mu      sync.RWMutex
	buf     []model.TransitionRecord
	limit   int
	posture int
}

// Posture score bounds, severity-driven. The score is a coarse health
// indicator for the status endpoint, not an enforcement input.
const (
	postureStart = 850
	postureMin   = 500
	postureMax   = 1000
)

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit, posture: postureStart}
}

func (s *Store) Add(rec model.TransitionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posture += postureImpact(rec.Severity)
	if s.posture < postureMin {
		s.posture = postureMin
	}
	if s.posture > postureMax {
		s.posture = postureMax
	}
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
}

func (s *Store) List(limit int) []model.TransitionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.TransitionRecord, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.TransitionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TransitionRecord, 0)
	for _, rec := range s.buf {
		if !rec.Timestamp.Before(ts) {
			out = append(out, rec)
		}
	}
	return out
}

// Posture returns the current security posture score in [500,1000].
func (s *Store) Posture() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.posture
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.posture = postureStart
}

func postureImpact(severity model.Severity) int {
	switch severity {
	case model.SeverityCritical:
		return -50
	case model.SeverityHigh:
		return -30
	case model.SeverityMedium:
		return -15
	case model.SeverityLow:
		return -5
	default:
		return 1
	}
}
