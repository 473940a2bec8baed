package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory with the same semantics as the
// Postgres implementation. Used by tests and single-process experiments.
type MemoryStore struct {
	mu       sync.RWMutex
	monitors map[string]*Monitor // by id
	byURLID  map[string]string   // convex_url_id -> id
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		monitors: make(map[string]*Monitor),
		byURLID:  make(map[string]string),
	}
}

func (s *MemoryStore) CreateMonitor(ctx context.Context, m *Monitor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byURLID[m.ConvexURLID]; exists {
		return false, nil
	}

	now := time.Now()
	stored := *m
	stored.IsActive = true
	stored.CurrentStatus = StatusPending
	stored.NextCheckAt = now
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.monitors[stored.ID] = &stored
	s.byURLID[stored.ConvexURLID] = stored.ID
	return true, nil
}

func (s *MemoryStore) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.monitors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) DeactivateMonitor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[id]
	if !ok {
		return ErrNotFound
	}
	m.IsActive = false
	m.UpdatedAt = time.Now()
	return nil
}

func eligible(m *Monitor, now time.Time) bool {
	if !m.IsActive || m.NextCheckAt.After(now) {
		return false
	}
	return m.SchedulerLockedUntil == nil || !m.SchedulerLockedUntil.After(now)
}

func (s *MemoryStore) SelectDueMonitors(ctx context.Context, now time.Time, limit int) ([]*Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Monitor
	for _, m := range s.monitors {
		if eligible(m, now) {
			cp := *m
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextCheckAt.Equal(due[j].NextCheckAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextCheckAt.Before(due[j].NextCheckAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) ClaimMonitor(ctx context.Context, id string, nextCheckAt, lockedUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[id]
	if !ok || !eligible(m, time.Now()) {
		return false, nil
	}
	m.NextCheckAt = nextCheckAt
	until := lockedUntil
	m.SchedulerLockedUntil = &until
	m.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ReleaseClaim(ctx context.Context, id string, nextCheckAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[id]
	if !ok {
		return nil
	}
	m.SchedulerLockedUntil = nil
	m.NextCheckAt = nextCheckAt
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RecordProbeResult(ctx context.Context, id string, out ProbeOutcome, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[id]
	if !ok {
		return ErrNotFound
	}

	checked := checkedAt
	code := out.StatusCode
	latency := out.LatencyMS

	m.LastCheckedAt = &checked
	m.CurrentStatus = out.Status
	m.LastStatusCode = &code
	m.LastLatencyMS = &latency
	m.SchedulerLockedUntil = nil
	if out.IsHealthy {
		m.ConsecutiveFailures = 0
	} else {
		m.ConsecutiveFailures++
	}
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CountActiveMonitors(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.monitors {
		if m.IsActive {
			count++
		}
	}
	return count, nil
}
