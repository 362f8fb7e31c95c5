package engine

import (
	"context"
	"sort"
	"sync"

	"trackline/internal/domain"
	"trackline/internal/repo"
)

// MemoryStore keeps snapshots and initiatives in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	snapshots   map[string]domain.Snapshot
	initiatives []domain.Initiative
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]domain.Snapshot)}
}

func (m *MemoryStore) HasSnapshot(_ context.Context, date string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.snapshots[date]
	return ok, nil
}

func (m *MemoryStore) GetSnapshot(_ context.Context, date string) (domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[date]
	if !ok {
		return domain.Snapshot{}, repo.ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

func (m *MemoryStore) PutSnapshot(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[snap.Date]; ok {
		return repo.ConflictError{Date: snap.Date}
	}
	m.snapshots[snap.Date] = cloneSnapshot(snap)
	return nil
}

func (m *MemoryStore) SnapshotDates(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dates := make([]string, 0, len(m.snapshots))
	for d := range m.snapshots {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

func (m *MemoryStore) ListInitiatives(_ context.Context) ([]domain.Initiative, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Initiative{}, m.initiatives...), nil
}

func (m *MemoryStore) GetInitiative(_ context.Context, id string) (domain.Initiative, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(id); i >= 0 {
		return m.initiatives[i], nil
	}
	return domain.Initiative{}, repo.ErrNotFound
}

func (m *MemoryStore) InsertInitiative(_ context.Context, in domain.Initiative, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(in.ID) >= 0 {
		return repo.ErrConflict
	}
	m.initiatives = append(m.initiatives, in)
	return nil
}

func (m *MemoryStore) UpdateInitiative(_ context.Context, in domain.Initiative, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(in.ID)
	if i < 0 {
		return repo.ErrNotFound
	}
	in.CreatedAt = m.initiatives[i].CreatedAt
	m.initiatives[i] = in
	return nil
}

func (m *MemoryStore) UpsertInitiatives(_ context.Context, items []domain.Initiative, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range items {
		if i := m.indexOf(in.ID); i >= 0 {
			in.CreatedAt = m.initiatives[i].CreatedAt
			m.initiatives[i] = in
			continue
		}
		m.initiatives = append(m.initiatives, in)
	}
	return len(items), nil
}

func (m *MemoryStore) indexOf(id string) int {
	for i, in := range m.initiatives {
		if in.ID == id {
			return i
		}
	}
	return -1
}

func cloneSnapshot(s domain.Snapshot) domain.Snapshot {
	s.Initiatives = append([]domain.InitiativeState{}, s.Initiatives...)
	return s
}
