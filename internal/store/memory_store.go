package store

import (
	"context"
	"sync"

	"radiology-simulator/internal/models"
)

// MemoryStore is the default case/report store: session-scoped, in-process.
// An empty scope on reads means the unfiltered trainer view.
type MemoryStore struct {
	mu      sync.RWMutex
	cases   []*models.Case
	reports []models.Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context, scope, patientID string) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cases {
		if c.Scope == scope && c.PatientID == patientID {
			snap := c.Snapshot()
			return &snap, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Find(ctx context.Context, scope, key string) (*models.Case, error) {
	if key == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cases {
		if scope != "" && c.Scope != scope {
			continue
		}
		if c.PatientID == key || c.AccessionNumber == key || (c.StudyInstanceUID != "" && c.StudyInstanceUID == key) {
			snap := c.Snapshot()
			return &snap, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Save(ctx context.Context, c models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.cases {
		if cur.Scope == c.Scope && cur.PatientID == c.PatientID {
			snap := c.Snapshot()
			s.cases[i] = &snap
			return nil
		}
	}
	snap := c.Snapshot()
	s.cases = append(s.cases, &snap)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, scope string) ([]models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Case, 0, len(s.cases))
	for _, c := range s.cases {
		if scope != "" && c.Scope != scope {
			continue
		}
		out = append(out, c.Snapshot())
	}
	return out, nil
}

func (s *MemoryStore) SaveReport(ctx context.Context, rep models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
	return nil
}

func (s *MemoryStore) ListReports(ctx context.Context, scope string) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Report, 0, len(s.reports))
	for _, r := range s.reports {
		if scope != "" && r.Scope != scope {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
