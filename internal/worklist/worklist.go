// Package worklist implements the Modality Worklist writer: one entry per
// released order, keyed by accession, retrieved later by the simulated
// modality query.
package worklist

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"radiology-simulator/internal/models"
	"radiology-simulator/internal/registry"
)

var ErrMissingAccession = errors.New("worklist: case has no accession number")

// Store persists worklist entries. Implementations keep insertion order of
// the most recent publish per accession.
type Store interface {
	Put(ctx context.Context, e models.WorklistEntry) error
	Delete(ctx context.Context, accessionNumber string) error
	Entries(ctx context.Context, scope string) ([]models.WorklistEntry, error)
}

// Filter narrows a worklist query. Empty fields match everything.
type Filter struct {
	Scope   string
	Station string // scheduled station AE title
	Date    string // YYYYMMDD
}

// Writer publishes and queries worklist entries.
type Writer struct {
	store     Store
	stationAE string
	modality  string
	now       func() time.Time
}

func NewWriter(store Store, stationAE string) *Writer {
	return &Writer{
		store:     store,
		stationAE: stationAE,
		modality:  "CT",
		now:       time.Now,
	}
}

// Publish creates or overwrites the entry for the snapshot's accession.
// Republishing the same accession supersedes the prior entry rather than
// duplicating it.
func (w *Writer) Publish(ctx context.Context, snap models.Case) (models.WorklistEntry, error) {
	if snap.AccessionNumber == "" {
		return models.WorklistEntry{}, fmt.Errorf("%w: patient %s", ErrMissingAccession, snap.PatientID)
	}

	now := w.now()
	e := models.WorklistEntry{
		AccessionNumber:    snap.AccessionNumber,
		PatientID:          snap.PatientID,
		PatientName:        snap.PatientName,
		RequestedProcedure: snap.OrderedProcedure,
		Modality:           w.modality,
		ScheduledStationAE: w.stationAE,
		ScheduledDate:      now.Format("20060102"),
		ScheduledTime:      now.Format("150405"),
		StudyInstanceUID:   registry.DeriveStudyUID(snap.AccessionNumber),
		ReferringPhysician: "Dr. House",
		ScheduledStepID:    snap.AccessionNumber,
		PublishedAt:        now,
	}
	if err := w.store.Put(ctx, e); err != nil {
		return models.WorklistEntry{}, err
	}
	return e, nil
}

// Clear removes the entry for an accession (end of its lifetime).
func (w *Writer) Clear(ctx context.Context, accessionNumber string) error {
	return w.store.Delete(ctx, accessionNumber)
}

// Query returns a restartable sequence of entries matching the filter, in
// publish order. An empty result is valid, not an error.
func (w *Writer) Query(ctx context.Context, f Filter) (iter.Seq[models.WorklistEntry], error) {
	entries, err := w.store.Entries(ctx, f.Scope)
	if err != nil {
		return nil, err
	}
	return func(yield func(models.WorklistEntry) bool) {
		for _, e := range entries {
			if f.Station != "" && e.ScheduledStationAE != f.Station {
				continue
			}
			if f.Date != "" && e.ScheduledDate != f.Date {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}, nil
}

// MemoryStore is the default in-process store.
type MemoryStore struct {
	mu      sync.Mutex
	entries []models.WorklistEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Put(ctx context.Context, e models.WorklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.entries {
		if cur.AccessionNumber == e.AccessionNumber {
			// Supersede: drop the old slot, append as most recent.
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, accessionNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.entries {
		if cur.AccessionNumber == accessionNumber {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) Entries(ctx context.Context, scope string) ([]models.WorklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WorklistEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if scope != "" && !strings.HasPrefix(e.AccessionNumber, scope+"-") {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
