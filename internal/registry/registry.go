package registry

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"radiology-simulator/internal/models"
)

// Identifier errors. These are usage errors: surfaced to the caller
// immediately and never retried.
var (
	ErrDuplicateIdentifier = errors.New("registry: identifier already bound to a different patient")
	ErrUnknownPatient      = errors.New("registry: unknown patient")
	ErrAlreadyBound        = errors.New("registry: accession already bound to a different study UID")
	ErrNotFound            = errors.New("registry: not found")
)

// CaseStore is the persistence the registry needs. Get and Find return
// (nil, nil) when no case matches.
type CaseStore interface {
	Get(ctx context.Context, scope, patientID string) (*models.Case, error)
	Find(ctx context.Context, scope, key string) (*models.Case, error)
	Save(ctx context.Context, c models.Case) error
	List(ctx context.Context, scope string) ([]models.Case, error)
}

// Registry allocates and validates the three correlation keys (PatientID,
// AccessionNumber, StudyInstanceUID). It is the sole writer of identifier
// fields; other components read them through case snapshots.
type Registry struct {
	store CaseStore
	now   func() time.Time

	// serializes accession sequencing; per-case locks do not cover it
	accMu sync.Mutex
}

func New(store CaseStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// ScopedID applies the session scope prefix to a raw identifier.
// Soft isolation only: the prefix is a display filter, not a security
// boundary. Unscoped identifiers pass through unchanged.
func ScopedID(scope, raw string) string {
	raw = strings.TrimSpace(raw)
	if scope == "" || raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, scope+"-") {
		return raw
	}
	return scope + "-" + raw
}

// AllocatePatient registers a patient identifier within scope and returns
// the admitted case. Re-registering the same id with the same name is
// idempotent; with a different name it fails with ErrDuplicateIdentifier.
func (r *Registry) AllocatePatient(ctx context.Context, scope, name, requestedID string) (models.Case, error) {
	pid := ScopedID(scope, requestedID)
	if pid == "" {
		return models.Case{}, fmt.Errorf("%w: empty patient id", ErrNotFound)
	}
	name = sanitizeName(name)
	if name == "" {
		name = "^"
	}

	existing, err := r.store.Get(ctx, scope, pid)
	if err != nil {
		return models.Case{}, err
	}
	if existing != nil {
		if existing.PatientName != name {
			return models.Case{}, fmt.Errorf("%w: %s", ErrDuplicateIdentifier, pid)
		}
		return existing.Snapshot(), nil
	}

	now := r.now()
	c := models.Case{
		Scope:       scope,
		PatientID:   pid,
		PatientName: name,
		Status:      models.StatusAdmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Save(ctx, c); err != nil {
		return models.Case{}, err
	}
	return c, nil
}

// AllocateAccession assigns a fresh accession number to the patient's case.
// A case that already carries an accession keeps it: the registry never
// allocates a second accession for the same case.
func (r *Registry) AllocateAccession(ctx context.Context, scope, patientID string) (string, error) {
	r.accMu.Lock()
	defer r.accMu.Unlock()

	c, err := r.store.Get(ctx, scope, ScopedID(scope, patientID))
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownPatient, patientID)
	}
	if c.AccessionNumber != "" {
		return c.AccessionNumber, nil
	}

	n, err := r.nextAccessionSeq(ctx, scope)
	if err != nil {
		return "", err
	}
	acc := ScopedID(scope, fmt.Sprintf("ACC%03d", n))
	c.AccessionNumber = acc
	c.UpdatedAt = r.now()
	if err := r.store.Save(ctx, *c); err != nil {
		return "", err
	}
	return acc, nil
}

// BindStudyUID binds a study UID to the case holding the accession.
// Rebinding the same UID succeeds; a different UID fails with ErrAlreadyBound.
func (r *Registry) BindStudyUID(ctx context.Context, scope, accessionNumber, uid string) error {
	c, err := r.store.Find(ctx, scope, accessionNumber)
	if err != nil {
		return err
	}
	if c == nil || c.AccessionNumber != accessionNumber {
		return fmt.Errorf("%w: accession %s", ErrNotFound, accessionNumber)
	}
	if c.StudyInstanceUID != "" {
		if c.StudyInstanceUID == uid {
			return nil
		}
		return fmt.Errorf("%w: accession %s has %s", ErrAlreadyBound, accessionNumber, c.StudyInstanceUID)
	}
	c.StudyInstanceUID = uid
	c.UpdatedAt = r.now()
	return r.store.Save(ctx, *c)
}

// Lookup resolves a case snapshot by patient id, accession number or
// study instance UID.
func (r *Registry) Lookup(ctx context.Context, scope, key string) (models.Case, error) {
	c, err := r.store.Find(ctx, scope, key)
	if err != nil {
		return models.Case{}, err
	}
	if c == nil {
		return models.Case{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return c.Snapshot(), nil
}

// DeriveStudyUID derives a deterministic StudyInstanceUID from an accession
// number, so worklist entries and stored images agree before any image
// exists. The root is a demo UID arc.
func DeriveStudyUID(accessionNumber string) string {
	digest := md5.Sum([]byte(accessionNumber + ".study"))
	n := new(big.Int).SetBytes(digest[:])
	dec := n.String()
	if len(dec) > 10 {
		dec = dec[:10]
	}
	return "1.2.826.0.1.3680043.2." + dec
}

func (r *Registry) nextAccessionSeq(ctx context.Context, scope string) (int, error) {
	cases, err := r.store.List(ctx, scope)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, c := range cases {
		acc := c.AccessionNumber
		if scope != "" {
			acc = strings.TrimPrefix(acc, scope+"-")
		}
		if !strings.HasPrefix(acc, "ACC") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(acc, "ACC")); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

// sanitizeName keeps patient names single-line and free of HL7 separators.
func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.ReplaceAll(s, "~", "-")
	s = strings.ReplaceAll(s, "\\", "/")
	return strings.TrimSpace(s)
}
