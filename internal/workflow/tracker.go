package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"radiology-simulator/internal/models"
	"radiology-simulator/internal/registry"
)

// TransitionError reports an event fired in a state that does not allow it.
// The case is left unchanged.
type TransitionError struct {
	Event string
	From  models.CaseStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workflow: %s not allowed in state %q", e.Event, e.From)
}

// Tracker is the per-case state machine: admitted, ordered, worklisted,
// scanned, stored, queried, retrieved, reported. Transitions for one case
// are linearized through a per-case mutex; different cases proceed in
// parallel.
type Tracker struct {
	store    CaseStore
	ids      Identifiers
	worklist WorklistPublisher
	gateway  ImageGateway
	reports  ReportStore
	now      func() time.Time

	mu        sync.Mutex
	caseLocks map[string]*sync.Mutex
	// studies with an outstanding retrieve request, keyed by StudyInstanceUID
	pendingMoves map[string]bool
}

func NewTracker(store CaseStore, ids Identifiers, wl WorklistPublisher, gw ImageGateway, reports ReportStore) *Tracker {
	return &Tracker{
		store:        store,
		ids:          ids,
		worklist:     wl,
		gateway:      gw,
		reports:      reports,
		now:          time.Now,
		caseLocks:    make(map[string]*sync.Mutex),
		pendingMoves: make(map[string]bool),
	}
}

func (t *Tracker) lockCase(scope, patientID string) func() {
	key := scope + "\x00" + registry.ScopedID(scope, patientID)
	t.mu.Lock()
	l, ok := t.caseLocks[key]
	if !ok {
		l = &sync.Mutex{}
		t.caseLocks[key] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Admit registers a patient and admits the case. Re-admitting the same
// patient with the same name is a no-op returning the current case.
func (t *Tracker) Admit(ctx context.Context, scope, name, requestedID string) (models.Case, error) {
	unlock := t.lockCase(scope, requestedID)
	defer unlock()
	return t.ids.AllocatePatient(ctx, scope, name, requestedID)
}

// RecordLabResult attaches a creatinine value to the case. It is not a
// workflow transition; any admitted case accepts it.
func (t *Tracker) RecordLabResult(ctx context.Context, scope, patientID string, creatinine float64) (models.Case, error) {
	unlock := t.lockCase(scope, patientID)
	defer unlock()

	c, err := t.loadCase(ctx, scope, patientID)
	if err != nil {
		return models.Case{}, err
	}
	c.Creatinine = &creatinine
	c.UpdatedAt = t.now()
	if err := t.store.Save(ctx, *c); err != nil {
		return models.Case{}, err
	}
	return c.Snapshot(), nil
}

// ReleaseOrder allocates an accession and moves the case to Ordered.
// A case that already holds an accession rejects the event.
func (t *Tracker) ReleaseOrder(ctx context.Context, scope, patientID, procedure string) (models.Case, error) {
	unlock := t.lockCase(scope, patientID)
	defer unlock()

	c, err := t.loadCase(ctx, scope, patientID)
	if err != nil {
		return models.Case{}, err
	}
	if c.AccessionNumber != "" {
		return models.Case{}, &TransitionError{Event: "releaseOrder", From: c.Status}
	}
	if _, err := t.ids.AllocateAccession(ctx, scope, c.PatientID); err != nil {
		return models.Case{}, err
	}
	c, err = t.loadCase(ctx, scope, patientID)
	if err != nil {
		return models.Case{}, err
	}
	c.OrderedProcedure = procedure
	c.Status = models.StatusOrdered
	c.OrderedAt = t.now()
	c.UpdatedAt = c.OrderedAt
	if err := t.store.Save(ctx, *c); err != nil {
		return models.Case{}, err
	}
	return c.Snapshot(), nil
}

// PublishWorklist publishes the MWL entry for an ordered case.
func (t *Tracker) PublishWorklist(ctx context.Context, scope, patientID string) (models.WorklistEntry, error) {
	unlock := t.lockCase(scope, patientID)
	defer unlock()

	c, err := t.loadCase(ctx, scope, patientID)
	if err != nil {
		return models.WorklistEntry{}, err
	}
	if !c.Status.AtLeast(models.StatusOrdered) || c.AccessionNumber == "" {
		return models.WorklistEntry{}, &TransitionError{Event: "publishWorklist", From: c.Status}
	}
	entry, err := t.worklist.Publish(ctx, c.Snapshot())
	if err != nil {
		return models.WorklistEntry{}, err
	}
	if c.Status == models.StatusOrdered {
		c.Status = models.StatusWorklisted
	}
	c.UpdatedAt = t.now()
	if err := t.store.Save(ctx, *c); err != nil {
		return models.WorklistEntry{}, err
	}
	return entry, nil
}

// BeginExam marks the scan as started at the modality. Optional step; the
// upload action alone collapses Scanned into Stored.
func (t *Tracker) BeginExam(ctx context.Context, scope, patientID string) (models.Case, error) {
	unlock := t.lockCase(scope, patientID)
	defer unlock()

	c, err := t.loadCase(ctx, scope, patientID)
	if err != nil {
		return models.Case{}, err
	}
	if !c.Status.AtLeast(models.StatusWorklisted) {
		return models.Case{}, &TransitionError{Event: "beginExam", From: c.Status}
	}
	if c.Status == models.StatusWorklisted {
		c.Status = models.StatusScanned
		c.StartedAt = t.now()
		c.UpdatedAt = c.StartedAt
		if err := t.store.Save(ctx, *c); err != nil {
			return models.Case{}, err
		}
	}
	return c.Snapshot(), nil
}

// StoreImages sends the uploaded files to the PACS. The first successful
// store binds the study UID; the case reaches Stored only when at least one
// instance went through. Per-file failures never abort the batch.
func (t *Tracker) StoreImages(ctx context.Context, scope, patientID string, files []models.UploadFile) (models.TransferRecord, error) {
	unlock := t.lockCase(scope, patientID)
	defer unlock()

	c, err := t.loadCase(ctx, scope, patientID)
	if err != nil {
		return models.TransferRecord{}, err
	}
	if !c.Status.AtLeast(models.StatusWorklisted) {
		return models.TransferRecord{}, &TransitionError{Event: "storeImages", From: c.Status}
	}

	rec, err := t.gateway.StoreInstances(ctx, c.Snapshot(), files)
	if err != nil {
		return rec, err
	}
	if rec.Sent == 0 {
		return rec, nil
	}

	if err := t.ids.BindStudyUID(ctx, scope, c.AccessionNumber, rec.StudyInstanceUID); err != nil {
		return rec, err
	}
	c, err = t.loadCase(ctx, scope, patientID)
	if err != nil {
		return rec, err
	}
	if !c.Status.AtLeast(models.StatusStored) {
		c.Status = models.StatusStored
		c.CompletedAt = t.now()
		c.UpdatedAt = c.CompletedAt
		if err := t.store.Save(ctx, *c); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// QueryStudy runs a study-root query and marks the case Queried when its
// own study shows up in the result.
func (t *Tracker) QueryStudy(ctx context.Context, scope, patientID string) ([]models.StudySummary, error) {
	unlock := t.lockCase(scope, patientID)
	defer unlock()

	c, err := t.loadCase(ctx, scope, patientID)
	if err != nil {
		return nil, err
	}
	if !c.Status.AtLeast(models.StatusStored) {
		return nil, &TransitionError{Event: "queryStudy", From: c.Status}
	}

	studies, err := t.gateway.FindStudies(ctx, scope)
	if err != nil {
		return nil, err
	}
	for _, s := range studies {
		if s.StudyInstanceUID == c.StudyInstanceUID && c.Status == models.StatusStored {
			c.Status = models.StatusQueried
			c.UpdatedAt = t.now()
			if err := t.store.Save(ctx, *c); err != nil {
				return studies, err
			}
			break
		}
	}
	return studies, nil
}

// RetrieveStudy requests a C-MOVE to destinationAE. The acknowledgement
// returns immediately; the case is promoted to Retrieved only when the
// inbound store listener later observes instances of this study. A move
// with no inbound store is a valid steady state, not an error.
func (t *Tracker) RetrieveStudy(ctx context.Context, scope, patientID, destinationAE string) (models.MoveAcknowledgement, error) {
	unlock := t.lockCase(scope, patientID)
	defer unlock()

	c, err := t.loadCase(ctx, scope, patientID)
	if err != nil {
		return models.MoveAcknowledgement{}, err
	}
	if c.Status != models.StatusStored && c.Status != models.StatusQueried && c.Status != models.StatusRetrieved {
		return models.MoveAcknowledgement{}, &TransitionError{Event: "retrieveStudy", From: c.Status}
	}
	if c.StudyInstanceUID == "" {
		return models.MoveAcknowledgement{}, &TransitionError{Event: "retrieveStudy", From: c.Status}
	}

	ack, err := t.gateway.MoveStudy(ctx, c.StudyInstanceUID, destinationAE)
	if err != nil {
		return ack, err
	}

	t.mu.Lock()
	t.pendingMoves[c.StudyInstanceUID] = true
	t.mu.Unlock()
	return ack, nil
}

// ObserveInbound is fed by the inbound store listener. Images arriving for
// a study with an outstanding retrieve request complete the retrieval;
// anything else is recorded by the inbox alone.
func (t *Tracker) ObserveInbound(ctx context.Context, inst models.ReceivedInstance) {
	t.mu.Lock()
	pending := t.pendingMoves[inst.StudyInstanceUID]
	t.mu.Unlock()
	if !pending {
		return
	}

	// The study UID alone identifies the case. An empty scope searches
	// every scope; the inbox already applied any display filtering.
	c, err := t.store.Find(ctx, "", inst.StudyInstanceUID)
	if err != nil || c == nil {
		return
	}
	unlock := t.lockCase(c.Scope, c.PatientID)
	defer unlock()
	c, err = t.store.Get(ctx, c.Scope, c.PatientID)
	if err == nil && c != nil && !c.Status.AtLeast(models.StatusRetrieved) {
		c.Status = models.StatusRetrieved
		c.UpdatedAt = t.now()
		if err := t.store.Save(ctx, *c); err != nil {
			return
		}
	}
	t.mu.Lock()
	delete(t.pendingMoves, inst.StudyInstanceUID)
	t.mu.Unlock()
}

// SubmitReport stores the radiology report and closes the loop.
func (t *Tracker) SubmitReport(ctx context.Context, scope, patientID, text string) (models.Case, error) {
	unlock := t.lockCase(scope, patientID)
	defer unlock()

	c, err := t.loadCase(ctx, scope, patientID)
	if err != nil {
		return models.Case{}, err
	}
	if !c.Status.AtLeast(models.StatusRetrieved) {
		return models.Case{}, &TransitionError{Event: "submitReport", From: c.Status}
	}

	rep := models.Report{
		Scope:            scope,
		PatientID:        c.PatientID,
		PatientName:      c.PatientName,
		StudyInstanceUID: c.StudyInstanceUID,
		Text:             text,
		CreatedAt:        t.now(),
	}
	if err := t.reports.SaveReport(ctx, rep); err != nil {
		return models.Case{}, err
	}
	if c.Status != models.StatusReported {
		c.Status = models.StatusReported
		c.ReportedAt = rep.CreatedAt
		c.UpdatedAt = rep.CreatedAt
		if err := t.store.Save(ctx, *c); err != nil {
			return models.Case{}, err
		}
	}
	return c.Snapshot(), nil
}

// Case returns the current snapshot for display.
func (t *Tracker) Case(ctx context.Context, scope, key string) (models.Case, error) {
	c, err := t.store.Find(ctx, scope, key)
	if err != nil {
		return models.Case{}, err
	}
	if c == nil {
		return models.Case{}, fmt.Errorf("%w: %s", registry.ErrNotFound, key)
	}
	return c.Snapshot(), nil
}

// Cases lists the scope's cases for the dashboard.
func (t *Tracker) Cases(ctx context.Context, scope string) ([]models.Case, error) {
	return t.store.List(ctx, scope)
}

// Reports lists submitted reports for the scope.
func (t *Tracker) Reports(ctx context.Context, scope string) ([]models.Report, error) {
	return t.reports.ListReports(ctx, scope)
}

// loadCase accepts raw or already scoped patient ids.
func (t *Tracker) loadCase(ctx context.Context, scope, patientID string) (*models.Case, error) {
	c, err := t.store.Get(ctx, scope, registry.ScopedID(scope, patientID))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownPatient, patientID)
	}
	return c, nil
}
