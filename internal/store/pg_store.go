package store

import (
	"context"
	"database/sql"
	"time"

	"radiology-simulator/internal/db"
	"radiology-simulator/internal/models"
)

// PostgresStore persists cases, worklist entries and reports in Postgres.
// It satisfies the same interfaces as MemoryStore so the rest of the
// simulator does not care which one it is wired to.
type PostgresStore struct {
	q *db.Queries
}

func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{q: db.New(conn)}
}

// Migrate applies the schema. Safe to call on every start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.q.Migrate(ctx)
}

func caseFromRow(r *db.CaseRow) *models.Case {
	c := &models.Case{
		Scope:            r.Scope,
		PatientID:        r.PatientID,
		PatientName:      r.PatientName,
		AccessionNumber:  r.AccessionNumber,
		StudyInstanceUID: r.StudyUID,
		Status:           models.CaseStatus(r.Status),
		OrderedProcedure: r.Procedure,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.Creatinine.Valid {
		v := r.Creatinine.Float64
		c.Creatinine = &v
	}
	if r.OrderedAt.Valid {
		c.OrderedAt = r.OrderedAt.Time
	}
	if r.StartedAt.Valid {
		c.StartedAt = r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		c.CompletedAt = r.CompletedAt.Time
	}
	if r.ReportedAt.Valid {
		c.ReportedAt = r.ReportedAt.Time
	}
	return c
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func rowFromCase(c models.Case) db.CaseRow {
	r := db.CaseRow{
		Scope:           c.Scope,
		PatientID:       c.PatientID,
		PatientName:     c.PatientName,
		AccessionNumber: c.AccessionNumber,
		StudyUID:        c.StudyInstanceUID,
		Status:          string(c.Status),
		Procedure:       c.OrderedProcedure,
		CreatedAt:       c.CreatedAt,
		OrderedAt:       nullTime(c.OrderedAt),
		StartedAt:       nullTime(c.StartedAt),
		CompletedAt:     nullTime(c.CompletedAt),
		ReportedAt:      nullTime(c.ReportedAt),
		UpdatedAt:       c.UpdatedAt,
	}
	if c.Creatinine != nil {
		r.Creatinine = sql.NullFloat64{Float64: *c.Creatinine, Valid: true}
	}
	return r
}

func (s *PostgresStore) Get(ctx context.Context, scope, patientID string) (*models.Case, error) {
	r, err := s.q.GetCase(ctx, scope, patientID)
	if err != nil || r == nil {
		return nil, err
	}
	return caseFromRow(r), nil
}

func (s *PostgresStore) Find(ctx context.Context, scope, key string) (*models.Case, error) {
	r, err := s.q.FindCase(ctx, scope, key)
	if err != nil || r == nil {
		return nil, err
	}
	return caseFromRow(r), nil
}

func (s *PostgresStore) Save(ctx context.Context, c models.Case) error {
	return s.q.UpsertCase(ctx, rowFromCase(c))
}

func (s *PostgresStore) List(ctx context.Context, scope string) ([]models.Case, error) {
	rows, err := s.q.ListCases(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]models.Case, 0, len(rows))
	for i := range rows {
		out = append(out, *caseFromRow(&rows[i]))
	}
	return out, nil
}

func (s *PostgresStore) Put(ctx context.Context, e models.WorklistEntry) error {
	return s.q.UpsertWorklistEntry(ctx, db.WorklistRow{
		AccessionNumber: e.AccessionNumber,
		PatientID:       e.PatientID,
		PatientName:     e.PatientName,
		Procedure:       e.RequestedProcedure,
		Modality:        e.Modality,
		StationAE:       e.ScheduledStationAE,
		ScheduledDate:   e.ScheduledDate,
		ScheduledTime:   e.ScheduledTime,
		StudyUID:        e.StudyInstanceUID,
		ReferringPhys:   e.ReferringPhysician,
		StepID:          e.ScheduledStepID,
		PublishedAt:     e.PublishedAt,
	})
}

func (s *PostgresStore) Delete(ctx context.Context, accessionNumber string) error {
	return s.q.DeleteWorklistEntry(ctx, accessionNumber)
}

func (s *PostgresStore) Entries(ctx context.Context, scope string) ([]models.WorklistEntry, error) {
	prefix := ""
	if scope != "" {
		prefix = scope + "-"
	}
	rows, err := s.q.ListWorklistEntries(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.WorklistEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.WorklistEntry{
			AccessionNumber:    r.AccessionNumber,
			PatientID:          r.PatientID,
			PatientName:        r.PatientName,
			RequestedProcedure: r.Procedure,
			Modality:           r.Modality,
			ScheduledStationAE: r.StationAE,
			ScheduledDate:      r.ScheduledDate,
			ScheduledTime:      r.ScheduledTime,
			StudyInstanceUID:   r.StudyUID,
			ReferringPhysician: r.ReferringPhys,
			ScheduledStepID:    r.StepID,
			PublishedAt:        r.PublishedAt,
		})
	}
	return out, nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, rep models.Report) error {
	return s.q.InsertReport(ctx, db.ReportRow{
		Scope:       rep.Scope,
		PatientID:   rep.PatientID,
		PatientName: rep.PatientName,
		StudyUID:    rep.StudyInstanceUID,
		Body:        rep.Text,
		CreatedAt:   rep.CreatedAt,
	})
}

func (s *PostgresStore) ListReports(ctx context.Context, scope string) ([]models.Report, error) {
	rows, err := s.q.ListReports(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]models.Report, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Report{
			Scope:            r.Scope,
			PatientID:        r.PatientID,
			PatientName:      r.PatientName,
			StudyInstanceUID: r.StudyUID,
			Text:             r.Body,
			CreatedAt:        r.CreatedAt,
		})
	}
	return out, nil
}
