package db

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Schema creates the simulator tables when they do not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS cases (
    scope            TEXT NOT NULL DEFAULT '',
    patient_id       TEXT NOT NULL,
    patient_name     TEXT NOT NULL,
    accession_number TEXT NOT NULL DEFAULT '',
    study_uid        TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    procedure        TEXT NOT NULL DEFAULT '',
    creatinine       DOUBLE PRECISION,
    created_at       TIMESTAMPTZ NOT NULL,
    ordered_at       TIMESTAMPTZ,
    started_at       TIMESTAMPTZ,
    completed_at     TIMESTAMPTZ,
    reported_at      TIMESTAMPTZ,
    updated_at       TIMESTAMPTZ NOT NULL,
    seq              BIGSERIAL,
    PRIMARY KEY (scope, patient_id)
);
CREATE TABLE IF NOT EXISTS worklist_entries (
    accession_number TEXT PRIMARY KEY,
    patient_id       TEXT NOT NULL,
    patient_name     TEXT NOT NULL,
    procedure        TEXT NOT NULL DEFAULT '',
    modality         TEXT NOT NULL,
    station_ae       TEXT NOT NULL,
    scheduled_date   TEXT NOT NULL,
    scheduled_time   TEXT NOT NULL,
    study_uid        TEXT NOT NULL,
    referring_phys   TEXT NOT NULL DEFAULT '',
    step_id          TEXT NOT NULL DEFAULT '',
    published_at     TIMESTAMPTZ NOT NULL,
    seq              BIGSERIAL
);
CREATE TABLE IF NOT EXISTS reports (
    id           BIGSERIAL PRIMARY KEY,
    scope        TEXT NOT NULL DEFAULT '',
    patient_id   TEXT NOT NULL,
    patient_name TEXT NOT NULL DEFAULT '',
    study_uid    TEXT NOT NULL DEFAULT '',
    body         TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL
);
`

// CaseRow mirrors the cases table.
type CaseRow struct {
	Scope           string
	PatientID       string
	PatientName     string
	AccessionNumber string
	StudyUID        string
	Status          string
	Procedure       string
	Creatinine      sql.NullFloat64
	CreatedAt       time.Time
	OrderedAt       sql.NullTime
	StartedAt       sql.NullTime
	CompletedAt     sql.NullTime
	ReportedAt      sql.NullTime
	UpdatedAt       time.Time
}

// Queries wraps the raw statements.
type Queries struct {
	db *sql.DB
}

func New(conn *sql.DB) *Queries {
	return &Queries{db: conn}
}

func (q *Queries) Migrate(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

const caseColumns = `scope, patient_id, patient_name, accession_number, study_uid, status, procedure, creatinine,
    created_at, ordered_at, started_at, completed_at, reported_at, updated_at`

func scanCase(row interface{ Scan(...any) error }) (*CaseRow, error) {
	var c CaseRow
	err := row.Scan(&c.Scope, &c.PatientID, &c.PatientName, &c.AccessionNumber, &c.StudyUID, &c.Status,
		&c.Procedure, &c.Creatinine, &c.CreatedAt, &c.OrderedAt, &c.StartedAt, &c.CompletedAt, &c.ReportedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *Queries) GetCase(ctx context.Context, scope, patientID string) (*CaseRow, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+caseColumns+" FROM cases WHERE scope = $1 AND patient_id = $2", scope, patientID)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (q *Queries) FindCase(ctx context.Context, scope, key string) (*CaseRow, error) {
	query := "SELECT " + caseColumns + ` FROM cases
        WHERE (patient_id = $1 OR accession_number = $1 OR (study_uid <> '' AND study_uid = $1))`
	args := []any{key}
	if scope != "" {
		query += " AND scope = $2"
		args = append(args, scope)
	}
	query += " ORDER BY seq LIMIT 1"
	row := q.db.QueryRowContext(ctx, query, args...)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (q *Queries) UpsertCase(ctx context.Context, c CaseRow) error {
	_, err := q.db.ExecContext(ctx, `
        INSERT INTO cases (`+caseColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (scope, patient_id) DO UPDATE SET
            patient_name = EXCLUDED.patient_name,
            accession_number = EXCLUDED.accession_number,
            study_uid = EXCLUDED.study_uid,
            status = EXCLUDED.status,
            procedure = EXCLUDED.procedure,
            creatinine = EXCLUDED.creatinine,
            ordered_at = EXCLUDED.ordered_at,
            started_at = EXCLUDED.started_at,
            completed_at = EXCLUDED.completed_at,
            reported_at = EXCLUDED.reported_at,
            updated_at = EXCLUDED.updated_at`,
		c.Scope, c.PatientID, c.PatientName, c.AccessionNumber, c.StudyUID, c.Status, c.Procedure, c.Creatinine,
		c.CreatedAt, c.OrderedAt, c.StartedAt, c.CompletedAt, c.ReportedAt, c.UpdatedAt)
	return err
}

func (q *Queries) ListCases(ctx context.Context, scope string) ([]CaseRow, error) {
	query := "SELECT " + caseColumns + " FROM cases"
	var args []any
	if scope != "" {
		query += " WHERE scope = $1"
		args = append(args, scope)
	}
	query += " ORDER BY seq"
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CaseRow
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// WorklistRow mirrors the worklist_entries table.
type WorklistRow struct {
	AccessionNumber string
	PatientID       string
	PatientName     string
	Procedure       string
	Modality        string
	StationAE       string
	ScheduledDate   string
	ScheduledTime   string
	StudyUID        string
	ReferringPhys   string
	StepID          string
	PublishedAt     time.Time
}

func (q *Queries) UpsertWorklistEntry(ctx context.Context, e WorklistRow) error {
	// Delete then insert so a re-publish moves the entry to the end of the
	// seq ordering, matching the in-memory store.
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM worklist_entries WHERE accession_number = $1", e.AccessionNumber); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO worklist_entries (accession_number, patient_id, patient_name, procedure, modality,
            station_ae, scheduled_date, scheduled_time, study_uid, referring_phys, step_id, published_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.AccessionNumber, e.PatientID, e.PatientName, e.Procedure, e.Modality,
		e.StationAE, e.ScheduledDate, e.ScheduledTime, e.StudyUID, e.ReferringPhys, e.StepID, e.PublishedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *Queries) DeleteWorklistEntry(ctx context.Context, accessionNumber string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM worklist_entries WHERE accession_number = $1", accessionNumber)
	return err
}

func (q *Queries) ListWorklistEntries(ctx context.Context, prefix string) ([]WorklistRow, error) {
	query := `SELECT accession_number, patient_id, patient_name, procedure, modality, station_ae,
        scheduled_date, scheduled_time, study_uid, referring_phys, step_id, published_at FROM worklist_entries`
	var args []any
	if prefix != "" {
		query += " WHERE accession_number LIKE $1"
		args = append(args, prefix+"%")
	}
	query += " ORDER BY seq"
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorklistRow
	for rows.Next() {
		var e WorklistRow
		if err := rows.Scan(&e.AccessionNumber, &e.PatientID, &e.PatientName, &e.Procedure, &e.Modality,
			&e.StationAE, &e.ScheduledDate, &e.ScheduledTime, &e.StudyUID, &e.ReferringPhys, &e.StepID, &e.PublishedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReportRow mirrors the reports table.
type ReportRow struct {
	Scope       string
	PatientID   string
	PatientName string
	StudyUID    string
	Body        string
	CreatedAt   time.Time
}

func (q *Queries) InsertReport(ctx context.Context, r ReportRow) error {
	_, err := q.db.ExecContext(ctx, `
        INSERT INTO reports (scope, patient_id, patient_name, study_uid, body, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`,
		r.Scope, r.PatientID, r.PatientName, r.StudyUID, r.Body, r.CreatedAt)
	return err
}

func (q *Queries) ListReports(ctx context.Context, scope string) ([]ReportRow, error) {
	query := "SELECT scope, patient_id, patient_name, study_uid, body, created_at FROM reports"
	var args []any
	if scope != "" {
		query += " WHERE scope = $1"
		args = append(args, scope)
	}
	query += " ORDER BY id"
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		var r ReportRow
		if err := rows.Scan(&r.Scope, &r.PatientID, &r.PatientName, &r.StudyUID, &r.Body, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
