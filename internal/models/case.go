package models

import "time"

// CaseStatus is the workflow position of a simulated patient encounter.
type CaseStatus string

const (
	StatusAdmitted   CaseStatus = "admitted"
	StatusOrdered    CaseStatus = "ordered"
	StatusWorklisted CaseStatus = "worklisted"
	StatusScanned    CaseStatus = "scanned"
	StatusStored     CaseStatus = "stored"
	StatusQueried    CaseStatus = "queried"
	StatusRetrieved  CaseStatus = "retrieved"
	StatusReported   CaseStatus = "reported"
)

// rank orders statuses along the workflow so guards can express
// "requires Worklisted or later".
var statusRank = map[CaseStatus]int{
	StatusAdmitted:   0,
	StatusOrdered:    1,
	StatusWorklisted: 2,
	StatusScanned:    3,
	StatusStored:     4,
	StatusQueried:    5,
	StatusRetrieved:  6,
	StatusReported:   7,
}

// AtLeast reports whether s has reached stage in the workflow order.
func (s CaseStatus) AtLeast(stage CaseStatus) bool {
	return statusRank[s] >= statusRank[stage]
}

func (s CaseStatus) String() string { return string(s) }

// Case is one simulated patient encounter. Identifier fields are written
// only by the registry; everything else reads them through snapshots.
type Case struct {
	Scope            string     `json:"scope"`
	PatientID        string     `json:"patient_id"`
	PatientName      string     `json:"patient_name"` // LAST^FIRST
	AccessionNumber  string     `json:"accession_number,omitempty"`
	StudyInstanceUID string     `json:"study_instance_uid,omitempty"`
	Status           CaseStatus `json:"status"`
	OrderedProcedure string     `json:"ordered_procedure,omitempty"`
	Creatinine       *float64   `json:"creatinine,omitempty"` // mg/dL

	CreatedAt   time.Time `json:"created_at"`
	OrderedAt   time.Time `json:"ordered_at,omitzero"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	ReportedAt  time.Time `json:"reported_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a value copy safe to hand to renderers and the gateway.
func (c *Case) Snapshot() Case {
	cp := *c
	if c.Creatinine != nil {
		v := *c.Creatinine
		cp.Creatinine = &v
	}
	return cp
}
