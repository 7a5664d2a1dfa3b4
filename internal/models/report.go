package models

import "time"

// Report is a submitted radiology report, kept per scope for the dashboard.
type Report struct {
	Scope            string    `json:"scope"`
	PatientID        string    `json:"patient_id"`
	PatientName      string    `json:"patient_name"`
	StudyInstanceUID string    `json:"study_instance_uid"`
	Text             string    `json:"text"`
	CreatedAt        time.Time `json:"created_at"`
}
