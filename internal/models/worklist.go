package models

import "time"

// WorklistEntry is one Modality Worklist record, keyed by accession.
type WorklistEntry struct {
	AccessionNumber    string    `json:"accession_number"`
	PatientID          string    `json:"patient_id"`
	PatientName        string    `json:"patient_name"`
	RequestedProcedure string    `json:"requested_procedure"`
	Modality           string    `json:"modality"`
	ScheduledStationAE string    `json:"scheduled_station_ae"`
	ScheduledDate      string    `json:"scheduled_date"` // YYYYMMDD
	ScheduledTime      string    `json:"scheduled_time"` // HHMMSS
	StudyInstanceUID   string    `json:"study_instance_uid"`
	ReferringPhysician string    `json:"referring_physician"`
	ScheduledStepID    string    `json:"scheduled_step_id"`
	PublishedAt        time.Time `json:"published_at"`
}
