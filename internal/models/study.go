package models

import "time"

// StudySummary is one study-level C-FIND match from the PACS.
type StudySummary struct {
	StudyInstanceUID  string `json:"study_instance_uid"`
	PatientID         string `json:"patient_id"`
	PatientName       string `json:"patient_name"`
	AccessionNumber   string `json:"accession_number"`
	StudyDate         string `json:"study_date"`
	StudyDescription  string `json:"study_description"`
	ModalitiesInStudy string `json:"modalities_in_study"`
}

// ReceivedInstance is one image delivered to the simulated receiving
// station by a PACS-initiated C-STORE.
type ReceivedInstance struct {
	PatientID        string    `json:"patient_id"`
	PatientName      string    `json:"patient_name"`
	StudyInstanceUID string    `json:"study_instance_uid"`
	SOPInstanceUID   string    `json:"sop_instance_uid"`
	Modality         string    `json:"modality"`
	ReceivedAt       time.Time `json:"received_at"`
}

// StudyGroup aggregates received instances per study for display.
type StudyGroup struct {
	StudyInstanceUID string `json:"study_instance_uid"`
	PatientID        string `json:"patient_id"`
	PatientName      string `json:"patient_name"`
	Modalities       string `json:"modalities"`
	Count            int    `json:"count"`
	LastReceivedAt   string `json:"last_received_at"`
}
