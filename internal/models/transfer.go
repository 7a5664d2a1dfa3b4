package models

// UploadFile is one user-supplied image file, already read into memory.
type UploadFile struct {
	Name string
	Data []byte
}

// FileOutcome records what happened to a single uploaded file during
// storeInstances. Skipped files failed local validation; failed files were
// rejected by the PACS or the transport.
type FileOutcome struct {
	Filename string `json:"filename"`
	Result   string `json:"result"` // sent | skipped | failed
	Reason   string `json:"reason,omitempty"`
}

// TransferRecord is the per-batch result of a C-STORE run.
type TransferRecord struct {
	StudyInstanceUID string        `json:"study_instance_uid"`
	Sent             int           `json:"sent"`
	Skipped          int           `json:"skipped"`
	Failed           int           `json:"failed"`
	Files            []FileOutcome `json:"files"`
}

// MoveAcknowledgement is the synchronous half of a C-MOVE. Image delivery
// arrives later through the inbound store listener, if at all.
type MoveAcknowledgement struct {
	StudyInstanceUID string `json:"study_instance_uid"`
	Destination      string `json:"destination"`
	Status           uint16 `json:"status"`
	Completed        int    `json:"completed"`
	Failed           int    `json:"failed"`
	Warnings         int    `json:"warnings"`
}
