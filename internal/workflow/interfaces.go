package workflow

import (
	"context"

	"radiology-simulator/internal/models"
)

// CaseStore is the case persistence the tracker reads and writes.
// Get and Find return (nil, nil) when no case matches.
type CaseStore interface {
	Get(ctx context.Context, scope, patientID string) (*models.Case, error)
	Find(ctx context.Context, scope, key string) (*models.Case, error)
	Save(ctx context.Context, c models.Case) error
	List(ctx context.Context, scope string) ([]models.Case, error)
}

// Identifiers is the slice of the identifier registry the tracker drives.
type Identifiers interface {
	AllocatePatient(ctx context.Context, scope, name, requestedID string) (models.Case, error)
	AllocateAccession(ctx context.Context, scope, patientID string) (string, error)
	BindStudyUID(ctx context.Context, scope, accessionNumber, uid string) error
}

// WorklistPublisher publishes a worklist entry for an ordered case.
type WorklistPublisher interface {
	Publish(ctx context.Context, snap models.Case) (models.WorklistEntry, error)
}

// ImageGateway is the slice of the DICOM gateway the tracker drives.
type ImageGateway interface {
	StoreInstances(ctx context.Context, snap models.Case, files []models.UploadFile) (models.TransferRecord, error)
	FindStudies(ctx context.Context, scope string) ([]models.StudySummary, error)
	MoveStudy(ctx context.Context, studyUID, destinationAE string) (models.MoveAcknowledgement, error)
}

// ReportStore persists submitted reports.
type ReportStore interface {
	SaveReport(ctx context.Context, rep models.Report) error
	ListReports(ctx context.Context, scope string) ([]models.Report, error)
}
