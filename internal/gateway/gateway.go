// Package gateway talks DICOM to the configured PACS: verification,
// study queries, instance storage, worklist queries and study moves.
// Connectivity failures and protocol failures are reported as distinct
// error types so callers know what is retryable.
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/caio-sobreiro/dicomnet/client"
	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/types"

	"radiology-simulator/internal/models"
	"radiology-simulator/internal/scu"
)

// Commonly queried tags.
var (
	tagQueryRetrieveLevel = dicom.Tag{Group: 0x0008, Element: 0x0052}
	tagSOPClassUID        = dicom.Tag{Group: 0x0008, Element: 0x0016}
	tagSOPInstanceUID     = dicom.Tag{Group: 0x0008, Element: 0x0018}
	tagStudyDate          = dicom.Tag{Group: 0x0008, Element: 0x0020}
	tagAccessionNumber    = dicom.Tag{Group: 0x0008, Element: 0x0050}
	tagModality           = dicom.Tag{Group: 0x0008, Element: 0x0060}
	tagModalitiesInStudy  = dicom.Tag{Group: 0x0008, Element: 0x0061}
	tagReferringPhysician = dicom.Tag{Group: 0x0008, Element: 0x0090}
	tagStudyDescription   = dicom.Tag{Group: 0x0008, Element: 0x1030}
	tagPatientName        = dicom.Tag{Group: 0x0010, Element: 0x0010}
	tagPatientID          = dicom.Tag{Group: 0x0010, Element: 0x0020}
	tagStudyInstanceUID   = dicom.Tag{Group: 0x0020, Element: 0x000D}
	tagRequestedProcedure = dicom.Tag{Group: 0x0032, Element: 0x1060}
	tagScheduledStationAE = dicom.Tag{Group: 0x0040, Element: 0x0001}
	tagScheduledStartDate = dicom.Tag{Group: 0x0040, Element: 0x0002}
	tagScheduledStartTime = dicom.Tag{Group: 0x0040, Element: 0x0003}
	tagScheduledStepID    = dicom.Tag{Group: 0x0040, Element: 0x0009}
)

const studyRootFindSOPClassUID = "1.2.840.10008.5.1.4.1.2.2.1"

// Config holds the PACS endpoint and our identity.
type Config struct {
	PACSAddress    string
	PACSAETitle    string
	CallingAETitle string
	// InboundAETitle is the move destination registered at the PACS for
	// this simulator's store listener.
	InboundAETitle string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         *slog.Logger
}

// Gateway is the DICOM operation front for the simulator.
type Gateway struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Gateway {
	if cfg.CallingAETitle == "" {
		cfg.CallingAETitle = "SIMULATOR"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{cfg: cfg, logger: cfg.Logger}
}

func (g *Gateway) connect() (*client.Association, error) {
	return client.Connect(g.cfg.PACSAddress, client.Config{
		CallingAETitle: g.cfg.CallingAETitle,
		CalledAETitle:  g.cfg.PACSAETitle,
		ConnectTimeout: g.cfg.ConnectTimeout,
		ReadTimeout:    g.cfg.ReadTimeout,
		WriteTimeout:   g.cfg.WriteTimeout,
		Logger:         g.logger,
	})
}

func (g *Gateway) dialSCU(abstractSyntaxes ...string) (*scu.Assoc, error) {
	return scu.Dial(g.cfg.PACSAddress, scu.Config{
		CallingAETitle:   g.cfg.CallingAETitle,
		CalledAETitle:    g.cfg.PACSAETitle,
		ConnectTimeout:   g.cfg.ConnectTimeout,
		ReadTimeout:      g.cfg.ReadTimeout,
		WriteTimeout:     g.cfg.WriteTimeout,
		Logger:           g.logger,
		AbstractSyntaxes: abstractSyntaxes,
	})
}

// ConnectivityResult is the outcome of a verification ping.
type ConnectivityResult struct {
	Status    uint16        `json:"status"`
	Reachable bool          `json:"reachable"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Echo verifies the PACS answers C-ECHO.
func (g *Gateway) Echo(ctx context.Context) (ConnectivityResult, error) {
	start := time.Now()
	assoc, err := g.connect()
	if err != nil {
		return ConnectivityResult{}, &ConnectivityError{Op: "echo", Err: err}
	}
	defer assoc.Close()

	resp, err := assoc.SendCEcho(1)
	if err != nil {
		return ConnectivityResult{}, &ConnectivityError{Op: "echo", Err: err}
	}
	if resp.Status != types.StatusSuccess {
		return ConnectivityResult{}, &ProtocolError{Op: "echo", Status: resp.Status}
	}

	g.logger.Info("pacs verification succeeded", "elapsed", time.Since(start))
	return ConnectivityResult{Status: resp.Status, Reachable: true, Elapsed: time.Since(start)}, nil
}

// FindStudies queries the PACS at STUDY level. A non-empty scope narrows
// the match to patient IDs carrying that prefix.
func (g *Gateway) FindStudies(ctx context.Context, scope string) ([]models.StudySummary, error) {
	assoc, err := g.connect()
	if err != nil {
		return nil, &ConnectivityError{Op: "find-studies", Err: err}
	}
	defer assoc.Close()

	query := dicom.NewDataset()
	query.AddElement(tagQueryRetrieveLevel, dicom.VR_CS, "STUDY")
	pidKey := ""
	if scope != "" {
		pidKey = scope + "-*"
	}
	query.AddElement(tagPatientID, dicom.VR_LO, pidKey)
	query.AddElement(tagPatientName, dicom.VR_PN, "")
	query.AddElement(tagAccessionNumber, dicom.VR_SH, "")
	query.AddElement(tagStudyDate, dicom.VR_DA, "")
	query.AddElement(tagStudyDescription, dicom.VR_LO, "")
	query.AddElement(tagModalitiesInStudy, dicom.VR_CS, "")
	query.AddElement(tagStudyInstanceUID, dicom.VR_UI, "")

	responses, err := assoc.SendCFind(&client.CFindRequest{
		SOPClassUID: studyRootFindSOPClassUID,
		MessageID:   1,
		Dataset:     query,
	})
	if err != nil {
		return nil, &ConnectivityError{Op: "find-studies", Err: err}
	}

	var studies []models.StudySummary
	for _, resp := range responses {
		if resp.Status == types.StatusPending && resp.Dataset != nil {
			studies = append(studies, models.StudySummary{
				StudyInstanceUID:  resp.Dataset.GetString(tagStudyInstanceUID),
				PatientID:         resp.Dataset.GetString(tagPatientID),
				PatientName:       resp.Dataset.GetString(tagPatientName),
				AccessionNumber:   resp.Dataset.GetString(tagAccessionNumber),
				StudyDate:         resp.Dataset.GetString(tagStudyDate),
				StudyDescription:  resp.Dataset.GetString(tagStudyDescription),
				ModalitiesInStudy: strings.Join(resp.Dataset.GetStrings(tagModalitiesInStudy), "\\"),
			})
			continue
		}
		if resp.Status != types.StatusSuccess && resp.Status != types.StatusPending {
			return nil, &ProtocolError{Op: "find-studies", Status: resp.Status}
		}
	}

	g.logger.Info("study query completed", "scope", scope, "matches", len(studies))
	return studies, nil
}

// FindWorklistPACS queries the PACS Modality Worklist SCP. Results carry
// whatever attributes the SCP returned; absent ones stay empty.
func (g *Gateway) FindWorklistPACS(ctx context.Context, station, date string) ([]models.WorklistEntry, error) {
	assoc, err := g.dialSCU(scu.ModalityWorklistFindSOPClassUID)
	if err != nil {
		return nil, &ConnectivityError{Op: "find-worklist", Err: err}
	}
	defer assoc.Close()

	query := dicom.NewDataset()
	query.AddElement(tagPatientID, dicom.VR_LO, "")
	query.AddElement(tagPatientName, dicom.VR_PN, "")
	query.AddElement(tagAccessionNumber, dicom.VR_SH, "")
	query.AddElement(tagStudyInstanceUID, dicom.VR_UI, "")
	query.AddElement(tagRequestedProcedure, dicom.VR_LO, "")
	query.AddElement(tagReferringPhysician, dicom.VR_PN, "")
	query.AddElement(tagModality, dicom.VR_CS, "")
	query.AddElement(tagScheduledStationAE, dicom.VR_AE, station)
	query.AddElement(tagScheduledStartDate, dicom.VR_DA, date)
	query.AddElement(tagScheduledStartTime, dicom.VR_TM, "")
	query.AddElement(tagScheduledStepID, dicom.VR_SH, "")

	results, err := assoc.SendFind(scu.ModalityWorklistFindSOPClassUID, query)
	if err != nil {
		return nil, &ConnectivityError{Op: "find-worklist", Err: err}
	}

	var entries []models.WorklistEntry
	for _, r := range results {
		if r.Status == types.StatusPending && r.Dataset != nil {
			entries = append(entries, models.WorklistEntry{
				AccessionNumber:    r.Dataset.GetString(tagAccessionNumber),
				PatientID:          r.Dataset.GetString(tagPatientID),
				PatientName:        r.Dataset.GetString(tagPatientName),
				RequestedProcedure: r.Dataset.GetString(tagRequestedProcedure),
				Modality:           r.Dataset.GetString(tagModality),
				ScheduledStationAE: r.Dataset.GetString(tagScheduledStationAE),
				ScheduledDate:      r.Dataset.GetString(tagScheduledStartDate),
				ScheduledTime:      r.Dataset.GetString(tagScheduledStartTime),
				StudyInstanceUID:   r.Dataset.GetString(tagStudyInstanceUID),
				ReferringPhysician: r.Dataset.GetString(tagReferringPhysician),
				ScheduledStepID:    r.Dataset.GetString(tagScheduledStepID),
			})
			continue
		}
		if r.Status != types.StatusSuccess && r.Status != types.StatusPending {
			return nil, &ProtocolError{Op: "find-worklist", Status: r.Status}
		}
	}
	return entries, nil
}

// MoveStudy asks the PACS to push the study to destinationAE. The returned
// acknowledgement reflects the mover's view only; confirmation that images
// arrived comes from the inbound store listener, never from this call.
func (g *Gateway) MoveStudy(ctx context.Context, studyUID, destinationAE string) (models.MoveAcknowledgement, error) {
	if destinationAE == "" {
		destinationAE = g.cfg.InboundAETitle
	}

	assoc, err := g.dialSCU(scu.StudyRootMoveSOPClassUID)
	if err != nil {
		return models.MoveAcknowledgement{}, &ConnectivityError{Op: "move-study", Err: err}
	}
	defer assoc.Close()

	keys := dicom.NewDataset()
	keys.AddElement(tagQueryRetrieveLevel, dicom.VR_CS, "STUDY")
	keys.AddElement(tagStudyInstanceUID, dicom.VR_UI, studyUID)

	result, err := assoc.SendMove(destinationAE, keys)
	if err != nil {
		return models.MoveAcknowledgement{}, &ConnectivityError{Op: "move-study", Err: err}
	}
	if result.Status != types.StatusSuccess {
		return models.MoveAcknowledgement{}, &ProtocolError{Op: "move-study", Status: result.Status}
	}

	g.logger.Info("move acknowledged",
		"study_uid", studyUID,
		"destination", destinationAE,
		"completed", result.Completed,
		"failed", result.Failed)

	return models.MoveAcknowledgement{
		StudyInstanceUID: studyUID,
		Destination:      destinationAE,
		Status:           result.Status,
		Completed:        int(result.Completed),
		Failed:           int(result.Failed),
		Warnings:         int(result.Warnings),
	}, nil
}
