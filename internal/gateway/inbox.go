package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/server"
	"github.com/caio-sobreiro/dicomnet/types"

	"radiology-simulator/internal/models"
)

// Inbox is the simulated receiving station: a storage SCP that accepts
// PACS-initiated C-STOREs (the delivery half of a C-MOVE) and keeps what
// arrived. It is the only source of truth for "the images came back".
type Inbox struct {
	aeTitle string
	logger  *slog.Logger

	mu        sync.RWMutex
	instances []models.ReceivedInstance
	subs      map[int]chan models.ReceivedInstance
	nextSub   int
}

func NewInbox(aeTitle string, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		aeTitle: aeTitle,
		logger:  logger,
		subs:    make(map[int]chan models.ReceivedInstance),
	}
}

// Run serves the storage SCP until the context is cancelled.
func (ib *Inbox) Run(ctx context.Context, address string) error {
	ib.logger.Info("inbound store listener starting", "address", address, "ae_title", ib.aeTitle)
	return server.ListenAndServe(ctx, address, ib.aeTitle, ib, server.WithLogger(ib.logger))
}

// HandleDIMSE accepts C-ECHO and C-STORE; everything else is refused.
func (ib *Inbox) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	switch msg.CommandField {
	case types.CEchoRQ:
		return &types.Message{
			CommandField:              types.CEchoRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			CommandDataSetType:        0x0101,
			Status:                    types.StatusSuccess,
		}, nil, nil
	case types.CStoreRQ:
		return ib.handleStore(ctx, msg, data)
	default:
		ib.logger.Warn("refusing unsupported DIMSE command", "command", msg.CommandField)
		return &types.Message{
			CommandField:              types.ResponseCommandFor(msg.CommandField),
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			CommandDataSetType:        0x0101,
			Status:                    types.StatusFailure,
		}, nil, nil
	}
}

func (ib *Inbox) handleStore(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	payload := data
	if dicom.HasPart10Header(payload) {
		if stripped, err := dicom.StripPart10Header(payload); err == nil {
			payload = stripped
		}
	}

	inst := models.ReceivedInstance{
		SOPInstanceUID: msg.AffectedSOPInstanceUID,
		ReceivedAt:     time.Now(),
	}
	ds, err := dicom.ParseDataset(payload)
	if err != nil {
		ib.logger.Warn("stored instance has unreadable dataset",
			"sop_instance", msg.AffectedSOPInstanceUID,
			"error", err)
	} else {
		inst.PatientID = ds.GetString(tagPatientID)
		inst.PatientName = ds.GetString(tagPatientName)
		inst.StudyInstanceUID = ds.GetString(tagStudyInstanceUID)
		inst.Modality = ds.GetString(tagModality)
	}

	ib.record(inst)
	ib.logger.Info("instance received",
		"patient_id", inst.PatientID,
		"study_uid", inst.StudyInstanceUID,
		"sop_instance", inst.SOPInstanceUID)

	return &types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
	}, nil, nil
}

func (ib *Inbox) record(inst models.ReceivedInstance) {
	ib.mu.Lock()
	ib.instances = append(ib.instances, inst)
	for _, ch := range ib.subs {
		select {
		case ch <- inst:
		default:
			// Slow subscriber; drop rather than block the association.
		}
	}
	ib.mu.Unlock()
}

// Subscribe returns a channel of future deliveries plus a cancel func.
func (ib *Inbox) Subscribe() (<-chan models.ReceivedInstance, func()) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	id := ib.nextSub
	ib.nextSub++
	ch := make(chan models.ReceivedInstance, 64)
	ib.subs[id] = ch
	return ch, func() {
		ib.mu.Lock()
		defer ib.mu.Unlock()
		if c, ok := ib.subs[id]; ok {
			delete(ib.subs, id)
			close(c)
		}
	}
}

// Instances lists received images, newest last. A non-empty scope keeps
// only instances whose patient ID carries the scope prefix.
func (ib *Inbox) Instances(scope string) []models.ReceivedInstance {
	ib.mu.RLock()
	defer ib.mu.RUnlock()
	out := make([]models.ReceivedInstance, 0, len(ib.instances))
	for _, inst := range ib.instances {
		if scope != "" && !strings.HasPrefix(inst.PatientID, scope+"-") {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// Groups aggregates received instances per study for display.
func (ib *Inbox) Groups(scope string) []models.StudyGroup {
	byStudy := make(map[string]*models.StudyGroup)
	var order []string
	for _, inst := range ib.Instances(scope) {
		g, ok := byStudy[inst.StudyInstanceUID]
		if !ok {
			g = &models.StudyGroup{
				StudyInstanceUID: inst.StudyInstanceUID,
				PatientID:        inst.PatientID,
				PatientName:      inst.PatientName,
			}
			byStudy[inst.StudyInstanceUID] = g
			order = append(order, inst.StudyInstanceUID)
		}
		g.Count++
		if inst.Modality != "" && !strings.Contains(g.Modalities, inst.Modality) {
			if g.Modalities != "" {
				g.Modalities += "\\"
			}
			g.Modalities += inst.Modality
		}
		g.LastReceivedAt = inst.ReceivedAt.Format(time.RFC3339)
	}

	out := make([]models.StudyGroup, 0, len(order))
	for _, uid := range order {
		out = append(out, *byStudy[uid])
	}
	return out
}
