package scu

import (
	"fmt"

	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/types"
)

// FindResult is one match returned by a C-FIND query.
type FindResult struct {
	Status  uint16
	Dataset *dicom.Dataset
}

// SendFind runs a C-FIND against the given SOP class and returns each
// pending match plus the final response, in arrival order.
func (a *Assoc) SendFind(sopClassUID string, query *dicom.Dataset) ([]FindResult, error) {
	if query == nil {
		return nil, fmt.Errorf("c-find requires a query dataset")
	}

	contextID, err := a.contextFor(sopClassUID)
	if err != nil {
		return nil, err
	}

	command := &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           a.messageID(),
		CommandDataSetType:  hasDataSet,
		AffectedSOPClassUID: sopClassUID,
	}
	if err := a.sendDIMSE(contextID, encodeCommand(command), query.EncodeDataset()); err != nil {
		return nil, fmt.Errorf("failed to send C-FIND request: %w", err)
	}

	var results []FindResult
	for {
		msg, data, err := a.receiveDIMSE()
		if err != nil {
			return nil, err
		}
		if msg.CommandField != types.CFindRSP {
			return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-FIND-RSP)", msg.CommandField)
		}

		var ds *dicom.Dataset
		if len(data) > 0 {
			ds, err = dicom.ParseDataset(data)
			if err != nil {
				a.logger.Warn("failed to parse C-FIND response dataset",
					"error", err,
					"status", fmt.Sprintf("0x%04X", msg.Status))
			}
		}
		results = append(results, FindResult{Status: msg.Status, Dataset: ds})

		if msg.Status != types.StatusPending {
			break
		}
	}
	return results, nil
}

// MoveResult summarizes a completed C-MOVE.
type MoveResult struct {
	Status    uint16
	Completed uint16
	Failed    uint16
	Warnings  uint16
}

// SendMove issues a Study Root C-MOVE asking the SCP to push the matching
// study to destinationAE over a separate association. The returned counters
// come from the final C-MOVE-RSP; a success status only means the SCP
// finished its suboperations, not that the destination kept the images.
func (a *Assoc) SendMove(destinationAE string, keys *dicom.Dataset) (*MoveResult, error) {
	if keys == nil {
		return nil, fmt.Errorf("c-move requires an identifier dataset")
	}
	if destinationAE == "" {
		return nil, fmt.Errorf("c-move requires a destination AE title")
	}

	contextID, err := a.contextFor(StudyRootMoveSOPClassUID)
	if err != nil {
		return nil, err
	}

	command := &types.Message{
		CommandField:        types.CMoveRQ,
		MessageID:           a.messageID(),
		CommandDataSetType:  hasDataSet,
		AffectedSOPClassUID: StudyRootMoveSOPClassUID,
		MoveDestination:     destinationAE,
	}
	if err := a.sendDIMSE(contextID, encodeCommand(command), keys.EncodeDataset()); err != nil {
		return nil, fmt.Errorf("failed to send C-MOVE request: %w", err)
	}

	result := &MoveResult{}
	for {
		msg, _, err := a.receiveDIMSE()
		if err != nil {
			return nil, err
		}
		if msg.CommandField != types.CMoveRSP {
			return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-MOVE-RSP)", msg.CommandField)
		}

		result.Status = msg.Status
		if msg.NumberOfCompletedSuboperations != nil {
			result.Completed = *msg.NumberOfCompletedSuboperations
		}
		if msg.NumberOfFailedSuboperations != nil {
			result.Failed = *msg.NumberOfFailedSuboperations
		}
		if msg.NumberOfWarningSuboperations != nil {
			result.Warnings = *msg.NumberOfWarningSuboperations
		}

		if msg.Status != types.StatusPending {
			break
		}
	}
	return result, nil
}
