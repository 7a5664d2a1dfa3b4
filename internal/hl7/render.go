package hl7

import (
	"fmt"
	"strconv"

	"radiology-simulator/internal/models"
)

// EventKind selects which HL7 message a case snapshot is rendered as.
type EventKind string

const (
	ADTA01    EventKind = "ADT^A01" // admission
	ORMO01    EventKind = "ORM^O01" // order release
	ORUR01Lab EventKind = "ORU^R01" // lab result
	// ORUR01Report reuses the ORU^R01 structure but carries the study UID
	// and report text instead of the lab observation.
	ORUR01Report EventKind = "ORU^R01-REPORT"
	QRYQ02       EventKind = "QRY^Q02" // lab query request
)

// MissingFieldError reports a snapshot lacking a correlation key the event
// kind requires.
type MissingFieldError struct {
	Event EventKind
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("hl7: %s requires %s", e.Event, e.Field)
}

const hl7Timestamp = "20060102150405"

// Render turns a case snapshot into HL7 text for the given event kind.
// It is a pure function: identical snapshots yield byte-identical output.
// The message timestamp comes from the snapshot's UpdatedAt.
func Render(kind EventKind, snap models.Case) (string, error) {
	if snap.PatientID == "" {
		return "", &MissingFieldError{Event: kind, Field: "PatientID"}
	}
	ts := snap.UpdatedAt.Format(hl7Timestamp)

	var msg Message
	switch kind {
	case ADTA01:
		msg = Message{
			msh("KIS", "HOSP", "RIS", "RADIO", ts, "ADT^A01", controlID("ADT", snap.PatientID)),
			{ID: "EVN", Fields: []string{"A01", ts}},
			pid(snap),
			{ID: "PV1", Fields: []string{"1", "O"}},
		}

	case ORMO01:
		if snap.AccessionNumber == "" {
			return "", &MissingFieldError{Event: kind, Field: "AccessionNumber"}
		}
		proc := snap.OrderedProcedure
		if proc == "" {
			proc = "Radiology Procedure"
		}
		msg = Message{
			msh("RIS", "RADIO", "MODALITY", "RAD", ts, "ORM^O01", controlID("ORM", snap.PatientID, snap.AccessionNumber)),
			pid(snap),
			{ID: "ORC", Fields: []string{"NW", snap.AccessionNumber, snap.AccessionNumber}},
			{ID: "OBR", Fields: []string{"1", snap.AccessionNumber, snap.AccessionNumber, "RAD^" + proc}},
		}

	case ORUR01Lab:
		if snap.Creatinine == nil {
			return "", &MissingFieldError{Event: kind, Field: "Creatinine"}
		}
		val := strconv.FormatFloat(*snap.Creatinine, 'f', 2, 64)
		flag := "NORMAL"
		if *snap.Creatinine > CreatinineCritical {
			flag = "CRITICAL"
		}
		msg = Message{
			msh("LIS", "LAB", "RIS", "RADIO", ts, "ORU^R01", controlID("ORU", snap.PatientID, val)),
			pid(snap),
			{ID: "OBR", Fields: []string{"1", "", "", "KREA^Creatinine"}},
			{ID: "OBX", Fields: []string{"1", "NM", "KREA", "", val, "mg/dL", "0.6-1.2", flag, "", "", "F"}},
		}

	case ORUR01Report:
		if snap.StudyInstanceUID == "" {
			return "", &MissingFieldError{Event: kind, Field: "StudyInstanceUID"}
		}
		msg = Message{
			msh("WORKSTATION", "RAD", "RIS", "RADIO", ts, "ORU^R01", controlID("ORU", snap.PatientID, snap.StudyInstanceUID)),
			pid(snap),
			{ID: "OBR", Fields: []string{"1", "", "", "RPT^Radiology Report"}},
			{ID: "OBX", Fields: []string{"1", "ST", "STUDYUID", "", snap.StudyInstanceUID, "", "", "", "", "", "F"}},
		}

	case QRYQ02:
		cid := controlID("QRY", snap.PatientID)
		msg = Message{
			msh("RIS", "RADIO", "LIS", "LAB", ts, "QRY^Q02", cid),
			pid(snap),
			{ID: "QRD", Fields: []string{ts, "R", "I", cid, "", "", "1^RD", snap.PatientID, "RES"}},
			{ID: "QRF", Fields: []string{"MON", "", "", "", "", "KREA^Creatinine"}},
		}

	default:
		return "", fmt.Errorf("hl7: unknown event kind %q", kind)
	}

	return msg.Encode(), nil
}

// RenderReport renders the report ORU with the free-text body appended as
// an extra OBX. Report text is user input, so it goes through the same
// field sanitizer as everything else.
func RenderReport(snap models.Case, reportText string) (string, error) {
	base, err := Render(ORUR01Report, snap)
	if err != nil {
		return "", err
	}
	if reportText == "" {
		reportText = "No findings recorded."
	}
	txt := Segment{ID: "OBX", Fields: []string{"2", "TX", "RPT", "", reportText, "", "", "", "", "", "F"}}
	return base + segmentSep + Message{txt}.Encode(), nil
}

func pid(snap models.Case) Segment {
	name := snap.PatientName
	if name == "" {
		name = "^"
	}
	return Segment{ID: "PID", Fields: []string{"1", "", snap.PatientID, "", name}}
}
