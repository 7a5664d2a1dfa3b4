package gateway

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"path"
	"strings"

	"github.com/caio-sobreiro/dicomnet/client"
	cdicom "github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/types"
	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"radiology-simulator/internal/models"
	"radiology-simulator/internal/registry"
)

// Outcome labels for FileOutcome.Result.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// StoreInstances retags the uploaded files with the case's identity and
// sends them to the PACS one C-STORE at a time. The batch continues past
// per-file failures; only a failed association aborts it.
func (g *Gateway) StoreInstances(ctx context.Context, snap models.Case, files []models.UploadFile) (models.TransferRecord, error) {
	studyUID := snap.StudyInstanceUID
	if studyUID == "" {
		studyUID = registry.DeriveStudyUID(snap.AccessionNumber)
	}

	expanded, unreadable := ExpandUploads(files)

	rec := models.TransferRecord{StudyInstanceUID: studyUID}
	rec.Files = append(rec.Files, unreadable...)
	rec.Skipped += len(unreadable)
	if len(expanded) == 0 {
		return rec, nil
	}

	assoc, err := g.connect()
	if err != nil {
		return models.TransferRecord{}, &ConnectivityError{Op: "store-instances", Err: err}
	}
	defer assoc.Close()

	msgID := uint16(1)
	for _, f := range expanded {
		outcome := g.storeOne(assoc, snap, studyUID, f, msgID)
		msgID++
		rec.Files = append(rec.Files, outcome)
		switch outcome.Result {
		case OutcomeSent:
			rec.Sent++
		case OutcomeSkipped:
			rec.Skipped++
		case OutcomeFailed:
			rec.Failed++
		}
	}

	g.logger.Info("store batch finished",
		"patient_id", snap.PatientID,
		"study_uid", studyUID,
		"sent", rec.Sent,
		"skipped", rec.Skipped,
		"failed", rec.Failed)
	return rec, nil
}

func (g *Gateway) storeOne(assoc *client.Association, snap models.Case, studyUID string, f models.UploadFile, msgID uint16) models.FileOutcome {
	retagged, sopClass, sopInstance, reason := RetagInstance(f.Data, snap, studyUID)
	if reason != "" {
		return models.FileOutcome{Filename: f.Name, Result: OutcomeSkipped, Reason: reason}
	}

	resp, err := assoc.SendCStore(&client.CStoreRequest{
		SOPClassUID:    sopClass,
		SOPInstanceUID: sopInstance,
		Data:           retagged,
		MessageID:      msgID,
	})
	if err != nil {
		return models.FileOutcome{Filename: f.Name, Result: OutcomeFailed, Reason: err.Error()}
	}
	if resp.Status != types.StatusSuccess {
		return models.FileOutcome{
			Filename: f.Name,
			Result:   OutcomeFailed,
			Reason:   fmt.Sprintf("store rejected with status 0x%04X", resp.Status),
		}
	}
	return models.FileOutcome{Filename: f.Name, Result: OutcomeSent}
}

// ExpandUploads flattens zip archives into their member files and passes
// everything else through unchanged. Directory entries and hidden archive
// metadata are dropped. An unreadable archive or member is returned as a
// skipped outcome; it never blocks the rest of the batch.
func ExpandUploads(files []models.UploadFile) ([]models.UploadFile, []models.FileOutcome) {
	var out []models.UploadFile
	var skipped []models.FileOutcome
	for _, f := range files {
		if !strings.EqualFold(path.Ext(f.Name), ".zip") {
			out = append(out, f)
			continue
		}

		zr, err := zip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
		if err != nil {
			skipped = append(skipped, models.FileOutcome{
				Filename: f.Name,
				Result:   OutcomeSkipped,
				Reason:   fmt.Sprintf("unreadable archive: %v", err),
			})
			continue
		}
		for _, member := range zr.File {
			if member.FileInfo().IsDir() || strings.HasPrefix(path.Base(member.Name), ".") {
				continue
			}
			data, err := readMember(member)
			if err != nil {
				skipped = append(skipped, models.FileOutcome{
					Filename: f.Name + "/" + member.Name,
					Result:   OutcomeSkipped,
					Reason:   fmt.Sprintf("unreadable archive member: %v", err),
				})
				continue
			}
			out = append(out, models.UploadFile{Name: path.Base(member.Name), Data: data})
		}
	}
	return out, skipped
}

func readMember(member *zip.File) ([]byte, error) {
	rc, err := member.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// RetagInstance rewrites the patient and study identity of a DICOM file so
// an arbitrary sample image belongs to the given case. The SOP instance UID
// is replaced with a fresh one so re-uploads never collide at the PACS.
// The returned bytes are the bare dataset, ready for C-STORE. A non-empty
// reason means the file should be skipped, not failed.
func RetagInstance(data []byte, snap models.Case, studyUID string) (retagged []byte, sopClass, sopInstance, reason string) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, "", "", fmt.Sprintf("not a readable DICOM file: %v", err)
	}

	classElem, err := ds.FindElementByTag(tag.SOPClassUID)
	if err != nil {
		return nil, "", "", "missing SOPClassUID"
	}
	sopClass = firstString(classElem)
	if sopClass == "" {
		return nil, "", "", "missing SOPClassUID"
	}
	if _, err := ds.FindElementByTag(tag.SOPInstanceUID); err != nil {
		return nil, "", "", "missing SOPInstanceUID"
	}

	sopInstance = FreshUID()
	replacements := map[tag.Tag][]string{
		tag.PatientName:      {snap.PatientName},
		tag.PatientID:        {snap.PatientID},
		tag.AccessionNumber:  {snap.AccessionNumber},
		tag.StudyID:          {snap.AccessionNumber},
		tag.StudyInstanceUID: {studyUID},
		tag.SOPInstanceUID:   {sopInstance},
	}
	if err := applyReplacements(&ds, replacements); err != nil {
		return nil, "", "", fmt.Sprintf("retag failed: %v", err)
	}
	// Keep the file meta header consistent with the new instance UID.
	if _, err := ds.FindElementByTag(tag.MediaStorageSOPInstanceUID); err == nil {
		if err := applyReplacements(&ds, map[tag.Tag][]string{tag.MediaStorageSOPInstanceUID: {sopInstance}}); err != nil {
			return nil, "", "", fmt.Sprintf("retag failed: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds, dicom.SkipVRVerification()); err != nil {
		return nil, "", "", fmt.Sprintf("re-encode failed: %v", err)
	}

	bare, err := cdicom.StripPart10Header(buf.Bytes())
	if err != nil {
		return nil, "", "", fmt.Sprintf("re-encode failed: %v", err)
	}
	return bare, sopClass, sopInstance, ""
}

func applyReplacements(ds *dicom.Dataset, values map[tag.Tag][]string) error {
	for t, val := range values {
		elem, err := dicom.NewElement(t, val)
		if err != nil {
			return err
		}
		replaced := false
		for i, existing := range ds.Elements {
			if existing.Tag == t {
				ds.Elements[i] = elem
				replaced = true
				break
			}
		}
		if !replaced {
			ds.Elements = append(ds.Elements, elem)
		}
	}
	return nil
}

func firstString(elem *dicom.Element) string {
	if elem == nil || elem.Value == nil {
		return ""
	}
	if vals, ok := elem.Value.GetValue().([]string); ok && len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// FreshUID mints a UUID-derived DICOM UID (the 2.25 root form).
func FreshUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return "2.25." + n.String()
}
