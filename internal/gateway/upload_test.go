package gateway

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	cdicom "github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"radiology-simulator/internal/models"
)

func mustElement(t *testing.T, tg tag.Tag, value interface{}) *dicom.Element {
	t.Helper()
	e, err := dicom.NewElement(tg, value)
	require.NoError(t, err)
	return e
}

// sampleDICOM writes a minimal secondary capture file the way sample image
// generators do: string metadata only, no pixel data.
func sampleDICOM(t *testing.T) []byte {
	t.Helper()
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustElement(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.7"}),
		mustElement(t, tag.MediaStorageSOPInstanceUID, []string{"1.2.3.4.5"}),
		mustElement(t, tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.7"}),
		mustElement(t, tag.SOPInstanceUID, []string{"1.2.3.4.5"}),
		mustElement(t, tag.PatientName, []string{"ORIGINAL^NAME"}),
		mustElement(t, tag.PatientID, []string{"ORIG-PAT"}),
		mustElement(t, tag.AccessionNumber, []string{"ORIG-ACC"}),
		mustElement(t, tag.StudyInstanceUID, []string{"1.2.3.4"}),
		mustElement(t, tag.Modality, []string{"OT"}),
	}}

	var buf bytes.Buffer
	require.NoError(t, dicom.Write(&buf, ds, dicom.SkipVRVerification()))
	return buf.Bytes()
}

func retagTarget() models.Case {
	return models.Case{
		Scope:           "AB12",
		PatientID:       "AB12-PAT1",
		PatientName:     "BOND^JAMES",
		AccessionNumber: "AB12-ACC001",
	}
}

func TestRetagInstance(t *testing.T) {
	studyUID := "1.2.826.0.1.3680043.2.1234567890"
	bare, sopClass, sopInstance, reason := RetagInstance(sampleDICOM(t), retagTarget(), studyUID)
	require.Empty(t, reason)
	assert.Equal(t, "1.2.840.10008.5.1.4.1.1.7", sopClass)
	assert.True(t, strings.HasPrefix(sopInstance, "2.25."), "fresh SOP instance UID")
	assert.NotEqual(t, "1.2.3.4.5", sopInstance)

	// The returned bytes are a bare dataset carrying the case identity.
	parsed, err := cdicom.ParseDataset(bare)
	require.NoError(t, err)
	assert.Equal(t, "AB12-PAT1", parsed.GetString(tagPatientID))
	assert.Equal(t, "BOND^JAMES", parsed.GetString(tagPatientName))
	assert.Equal(t, "AB12-ACC001", parsed.GetString(tagAccessionNumber))
	assert.Equal(t, studyUID, parsed.GetString(tagStudyInstanceUID))
	assert.Equal(t, sopInstance, parsed.GetString(tagSOPInstanceUID))
}

func TestRetagInstanceFreshUIDPerCall(t *testing.T) {
	data := sampleDICOM(t)
	_, _, first, reason := RetagInstance(data, retagTarget(), "1.2.3")
	require.Empty(t, reason)
	_, _, second, reason := RetagInstance(data, retagTarget(), "1.2.3")
	require.Empty(t, reason)
	assert.NotEqual(t, first, second, "re-uploads must never collide at the PACS")
}

func TestRetagInstanceUnreadable(t *testing.T) {
	_, _, _, reason := RetagInstance([]byte("this is not dicom"), retagTarget(), "1.2.3")
	assert.Contains(t, reason, "not a readable DICOM file")
}

func TestExpandUploads(t *testing.T) {
	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	for name, content := range map[string]string{
		"series1/img001.dcm":  "one",
		"series1/img002.dcm":  "two",
		"series1/.DS_Store":   "junk",
		"__MACOSX/._img0.dcm": "junk",
	} {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	out, skipped := ExpandUploads([]models.UploadFile{
		{Name: "upload.zip", Data: zbuf.Bytes()},
		{Name: "plain.dcm", Data: []byte("three")},
	})
	assert.Empty(t, skipped)

	names := make(map[string]string)
	for _, f := range out {
		names[f.Name] = string(f.Data)
	}
	assert.Equal(t, map[string]string{
		"img001.dcm": "one",
		"img002.dcm": "two",
		"plain.dcm":  "three",
	}, names, "zip members flatten to base names, archive junk is dropped")
}

func TestExpandUploadsBadArchive(t *testing.T) {
	// A broken archive is skipped; the files next to it still go through.
	out, skipped := ExpandUploads([]models.UploadFile{
		{Name: "broken.zip", Data: []byte("not a zip")},
		{Name: "plain.dcm", Data: []byte("three")},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "plain.dcm", out[0].Name)

	require.Len(t, skipped, 1)
	assert.Equal(t, "broken.zip", skipped[0].Filename)
	assert.Equal(t, OutcomeSkipped, skipped[0].Result)
	assert.Contains(t, skipped[0].Reason, "unreadable archive")
}

func TestFreshUID(t *testing.T) {
	a := FreshUID()
	b := FreshUID()
	assert.True(t, strings.HasPrefix(a, "2.25."))
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "-")
	assert.LessOrEqual(t, len(a), 64, "UIDs must fit the DICOM length limit")
}
