package worklist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radiology-simulator/internal/models"
	"radiology-simulator/internal/registry"
)

func testWriter() *Writer {
	w := NewWriter(NewMemoryStore(), "CT01")
	w.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	}
	return w
}

func orderedCase(pid, acc string) models.Case {
	return models.Case{
		Scope:            "AB12",
		PatientID:        pid,
		PatientName:      "BOND^JAMES",
		AccessionNumber:  acc,
		Status:           models.StatusOrdered,
		OrderedProcedure: "CT Abdomen",
	}
}

func collect(seq func(func(models.WorklistEntry) bool)) []models.WorklistEntry {
	var out []models.WorklistEntry
	for e := range seq {
		out = append(out, e)
	}
	return out
}

func TestPublish(t *testing.T) {
	w := testWriter()
	ctx := context.Background()

	e, err := w.Publish(ctx, orderedCase("AB12-PAT1", "AB12-ACC001"))
	require.NoError(t, err)
	assert.Equal(t, "AB12-ACC001", e.AccessionNumber)
	assert.Equal(t, "AB12-ACC001", e.ScheduledStepID)
	assert.Equal(t, "CT", e.Modality)
	assert.Equal(t, "CT01", e.ScheduledStationAE)
	assert.Equal(t, "20260314", e.ScheduledDate)
	assert.Equal(t, "092653", e.ScheduledTime)
	assert.Equal(t, registry.DeriveStudyUID("AB12-ACC001"), e.StudyInstanceUID,
		"worklist and stored images must agree on the study UID before any image exists")
}

func TestPublishMissingAccession(t *testing.T) {
	w := testWriter()
	_, err := w.Publish(context.Background(), orderedCase("AB12-PAT1", ""))
	require.ErrorIs(t, err, ErrMissingAccession)
}

func TestPublishSupersedes(t *testing.T) {
	w := testWriter()
	ctx := context.Background()

	_, err := w.Publish(ctx, orderedCase("AB12-PAT1", "AB12-ACC001"))
	require.NoError(t, err)
	_, err = w.Publish(ctx, orderedCase("AB12-PAT2", "AB12-ACC002"))
	require.NoError(t, err)

	// Republish the first order with a changed procedure.
	c := orderedCase("AB12-PAT1", "AB12-ACC001")
	c.OrderedProcedure = "CT Thorax"
	_, err = w.Publish(ctx, c)
	require.NoError(t, err)

	seq, err := w.Query(ctx, Filter{Scope: "AB12"})
	require.NoError(t, err)
	entries := collect(seq)
	require.Len(t, entries, 2, "republish supersedes, never duplicates")
	assert.Equal(t, "AB12-ACC002", entries[0].AccessionNumber)
	assert.Equal(t, "AB12-ACC001", entries[1].AccessionNumber)
	assert.Equal(t, "CT Thorax", entries[1].RequestedProcedure)
}

func TestQueryFilters(t *testing.T) {
	w := testWriter()
	ctx := context.Background()

	_, err := w.Publish(ctx, orderedCase("AB12-PAT1", "AB12-ACC001"))
	require.NoError(t, err)

	seq, err := w.Query(ctx, Filter{Scope: "AB12", Station: "MR99"})
	require.NoError(t, err)
	assert.Empty(t, collect(seq), "station mismatch yields an empty result, not an error")

	seq, err = w.Query(ctx, Filter{Scope: "AB12", Station: "CT01", Date: "20260314"})
	require.NoError(t, err)
	assert.Len(t, collect(seq), 1)

	seq, err = w.Query(ctx, Filter{Scope: "AB12", Date: "19990101"})
	require.NoError(t, err)
	assert.Empty(t, collect(seq))

	seq, err = w.Query(ctx, Filter{Scope: "ZZ99"})
	require.NoError(t, err)
	assert.Empty(t, collect(seq))
}

func TestQueryRestartable(t *testing.T) {
	w := testWriter()
	ctx := context.Background()

	for _, acc := range []string{"AB12-ACC001", "AB12-ACC002", "AB12-ACC003"} {
		_, err := w.Publish(ctx, orderedCase("AB12-PAT1", acc))
		require.NoError(t, err)
	}

	seq, err := w.Query(ctx, Filter{Scope: "AB12"})
	require.NoError(t, err)

	// Early break, then iterate the same sequence from the start again.
	var first []string
	for e := range seq {
		first = append(first, e.AccessionNumber)
		if len(first) == 2 {
			break
		}
	}
	require.Equal(t, []string{"AB12-ACC001", "AB12-ACC002"}, first)

	assert.Len(t, collect(seq), 3, "the sequence restarts from the beginning")
}

func TestClear(t *testing.T) {
	w := testWriter()
	ctx := context.Background()

	_, err := w.Publish(ctx, orderedCase("AB12-PAT1", "AB12-ACC001"))
	require.NoError(t, err)
	require.NoError(t, w.Clear(ctx, "AB12-ACC001"))
	require.NoError(t, w.Clear(ctx, "AB12-ACC001"), "clearing twice is harmless")

	seq, err := w.Query(ctx, Filter{Scope: "AB12"})
	require.NoError(t, err)
	assert.Empty(t, collect(seq))
}

func TestMemoryStoreScopeFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, models.WorklistEntry{AccessionNumber: "AB12-ACC001"}))
	require.NoError(t, s.Put(ctx, models.WorklistEntry{AccessionNumber: "CD34-ACC001"}))

	scoped, err := s.Entries(ctx, "AB12")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "AB12-ACC001", scoped[0].AccessionNumber)

	all, err := s.Entries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "the unscoped trainer view sees every entry")
}
