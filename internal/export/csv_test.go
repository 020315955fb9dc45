package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

func sampleRecord() *types.PatientRecord {
	dob := time.Date(1985, 3, 12, 0, 0, 0, 0, time.UTC)
	return &types.PatientRecord{
		ID:               "id-1",
		PatientID:        "PAT-123456-ABC",
		FirstName:        "Jane",
		LastName:         "Doe",
		DateOfBirth:      &dob,
		Gender:           "female",
		Diagnosis:        "Hypertension, stage 1",
		SyncStatus:       types.SyncStatusSynced,
		ExternalRecordID: "EXT-42",
		CreatedBy:        "researcher@clinic.org",
		CreatedAt:        time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC),
	}
}

func TestExporter_WriteCSV(t *testing.T) {
	exporter := NewExporter(logger.New("debug"))

	var buf bytes.Buffer
	err := exporter.WriteCSV(&buf, []*types.PatientRecord{sampleRecord()})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "PAT-123456-ABC", rows[1][0])
	assert.Equal(t, "1985-03-12", rows[1][3])
	assert.Equal(t, "Hypertension, stage 1", rows[1][5])
	assert.Equal(t, "synced", rows[1][8])
	assert.Equal(t, "EXT-42", rows[1][9])
}

func TestExporter_WriteCSVEmpty(t *testing.T) {
	exporter := NewExporter(logger.New("debug"))

	var buf bytes.Buffer
	err := exporter.WriteCSV(&buf, nil)
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestExporter_RenderHTML(t *testing.T) {
	exporter := NewExporter(logger.New("debug"))

	html, err := exporter.RenderHTML(sampleRecord())
	require.NoError(t, err)

	assert.Contains(t, html, "PAT-123456-ABC")
	assert.Contains(t, html, "Jane Doe")
	assert.Contains(t, html, "1985-03-12")
	assert.Contains(t, html, "EXT-42")
}

func TestExporter_RenderHTMLEscapesContent(t *testing.T) {
	exporter := NewExporter(logger.New("debug"))

	record := sampleRecord()
	record.Notes = `<script>alert("x")</script>`

	html, err := exporter.RenderHTML(record)
	require.NoError(t, err)

	assert.False(t, strings.Contains(html, "<script>alert"))
	assert.Contains(t, html, "&lt;script&gt;")
}
