// Package export renders patient records as CSV and PDF for offline
// review and regulatory submission packets.
package export

import (
	"encoding/csv"
	"io"

	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

// Exporter renders patient records for download
type Exporter struct {
	logger *logger.Logger
}

// NewExporter creates a new exporter
func NewExporter(log *logger.Logger) *Exporter {
	return &Exporter{logger: log}
}

var csvHeader = []string{
	"patient_id", "first_name", "last_name", "date_of_birth", "gender",
	"diagnosis", "treatment_plan", "notes", "sync_status",
	"external_record_id", "created_by", "created_at",
}

// WriteCSV streams records as CSV, one row per record
func (e *Exporter) WriteCSV(w io.Writer, records []*types.PatientRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, record := range records {
		dob := ""
		if record.DateOfBirth != nil {
			dob = record.DateOfBirth.Format("2006-01-02")
		}

		row := []string{
			record.PatientID,
			record.FirstName,
			record.LastName,
			dob,
			record.Gender,
			record.Diagnosis,
			record.TreatmentPlan,
			record.Notes,
			string(record.SyncStatus),
			record.ExternalRecordID,
			record.CreatedBy,
			record.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
