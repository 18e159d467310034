package services

import (
	"testing"

	"fleet-console-backend/db/models"

	"github.com/stretchr/testify/assert"
)

func TestReportSheets(t *testing.T) {
	created := errorRow(3, "bad")
	created.JobID = intPtr(9)
	rejected := errorRow(4, "bad")
	rejected.IsRejected = true

	names, sheets := ReportSheets([]models.UploadRow{
		validRow(1),
		errorRow(2, "Unknown customer"),
		created,
		rejected,
		dbDupRow(5),
	})

	assert.Equal(t, []string{SheetErrors, SheetDBDuplicates}, names)
	assert.Equal(t, []int{2}, rowNumbers(sheets[SheetErrors]))
	assert.Equal(t, []int{5}, rowNumbers(sheets[SheetDBDuplicates]))
	assert.NotContains(t, sheets, SheetXlsDuplicates)
}

func TestReportSheetsNothingToReport(t *testing.T) {
	names, sheets := ReportSheets([]models.UploadRow{validRow(1)})
	assert.Empty(t, names)
	assert.Empty(t, sheets)
}

func TestBucketSheetName(t *testing.T) {
	assert.Equal(t, "Valid", BucketSheetName(models.BucketValid))
	assert.Equal(t, SheetXlsDuplicates, BucketSheetName(models.BucketXlsDuplicate))
}
