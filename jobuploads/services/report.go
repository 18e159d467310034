package services

import "fleet-console-backend/db/models"

// Sheet names of the error report, in tab order.
const (
	SheetErrors        = "Errors"
	SheetXlsDuplicates = "Duplicates in file"
	SheetDBDuplicates  = "Duplicates in database"
)

var reportSheets = []struct {
	name   string
	bucket models.Bucket
}{
	{SheetErrors, models.BucketError},
	{SheetXlsDuplicates, models.BucketXlsDuplicate},
	{SheetDBDuplicates, models.BucketDBDuplicate},
}

// ReportSheets collects the rows that still need attention: every row of the
// three problem buckets without a job. Empty buckets get no sheet.
func ReportSheets(rows []models.UploadRow) ([]string, map[string][]models.UploadRow) {
	buckets := Categorize(rows)

	var names []string
	sheets := make(map[string][]models.UploadRow)
	for _, sheet := range reportSheets {
		var pending []models.UploadRow
		for _, row := range buckets.Get(sheet.bucket) {
			if !row.Created() {
				pending = append(pending, row)
			}
		}
		if len(pending) == 0 {
			continue
		}
		names = append(names, sheet.name)
		sheets[sheet.name] = pending
	}
	return names, sheets
}

// BucketSheetName is the sheet title used when exporting a single bucket.
func BucketSheetName(bucket models.Bucket) string {
	switch bucket {
	case models.BucketValid:
		return "Valid"
	case models.BucketError:
		return SheetErrors
	case models.BucketXlsDuplicate:
		return SheetXlsDuplicates
	case models.BucketDBDuplicate:
		return SheetDBDuplicates
	}
	return string(bucket)
}
