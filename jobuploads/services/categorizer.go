package services

import (
	"sort"
	"strings"

	"fleet-console-backend/db/models"
)

// StatusKind discriminates ValidationStatus.
type StatusKind int

const (
	StatusValid StatusKind = iota
	StatusInvalid
	StatusDuplicateInFile
	StatusDuplicateInDB
	StatusRejected
)

func (k StatusKind) String() string {
	switch k {
	case StatusValid:
		return "valid"
	case StatusInvalid:
		return "invalid"
	case StatusDuplicateInFile:
		return "duplicate_in_file"
	case StatusDuplicateInDB:
		return "duplicate_in_db"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// ValidationStatus is the derived validation state of a row. Reason is only
// set for StatusInvalid.
type ValidationStatus struct {
	Kind   StatusKind
	Reason string
}

// Bucket maps the status to its bucket. Rejected rows belong to none.
func (s ValidationStatus) Bucket() (models.Bucket, bool) {
	switch s.Kind {
	case StatusValid:
		return models.BucketValid, true
	case StatusInvalid:
		return models.BucketError, true
	case StatusDuplicateInFile:
		return models.BucketXlsDuplicate, true
	case StatusDuplicateInDB:
		return models.BucketDBDuplicate, true
	}
	return "", false
}

// StatusOf derives a row's status from is_rejected, is_valid and the
// duplicate classification. The structured duplicate_kind wins over the
// error_message markers; when both markers appear the file marker wins.
func StatusOf(row models.UploadRow) ValidationStatus {
	if row.IsRejected {
		return ValidationStatus{Kind: StatusRejected}
	}
	if row.IsValid {
		return ValidationStatus{Kind: StatusValid}
	}

	switch row.DuplicateKind {
	case models.DuplicateFile:
		return ValidationStatus{Kind: StatusDuplicateInFile}
	case models.DuplicateDB:
		return ValidationStatus{Kind: StatusDuplicateInDB}
	case models.DuplicateNone:
		return ValidationStatus{Kind: StatusInvalid, Reason: row.ErrorMessage}
	}

	if strings.Contains(row.ErrorMessage, models.DuplicateInFileMarker) {
		return ValidationStatus{Kind: StatusDuplicateInFile}
	}
	if strings.Contains(row.ErrorMessage, models.DuplicateInDatabaseMarker) {
		return ValidationStatus{Kind: StatusDuplicateInDB}
	}
	return ValidationStatus{Kind: StatusInvalid, Reason: row.ErrorMessage}
}

// BucketOf returns the bucket a row belongs to, false for rejected rows.
func BucketOf(row models.UploadRow) (models.Bucket, bool) {
	return StatusOf(row).Bucket()
}

// Buckets is the partition of a row set. Every slice is ordered by row number.
type Buckets struct {
	Valid        []models.UploadRow `json:"valid"`
	Error        []models.UploadRow `json:"error"`
	XlsDuplicate []models.UploadRow `json:"xls_duplicate"`
	DBDuplicate  []models.UploadRow `json:"db_duplicate"`
	Rejected     []int              `json:"rejected"`
}

// Get returns the rows of one bucket.
func (b Buckets) Get(bucket models.Bucket) []models.UploadRow {
	switch bucket {
	case models.BucketValid:
		return b.Valid
	case models.BucketError:
		return b.Error
	case models.BucketXlsDuplicate:
		return b.XlsDuplicate
	case models.BucketDBDuplicate:
		return b.DBDuplicate
	}
	return nil
}

// Categorize partitions rows into the four buckets. It copies every row and
// never modifies its input.
func Categorize(rows []models.UploadRow) Buckets {
	b := Buckets{
		Valid:        []models.UploadRow{},
		Error:        []models.UploadRow{},
		XlsDuplicate: []models.UploadRow{},
		DBDuplicate:  []models.UploadRow{},
		Rejected:     []int{},
	}

	for _, row := range rows {
		bucket, ok := BucketOf(row)
		if !ok {
			b.Rejected = append(b.Rejected, row.RowNumber)
			continue
		}
		switch bucket {
		case models.BucketValid:
			b.Valid = append(b.Valid, row.Clone())
		case models.BucketError:
			b.Error = append(b.Error, row.Clone())
		case models.BucketXlsDuplicate:
			b.XlsDuplicate = append(b.XlsDuplicate, row.Clone())
		case models.BucketDBDuplicate:
			b.DBDuplicate = append(b.DBDuplicate, row.Clone())
		}
	}

	sortByRowNumber(b.Valid)
	sortByRowNumber(b.Error)
	sortByRowNumber(b.XlsDuplicate)
	sortByRowNumber(b.DBDuplicate)
	sort.Ints(b.Rejected)
	return b
}

// Summary counts rows per bucket.
type Summary struct {
	Total        int `json:"total"`
	Valid        int `json:"valid"`
	Error        int `json:"error"`
	XlsDuplicate int `json:"xls_duplicate"`
	DBDuplicate  int `json:"db_duplicate"`
	Rejected     int `json:"rejected"`
	Created      int `json:"created"`
}

// Summarize counts the rows of each bucket, rejected rows and rows that
// already have a job.
func Summarize(rows []models.UploadRow) Summary {
	s := Summary{Total: len(rows)}
	for _, row := range rows {
		if row.Created() {
			s.Created++
		}
		bucket, ok := BucketOf(row)
		if !ok {
			s.Rejected++
			continue
		}
		switch bucket {
		case models.BucketValid:
			s.Valid++
		case models.BucketError:
			s.Error++
		case models.BucketXlsDuplicate:
			s.XlsDuplicate++
		case models.BucketDBDuplicate:
			s.DBDuplicate++
		}
	}
	return s
}

// selectRows returns the rows of bucket whose row number is in selected and
// that have no job yet, ordered by row number.
func selectRows(rows []models.UploadRow, bucket models.Bucket, selected []int) []models.UploadRow {
	want := make(map[int]struct{}, len(selected))
	for _, n := range selected {
		want[n] = struct{}{}
	}

	var out []models.UploadRow
	for _, row := range rows {
		if _, ok := want[row.RowNumber]; !ok {
			continue
		}
		if row.Created() {
			continue
		}
		if b, ok := BucketOf(row); ok && b == bucket {
			out = append(out, row.Clone())
		}
	}
	sortByRowNumber(out)
	return out
}

func sortByRowNumber(rows []models.UploadRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].RowNumber < rows[j].RowNumber
	})
}

func rowNumbers(rows []models.UploadRow) []int {
	out := make([]int, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.RowNumber)
	}
	return out
}
