package utils

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fleet-console-backend/db/models"

	"github.com/xuri/excelize/v2"
)

// ReportDir is where generated workbooks are written before they are mailed.
var ReportDir = "./public/files"

// RowColumn is one column of an exported row sheet.
type RowColumn struct {
	Header string
	Value  func(row models.UploadRow) interface{}
}

// RowColumns are the columns of the job upload template followed by the
// validation outcome.
var RowColumns = []RowColumn{
	{"Row", func(r models.UploadRow) interface{} { return r.RowNumber }},
	{"Customer", func(r models.UploadRow) interface{} { return r.Customer }},
	{"Service", func(r models.UploadRow) interface{} { return r.Service }},
	{"Vehicle Type", func(r models.UploadRow) interface{} { return r.VehicleType }},
	{"Vehicle", func(r models.UploadRow) interface{} { return r.Vehicle }},
	{"Driver", func(r models.UploadRow) interface{} { return r.Driver }},
	{"Contractor", func(r models.UploadRow) interface{} { return r.Contractor }},
	{"Pickup Date", func(r models.UploadRow) interface{} { return r.PickupDate }},
	{"Pickup Time", func(r models.UploadRow) interface{} { return r.PickupTime }},
	{"Pickup Location", func(r models.UploadRow) interface{} { return r.PickupLocation }},
	{"Dropoff Location", func(r models.UploadRow) interface{} { return r.DropoffLocation }},
	{"Passenger Name", func(r models.UploadRow) interface{} { return r.PassengerName }},
	{"Remarks", func(r models.UploadRow) interface{} { return r.Remarks }},
	{"Errors", func(r models.UploadRow) interface{} { return strings.Join(r.ErrorMessages(), "\n") }},
	{"Job ID", func(r models.UploadRow) interface{} {
		if r.JobID == nil {
			return ""
		}
		return *r.JobID
	}},
}

// EnsureDirectoryExists ensures the parent directory of filePath exists.
func EnsureDirectoryExists(filePath string) error {
	dir := filepath.Dir(filePath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory: %v", err)
		}
	}
	return nil
}

// BuildRowsWorkbook writes one sheet per name in sheets. Sheet order follows
// the order of names.
func BuildRowsWorkbook(names []string, sheets map[string][]models.UploadRow) (*excelize.File, error) {
	f := excelize.NewFile()
	defaultSheet := f.GetSheetName(0)

	for _, name := range names {
		if _, err := f.NewSheet(name); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("error creating sheet %s: %v", name, err)
		}
		if err := writeRows(f, name, sheets[name]); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if len(names) > 0 {
		if !contains(names, defaultSheet) {
			_ = f.DeleteSheet(defaultSheet)
		}
		if index, err := f.GetSheetIndex(names[0]); err == nil && index >= 0 {
			f.SetActiveSheet(index)
		}
	}
	return f, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func writeRows(f *excelize.File, sheet string, rows []models.UploadRow) error {
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("error creating header style: %v", err)
	}

	for col, column := range RowColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, column.Header); err != nil {
			return fmt.Errorf("error setting header %s: %v", column.Header, err)
		}
		_ = f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for i, row := range rows {
		for col, column := range RowColumns {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, column.Value(row)); err != nil {
				return fmt.Errorf("error setting %s for row %d: %v", column.Header, row.RowNumber, err)
			}
		}
	}
	return nil
}

// RowsToXLSX renders a single sheet workbook in memory.
func RowsToXLSX(sheet string, rows []models.UploadRow) ([]byte, error) {
	f, err := BuildRowsWorkbook([]string{sheet}, map[string][]models.UploadRow{sheet: rows})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("error writing workbook: %v", err)
	}
	return buf.Bytes(), nil
}

// SaveRowsWorkbook writes the workbook under ReportDir and returns its path.
func SaveRowsWorkbook(taskName string, names []string, sheets map[string][]models.UploadRow) (string, error) {
	f, err := BuildRowsWorkbook(names, sheets)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("%s_%s.xlsx", taskName, time.Now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(ReportDir, fileName)
	if err := EnsureDirectoryExists(path); err != nil {
		return "", err
	}
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving workbook: %v", err)
	}
	return path, nil
}
