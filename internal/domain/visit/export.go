package visit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportSheet is the worksheet holding exported visits.
const ExportSheet = "Visits"

// ExportHeader lists the workbook columns in order.
var ExportHeader = []string{
	"ID",
	"Visit Date",
	"Duration (min)",
	"Patient",
	"Record Number",
	"Visit Type",
	"Status",
	"Doctor",
	"Diagnosis",
	"Follow-up Date",
}

var exportColumnWidths = []float64{8, 18, 14, 28, 18, 18, 14, 22, 40, 16}

// ExportWorkbook renders visits as an XLSX workbook with one row per visit.
func ExportWorkbook(visits []*Visit) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ExportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, header := range ExportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(ExportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(ExportSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("set header style: %w", err)
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(ExportSheet, col, col, exportColumnWidths[i]); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for r, v := range visits {
		row := exportRow(v)
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func exportRow(v *Visit) []interface{} {
	return []interface{}{
		v.ID,
		formatTime(v.VisitDate, "2006-01-02 15:04"),
		formatInt(v.DurationMinutes),
		eventTitle(v),
		deref(v.RecordNumber),
		v.VisitType,
		v.Status,
		deref(v.DoctorName),
		deref(v.Diagnosis),
		formatTime(v.FollowUpDate, "2006-01-02"),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(layout)
}
