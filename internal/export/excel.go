package export

import (
	"fmt"
	"io"

	"wisefido-sleepstage/internal/models"

	"github.com/xuri/excelize/v2"
)

// EventSheet 事件表工作表名
const EventSheet = "Events"

// WriteExcel 以 xlsx 写出事件表
func WriteExcel(w io.Writer, events []models.Event) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(EventSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range EventHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(EventSheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(EventSheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(EventSheet, "B", "B", 20); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	for i, e := range events {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := []interface{}{e.RowID, e.SeriesID, e.Step, e.Event, e.Score}
		if err := f.SetSheetRow(EventSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", e.RowID, err)
		}
	}

	if err := f.SetPanes(EventSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// ReadExcel 读取 WriteExcel 写出的事件表
func ReadExcel(r io.Reader) ([]models.Event, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(EventSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", EventSheet)
	}

	events := make([]models.Event, 0, len(rows)-1)
	for i, row := range rows[1:] {
		e, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		events = append(events, e)
	}
	return events, nil
}
