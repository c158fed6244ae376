// Package export 事件表导出（CSV、Excel）
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"wisefido-sleepstage/internal/models"
)

// EventHeader 事件表列名
var EventHeader = []string{"row_id", "series_id", "step", "event", "score"}

func eventRecord(e models.Event) []string {
	return []string{
		strconv.Itoa(e.RowID),
		e.SeriesID,
		strconv.FormatInt(e.Step, 10),
		e.Event,
		strconv.FormatFloat(e.Score, 'f', -1, 64),
	}
}

// WriteCSV 写出事件表（含表头）
func WriteCSV(w io.Writer, events []models.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EventHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, e := range events {
		if err := cw.Write(eventRecord(e)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", e.RowID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV 读取 WriteCSV 写出的事件表
func ReadCSV(r io.Reader) ([]models.Event, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header")
	}

	events := make([]models.Event, 0, len(records)-1)
	for i, record := range records[1:] {
		e, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		events = append(events, e)
	}
	return events, nil
}

func parseRecord(record []string) (models.Event, error) {
	if len(record) != len(EventHeader) {
		return models.Event{}, fmt.Errorf("expected %d columns, got %d", len(EventHeader), len(record))
	}
	rowID, err := strconv.Atoi(record[0])
	if err != nil {
		return models.Event{}, fmt.Errorf("invalid row_id: %w", err)
	}
	step, err := strconv.ParseInt(record[2], 10, 64)
	if err != nil {
		return models.Event{}, fmt.Errorf("invalid step: %w", err)
	}
	score, err := strconv.ParseFloat(record[4], 64)
	if err != nil {
		return models.Event{}, fmt.Errorf("invalid score: %w", err)
	}
	return models.Event{RowID: rowID, SeriesID: record[1], Step: step, Event: record[3], Score: score}, nil
}
