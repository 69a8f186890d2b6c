package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const timeLayout = "2006-01-02 15:04:05"

// ExportTest renders the closed attempts of a test as an xlsx workbook.
func (s *Service) ExportTest(ctx context.Context, testID int64) ([]byte, error) {
	items, err := s.ResultsByTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	headers := []string{"result_id", "user_id", "test", "mark", "passed", "training", "time_taken", "started_at", "finished_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		finished := ""
		if it.FinishedAt != nil {
			finished = it.FinishedAt.Format(timeLayout)
		}
		values := []any{
			it.ID,
			it.UserID,
			it.TestTitle,
			it.Mark,
			it.Passed,
			it.Training,
			it.TimeTaken,
			it.StartedAt.Format(timeLayout),
			finished,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "I", 18)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
