package question

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"testlms/internal/grading"

	"github.com/xuri/excelize/v2"
)

var importColumns = []string{"text", "difficulty", "is_open", "id_topic", "shape", "answers"}

type ImportReport struct {
	Imported int `json:"imported"`
}

// ImportTemplate returns an empty workbook with the import header and one
// example row per shape.
func ImportTemplate() ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	rows := [][]string{
		importColumns,
		{"Capital of France?", "easy", "false", "1", "single", "*Paris|London|Rome"},
		{"Prime numbers", "medium", "false", "1", "multiple", "*2|*3|4"},
		{"Match formulas", "medium", "true", "1", "matching", "H2O=water|NaCl=salt"},
		{"Describe mitosis", "hard", "true", "1", "open", "mitosis, cell, division"},
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "F", 24)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportExcel reads questions from the first sheet of an xlsx workbook and
// stores them all or none.
func (s *Service) ImportExcel(ctx context.Context, creatorID int64, r io.Reader) (*ImportReport, error) {
	inputs, err := ParseWorkbook(r, creatorID)
	if err != nil {
		return nil, err
	}
	n, err := s.CreateBatch(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return &ImportReport{Imported: n}, nil
}

func ParseWorkbook(r io.Reader, creatorID int64) ([]CreateInput, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open excel: %v", ErrInvalidInput, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range importColumns {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	out := make([]CreateInput, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		get := func(key string) string {
			idx := header[key]
			if idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if strings.Join(row, "") == "" {
			continue
		}

		topicID, err := strconv.ParseInt(get("id_topic"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: id_topic must be a number", ErrInvalidInput, i+1)
		}
		in := CreateInput{
			Text:       get("text"),
			Difficulty: get("difficulty"),
			IsOpen:     parseBoolLoose(get("is_open")),
			TopicID:    topicID,
			CreatorID:  creatorID,
			Kind:       get("shape"),
		}
		answers := get("answers")
		switch grading.Kind(strings.ToLower(in.Kind)) {
		case grading.KindSingle, grading.KindMultiple:
			in.Options = parseOptionCell(answers)
		case grading.KindMatching:
			in.Pairs = parsePairCell(answers)
		case grading.KindOpen:
			in.Keywords = answers
		}
		out = append(out, in)
	}
	return out, nil
}

// parseOptionCell reads "*right|wrong|*also right".
func parseOptionCell(v string) []OptionInput {
	var out []OptionInput
	for _, part := range strings.Split(v, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		correct := strings.HasPrefix(part, "*")
		out = append(out, OptionInput{Text: strings.TrimSpace(strings.TrimPrefix(part, "*")), IsCorrect: correct})
	}
	return out
}

// parsePairCell reads "left=right|left=right".
func parsePairCell(v string) []grading.Pair {
	var out []grading.Pair
	for _, part := range strings.Split(v, "|") {
		left, right, ok := strings.Cut(part, "=")
		if !ok {
			out = append(out, grading.Pair{Left: strings.TrimSpace(part)})
			continue
		}
		out = append(out, grading.Pair{Left: strings.TrimSpace(left), Right: strings.TrimSpace(right)})
	}
	return out
}

func parseBoolLoose(v string) bool {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes", "y", "training":
		return true
	default:
		return false
	}
}
