// Package report serves the read side of graded attempts: teacher listings,
// per-test summaries and spreadsheet exports.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"testlms/internal/db"
)

var (
	ErrTestNotFound   = errors.New("test not found")
	ErrResultNotFound = errors.New("result not found")
	ErrGroupNotFound  = errors.New("group not found")
)

// ResultRow is one closed attempt joined with its test title.
type ResultRow struct {
	ID         int64      `json:"id"`
	TestID     int64      `json:"test_id"`
	TestTitle  string     `json:"test_title"`
	UserID     int64      `json:"user_id"`
	Mark       int        `json:"mark"`
	TimeTaken  int        `json:"time_taken"`
	Passed     bool       `json:"passed"`
	Training   bool       `json:"training"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type AnswerRecord struct {
	ResultID     int64           `json:"result_id"`
	QuestionID   int64           `json:"question_id"`
	QuestionText string          `json:"question_text"`
	AnswerData   json.RawMessage `json:"answer_data"`
	IsCorrect    bool            `json:"is_correct"`
	Score        float64         `json:"score"`
}

type StudentResults struct {
	UserID  int64       `json:"user_id"`
	Results []ResultRow `json:"results"`
}

type TestSummary struct {
	TestID       int64   `json:"test_id"`
	Participants int     `json:"participants"`
	Passed       int     `json:"passed"`
	AverageMark  float64 `json:"average_mark"`
	HighestMark  int     `json:"highest_mark"`
	LowestMark   int     `json:"lowest_mark"`
}

type Service struct {
	db *sql.DB
}

func NewService(conn *sql.DB) *Service {
	return &Service{db: conn}
}

const resultColumns = `r.id, r.test_id, t.title, r.user_id, r.mark, r.time_taken, r.passed, r.training,
	r.started_at, r.finished_at`

const resultFrom = ` FROM test_results r JOIN tests t ON t.id = r.test_id`

// ResultsByTest lists every closed attempt of a test, best mark first.
func (s *Service) ResultsByTest(ctx context.Context, testID int64) ([]ResultRow, error) {
	if err := s.requireTest(ctx, testID); err != nil {
		return nil, err
	}
	return queryResults(ctx, s.db, `SELECT `+resultColumns+resultFrom+`
		WHERE r.test_id = $1 AND r.mark IS NOT NULL
		ORDER BY r.mark DESC, r.id
	`, testID)
}

// ResultsByUser lists a user's closed assessment attempts, newest first.
// Training attempts are left out.
func (s *Service) ResultsByUser(ctx context.Context, userID int64) ([]ResultRow, error) {
	return queryResults(ctx, s.db, `SELECT `+resultColumns+resultFrom+`
		WHERE r.user_id = $1 AND r.mark IS NOT NULL AND r.training = FALSE
		ORDER BY r.finished_at DESC, r.id DESC
	`, userID)
}

// ResultsByGroup returns every member of the group with their assessment
// results on the group's tests. Members without results are included.
func (s *Service) ResultsByGroup(ctx context.Context, groupID int64) ([]StudentResults, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE id = $1`, groupID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check group: %w", err)
	}

	members, err := queryMembers(ctx, s.db, groupID)
	if err != nil {
		return nil, err
	}
	rows, err := queryResults(ctx, s.db, `SELECT `+resultColumns+resultFrom+`
		WHERE t.group_id = $1 AND r.mark IS NOT NULL AND r.training = FALSE
		ORDER BY r.user_id, r.finished_at DESC, r.id DESC
	`, groupID)
	if err != nil {
		return nil, err
	}

	byUser := make(map[int64][]ResultRow, len(members))
	for _, row := range rows {
		byUser[row.UserID] = append(byUser[row.UserID], row)
	}
	out := make([]StudentResults, 0, len(members))
	for _, userID := range members {
		results := byUser[userID]
		if results == nil {
			results = []ResultRow{}
		}
		out = append(out, StudentResults{UserID: userID, Results: results})
	}
	return out, nil
}

// AnswersByResult returns the graded answers of one attempt in question order.
func (s *Service) AnswersByResult(ctx context.Context, resultID int64) ([]AnswerRecord, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM test_results WHERE id = $1`, resultID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check result: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.result_id, a.question_id, COALESCE(q.text, ''), a.answer_data, a.is_correct, a.score
		FROM user_answers a
		LEFT JOIN questions q ON q.id = a.question_id
		WHERE a.result_id = $1
		ORDER BY a.question_id
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	out := make([]AnswerRecord, 0)
	for rows.Next() {
		var (
			rec  AnswerRecord
			data string
		)
		if err := rows.Scan(&rec.ResultID, &rec.QuestionID, &rec.QuestionText, &data, &rec.IsCorrect, &rec.Score); err != nil {
			return nil, err
		}
		rec.AnswerData = json.RawMessage(data)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summary aggregates the closed attempts of a test.
func (s *Service) Summary(ctx context.Context, testID int64) (*TestSummary, error) {
	if err := s.requireTest(ctx, testID); err != nil {
		return nil, err
	}

	var (
		sum       TestSummary
		avg       sql.NullFloat64
		high, low sql.NullInt64
		passed    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(mark), MAX(mark), MIN(mark),
			SUM(CASE WHEN passed THEN 1 ELSE 0 END)
		FROM test_results
		WHERE test_id = $1 AND mark IS NOT NULL
	`, testID).Scan(&sum.Participants, &avg, &high, &low, &passed)
	if err != nil {
		return nil, fmt.Errorf("summarize results: %w", err)
	}
	sum.TestID = testID
	sum.AverageMark = avg.Float64
	sum.HighestMark = int(high.Int64)
	sum.LowestMark = int(low.Int64)
	sum.Passed = int(passed.Int64)
	return &sum, nil
}

func (s *Service) requireTest(ctx context.Context, testID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tests WHERE id = $1`, testID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTestNotFound
	}
	if err != nil {
		return fmt.Errorf("check test: %w", err)
	}
	return nil
}

func queryMembers(ctx context.Context, q db.Querier, groupID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func queryResults(ctx context.Context, q db.Querier, query string, args ...interface{}) ([]ResultRow, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]ResultRow, 0)
	for rows.Next() {
		var (
			r        ResultRow
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.TestID, &r.TestTitle, &r.UserID, &r.Mark, &r.TimeTaken, &r.Passed, &r.Training,
			&r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			v := finished.Time
			r.FinishedAt = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
