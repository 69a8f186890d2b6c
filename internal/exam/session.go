package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"testlms/internal/db"
	"testlms/internal/grading"
	"testlms/internal/question"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Attempt is one learner's pass through a test. Mark is nil while the attempt
// is open.
type Attempt struct {
	ID         int64      `json:"id"`
	TestID     int64      `json:"test_id"`
	UserID     int64      `json:"user_id"`
	Mark       *int       `json:"mark"`
	TimeTaken  int        `json:"time_taken"`
	Passed     bool       `json:"passed"`
	Training   bool       `json:"training"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type AnswerInput struct {
	QuestionID int64           `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
}

type SubmitInput struct {
	AttemptID int64
	UserID    int64
	Answers   []AnswerInput
	TimeTaken int
}

type QuestionFeedback struct {
	QuestionID    int64           `json:"question_id"`
	QuestionText  string          `json:"question_text"`
	UserAnswer    json.RawMessage `json:"user_answer"`
	CorrectAnswer interface{}     `json:"correct_answer"`
	IsCorrect     bool            `json:"is_correct"`
	Score         float64         `json:"score"`
}

type TrainingSuggestion struct {
	SuggestTraining   bool   `json:"suggest_training"`
	TrainingTestID    *int64 `json:"training_test_id,omitempty"`
	TrainingTestTitle string `json:"training_test_title,omitempty"`
}

type SubmitResult struct {
	ResultID      *int64             `json:"result_id,omitempty"`
	Score         int                `json:"score"`
	Passed        bool               `json:"passed"`
	MaxScore      int                `json:"max_score"`
	PassingScore  *int               `json:"passing_score,omitempty"`
	CorrectCount  int                `json:"correct_count"`
	QuestionCount int                `json:"question_count"`
	Feedback      []QuestionFeedback `json:"feedback,omitempty"`
	TrainingSuggestion
}

type StudentTest struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	TimeLimit    *int       `json:"time_limit,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	PassingScore *int       `json:"passing_score,omitempty"`
	IsTraining   bool       `json:"is_training"`
	IsRandom     bool       `json:"is_random"`
}

// StudentTestView is what a learner gets when opening a test: either the
// closed result, a pointer to the open attempt, or a fresh question set.
type StudentTestView struct {
	Test             StudentTest         `json:"test"`
	AlreadyCompleted bool                `json:"already_completed"`
	BestResult       *Attempt            `json:"best_result,omitempty"`
	Continue         bool                `json:"continue"`
	ResultID         *int64              `json:"result_id,omitempty"`
	Questions        []PresentedQuestion `json:"questions,omitempty"`
	TrainingSuggestion
}

func studentTest(t *Test) StudentTest {
	return StudentTest{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		TimeLimit:    t.TimeLimit,
		Deadline:     t.Deadline,
		PassingScore: t.PassingScore,
		IsTraining:   t.IsTraining,
		IsRandom:     t.IsRandom,
	}
}

const attemptColumns = `id, test_id, user_id, mark, time_taken, passed, training, started_at, finished_at`

func scanAttempt(row scanner) (*Attempt, error) {
	var (
		a        Attempt
		mark     sql.NullInt64
		finished sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TestID, &a.UserID, &mark, &a.TimeTaken, &a.Passed, &a.Training, &a.StartedAt, &finished); err != nil {
		return nil, err
	}
	if mark.Valid {
		v := int(mark.Int64)
		a.Mark = &v
	}
	if finished.Valid {
		v := finished.Time
		a.FinishedAt = &v
	}
	return &a, nil
}

// loadStudentTest loads a test the user may sit. Tests outside the user's
// groups are reported as missing.
func (s *Service) loadStudentTest(ctx context.Context, q db.Querier, testID, userID int64) (*Test, error) {
	t, err := s.loadTest(ctx, q, testID, false)
	if err != nil {
		return nil, err
	}
	ok, err := s.isMember(ctx, q, t.GroupID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTestNotFound
	}
	return t, nil
}

func (s *Service) bestClosedAttempt(ctx context.Context, q db.Querier, testID, userID int64) (*Attempt, error) {
	a, err := scanAttempt(q.QueryRowContext(ctx, `
		SELECT `+attemptColumns+` FROM test_results
		WHERE test_id = $1 AND user_id = $2 AND mark IS NOT NULL AND training = FALSE
		ORDER BY mark DESC, id DESC
		LIMIT 1
	`, testID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load closed attempt: %w", err)
	}
	return a, nil
}

func (s *Service) openAttempt(ctx context.Context, q db.Querier, testID, userID int64) (*Attempt, error) {
	a, err := scanAttempt(q.QueryRowContext(ctx, `
		SELECT `+attemptColumns+` FROM test_results
		WHERE test_id = $1 AND user_id = $2 AND mark IS NULL
	`, testID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load open attempt: %w", err)
	}
	return a, nil
}

func (s *Service) ResolveForStudent(ctx context.Context, testID, userID int64) (*StudentTestView, error) {
	t, err := s.loadStudentTest(ctx, s.db, testID, userID)
	if err != nil {
		return nil, err
	}
	view := &StudentTestView{Test: studentTest(t)}

	if !t.IsTraining {
		best, err := s.bestClosedAttempt(ctx, s.db, testID, userID)
		if err != nil {
			return nil, err
		}
		if best != nil {
			view.AlreadyCompleted = true
			view.BestResult = best
			if !best.Passed {
				view.TrainingSuggestion = s.suggestTraining(ctx, t)
			}
			return view, nil
		}
	}

	open, err := s.openAttempt(ctx, s.db, testID, userID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		view.Continue = true
		view.ResultID = &open.ID
	}

	ids, err := s.questionSet(ctx, s.db, t)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoQuestionsAvailable
	}
	byID, err := s.questions.Load(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	view.Questions = s.presentSet(ids, byID, t.IsRandom)
	return view, nil
}

// Start opens an attempt for (test, user), or returns the one already open.
func (s *Service) Start(ctx context.Context, testID, userID int64) (*Attempt, error) {
	var out *Attempt
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.loadStudentTest(ctx, tx, testID, userID)
		if err != nil {
			return err
		}
		if !t.IsTraining {
			closed, err := s.bestClosedAttempt(ctx, tx, testID, userID)
			if err != nil {
				return err
			}
			if closed != nil {
				return ErrAlreadyCompleted
			}
		}

		a, err := scanAttempt(tx.QueryRowContext(ctx, `
			INSERT INTO test_results (test_id, user_id, time_taken, passed, training, started_at)
			VALUES ($1, $2, 0, FALSE, $3, $4)
			ON CONFLICT (test_id, user_id) WHERE mark IS NULL DO NOTHING
			RETURNING `+attemptColumns, testID, userID, t.IsTraining, s.now()))
		if err == nil {
			out = a
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("open attempt: %w", err)
		}

		existing, err := s.openAttempt(ctx, tx, testID, userID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("open attempt: conflicting attempt vanished")
		}
		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type gradedAnswer struct {
	question *question.Question
	raw      json.RawMessage
	result   grading.Result
}

// gradeAll scores every question in ids. Unanswered questions score zero and
// answers to questions outside ids are ignored.
func (s *Service) gradeAll(ids []int64, byID map[int64]*question.Question, answers []AnswerInput) []gradedAnswer {
	submitted := make(map[int64]json.RawMessage, len(answers))
	for _, a := range answers {
		submitted[a.QuestionID] = a.Answer
	}

	out := make([]gradedAnswer, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			continue
		}
		raw := submitted[id]
		res := grading.Grade(q.Answer, raw)
		s.metrics.AnswerGraded(q.Kind, res.Reason)
		out = append(out, gradedAnswer{question: q, raw: raw, result: res})
	}
	return out
}

func summarize(graded []gradedAnswer, questionCount int, passingScore *int) (pct int, passed bool, correct int) {
	scores := make([]float64, 0, len(graded))
	for _, g := range graded {
		scores = append(scores, g.result.Score)
		if g.result.IsCorrect {
			correct++
		}
	}
	pct = grading.Percentage(scores, questionCount)
	return pct, grading.Passed(pct, passingScore), correct
}

func storedAnswer(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func insertAnswers(ctx context.Context, tx *sql.Tx, resultID int64, graded []gradedAnswer) error {
	for _, g := range graded {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_answers (result_id, question_id, answer_data, is_correct, score)
			VALUES ($1, $2, $3, $4, $5)
		`, resultID, g.question.ID, storedAnswer(g.raw), g.result.IsCorrect, g.result.Score); err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
	}
	return nil
}

// Submit grades an open attempt and closes it together with its answer
// records. A second submit of the same attempt fails with ErrAlreadyClosed.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (res *SubmitResult, err error) {
	ctx, span := s.tracer.Start(ctx, "exam.Submit")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("attempt.id", in.AttemptID))

	if in.TimeTaken < 0 {
		return nil, fmt.Errorf("%w: time_taken must not be negative", ErrInvalidInput)
	}

	var t *Test
	res = &SubmitResult{MaxScore: 100}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		a, err := scanAttempt(tx.QueryRowContext(ctx, `
			SELECT `+attemptColumns+` FROM test_results WHERE id = $1`+s.driver.ForUpdate(), in.AttemptID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAttemptNotFound
		}
		if err != nil {
			return fmt.Errorf("load attempt: %w", err)
		}
		if a.UserID != in.UserID {
			return ErrAttemptNotFound
		}
		if a.Mark != nil {
			return ErrAlreadyClosed
		}

		t, err = s.loadTest(ctx, tx, a.TestID, false)
		if err != nil {
			return err
		}
		if t.Deadline != nil && s.now().After(*t.Deadline) {
			return ErrDeadlinePassed
		}

		ids, err := s.questionSet(ctx, tx, t)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return ErrNoQuestionsAvailable
		}
		byID, err := s.questions.Load(ctx, tx, ids)
		if err != nil {
			return err
		}

		graded := s.gradeAll(ids, byID, in.Answers)
		passing := t.PassingScore
		if a.Training && passing == nil {
			v := s.cfg.TrainingPassingScore
			passing = &v
		}
		pct, passed, correct := summarize(graded, len(ids), passing)

		if err := insertAnswers(ctx, tx, a.ID, graded); err != nil {
			return err
		}
		closed, err := tx.ExecContext(ctx, `
			UPDATE test_results
			SET mark = $2, time_taken = $3, passed = $4, finished_at = $5
			WHERE id = $1 AND mark IS NULL
		`, a.ID, pct, in.TimeTaken, passed, s.now())
		if db.IsUniqueViolation(err, "ux_test_results_closed") {
			return ErrAlreadyCompleted
		}
		if err != nil {
			return fmt.Errorf("close attempt: %w", err)
		}
		if n, err := closed.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrAlreadyClosed
		}

		res.ResultID = &a.ID
		res.Score = pct
		res.Passed = passed
		res.PassingScore = passing
		res.CorrectCount = correct
		res.QuestionCount = len(ids)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AttemptSubmitted(t.IsTraining, res.Passed)
	s.log.Info("attempt submitted",
		zap.Int64("attempt_id", in.AttemptID),
		zap.Int64("test_id", t.ID),
		zap.Int64("user_id", in.UserID),
		zap.Int("mark", res.Score),
		zap.Bool("passed", res.Passed),
	)
	if !res.Passed && !t.IsTraining {
		res.TrainingSuggestion = s.suggestTraining(ctx, t)
	}
	return res, nil
}
