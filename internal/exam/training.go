package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"testlms/internal/db"
	"testlms/internal/grading"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type TrainingTestView struct {
	Test      StudentTest         `json:"test"`
	Questions []PresentedQuestion `json:"questions"`
}

// topicSetSQL selects the topics a test covers: its recipe topic and the
// topics of its linked questions. %s is the test id expression.
const topicSetSQL = `
	SELECT g.topic_id FROM test_generations g WHERE g.test_id = %[1]s
	UNION
	SELECT q.topic_id FROM test_questions tq JOIN questions q ON q.id = tq.question_id WHERE tq.test_id = %[1]s`

// suggestTraining finds a training test in the same group that shares a topic
// with t. Lookup failures are logged and yield no suggestion.
func (s *Service) suggestTraining(ctx context.Context, t *Test) TrainingSuggestion {
	query := `
		SELECT t.id, t.title FROM tests t
		WHERE t.group_id = $1 AND t.is_training = TRUE AND t.id <> $2
		AND EXISTS (
			SELECT 1 FROM (` + fmt.Sprintf(topicSetSQL, "t.id") + `) cand
			WHERE cand.topic_id IN (` + fmt.Sprintf(topicSetSQL, "$2") + `)
		)
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT 1`

	var (
		id    int64
		title string
	)
	err := s.db.QueryRowContext(ctx, query, t.GroupID, t.ID).Scan(&id, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return TrainingSuggestion{}
	}
	if err != nil {
		s.log.Warn("training suggestion lookup failed", zap.Int64("test_id", t.ID), zap.Error(err))
		return TrainingSuggestion{}
	}
	return TrainingSuggestion{SuggestTraining: true, TrainingTestID: &id, TrainingTestTitle: title}
}

// ListTrainingTests returns the training tests of every group the user
// belongs to, newest first.
func (s *Service) ListTrainingTests(ctx context.Context, userID int64) ([]Test, error) {
	var groups int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_members WHERE user_id = $1`, userID).Scan(&groups); err != nil {
		return nil, fmt.Errorf("count groups: %w", err)
	}
	if groups == 0 {
		return nil, ErrNotInGroup
	}
	return s.queryTests(ctx, s.db, `
		SELECT `+testColumns+` FROM tests
		WHERE is_training = TRUE
		AND group_id IN (SELECT group_id FROM group_members WHERE user_id = $1)
		ORDER BY created_at DESC, id DESC
	`, userID)
}

func (s *Service) loadTrainingTest(ctx context.Context, q db.Querier, testID, userID int64) (*Test, error) {
	t, err := s.loadStudentTest(ctx, q, testID, userID)
	if err != nil {
		return nil, err
	}
	if !t.IsTraining {
		return nil, ErrTestNotFound
	}
	return t, nil
}

func (s *Service) GetTrainingTest(ctx context.Context, testID, userID int64) (*TrainingTestView, error) {
	t, err := s.loadTrainingTest(ctx, s.db, testID, userID)
	if err != nil {
		return nil, err
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
	return &TrainingTestView{Test: studentTest(t), Questions: s.presentSet(ids, byID, t.IsRandom)}, nil
}

// SubmitTraining grades answers for a training test against the keyed
// questions. It never consults earlier attempts; when persistence is enabled
// the graded attempt is stored already closed.
func (s *Service) SubmitTraining(ctx context.Context, testID, userID int64, answers []AnswerInput, timeTaken int) (res *SubmitResult, err error) {
	ctx, span := s.tracer.Start(ctx, "exam.SubmitTraining")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("test.id", testID))

	if timeTaken < 0 {
		return nil, fmt.Errorf("%w: time_taken must not be negative", ErrInvalidInput)
	}

	grade := func(q db.Querier) (*Test, []gradedAnswer, error) {
		t, err := s.loadTrainingTest(ctx, q, testID, userID)
		if err != nil {
			return nil, nil, err
		}
		ids, err := s.questionSet(ctx, q, t)
		if err != nil {
			return nil, nil, err
		}
		if len(ids) == 0 {
			return nil, nil, ErrNoQuestionsAvailable
		}
		byID, err := s.questions.Load(ctx, q, ids)
		if err != nil {
			return nil, nil, err
		}
		return t, s.gradeAll(ids, byID, answers), nil
	}

	res = &SubmitResult{MaxScore: 100}
	finish := func(t *Test, graded []gradedAnswer) {
		passing := t.PassingScore
		if passing == nil {
			v := s.cfg.TrainingPassingScore
			passing = &v
		}
		res.Score, res.Passed, res.CorrectCount = summarize(graded, len(graded), passing)
		res.PassingScore = passing
		res.QuestionCount = len(graded)
		res.Feedback = feedback(graded)
	}

	if !s.cfg.PersistTrainingAttempts {
		t, graded, err := grade(s.db)
		if err != nil {
			return nil, err
		}
		finish(t, graded)
		s.metrics.AttemptSubmitted(true, res.Passed)
		return res, nil
	}

	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, graded, err := grade(tx)
		if err != nil {
			return err
		}
		finish(t, graded)

		now := s.now()
		var resultID int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO test_results (test_id, user_id, mark, time_taken, passed, training, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
			RETURNING id
		`, t.ID, userID, res.Score, timeTaken, res.Passed, now).Scan(&resultID); err != nil {
			return fmt.Errorf("insert training attempt: %w", err)
		}
		if err := insertAnswers(ctx, tx, resultID, graded); err != nil {
			return err
		}
		res.ResultID = &resultID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AttemptSubmitted(true, res.Passed)
	s.log.Info("training submitted",
		zap.Int64("test_id", testID),
		zap.Int64("user_id", userID),
		zap.Int("mark", res.Score),
	)
	return res, nil
}

func feedback(graded []gradedAnswer) []QuestionFeedback {
	out := make([]QuestionFeedback, 0, len(graded))
	for _, g := range graded {
		out = append(out, QuestionFeedback{
			QuestionID:    g.question.ID,
			QuestionText:  g.question.Text,
			UserAnswer:    []byte(storedAnswer(g.raw)),
			CorrectAnswer: grading.Key(g.question.Answer),
			IsCorrect:     g.result.IsCorrect,
			Score:         g.result.Score,
		})
	}
	return out
}
