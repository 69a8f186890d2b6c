package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"testlms/internal/db"
	"testlms/internal/question"
)

const (
	CheckAuto   = "auto"
	CheckManual = "manual"

	SourceManual    = "manual"
	SourceGenerated = "generated"
)

type GenerationRecipe struct {
	TopicID    int64               `json:"id_topic"`
	Difficulty question.Difficulty `json:"difficulty"`
	Count      int                 `json:"question_count"`
	IsOpen     bool                `json:"is_training"`
}

type Test struct {
	ID           int64             `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	TimeLimit    *int              `json:"time_limit,omitempty"`
	Deadline     *time.Time        `json:"deadline,omitempty"`
	CheckType    string            `json:"check_type"`
	IsRandom     bool              `json:"is_random"`
	Source       string            `json:"source"`
	PassingScore *int              `json:"passing_score,omitempty"`
	IsTraining   bool              `json:"is_training"`
	GroupID      int64             `json:"id_group"`
	CreatorID    int64             `json:"id_creator"`
	CreatedAt    time.Time         `json:"created_at"`
	Generation   *GenerationRecipe `json:"generation,omitempty"`
	QuestionIDs  []int64           `json:"question_ids,omitempty"`
}

type CreateTestInput struct {
	Title        string
	Description  string
	TimeLimit    *int
	Deadline     *time.Time
	CheckType    string
	IsRandom     bool
	PassingScore *int
	IsTraining   bool
	GroupID      int64
	CreatorID    int64
}

func (s *Service) CreateTest(ctx context.Context, in CreateTestInput) (*Test, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	checkType := strings.ToLower(strings.TrimSpace(in.CheckType))
	if checkType == "" {
		checkType = CheckAuto
	}
	if checkType != CheckAuto && checkType != CheckManual {
		return nil, fmt.Errorf("%w: check_type must be auto or manual", ErrInvalidInput)
	}
	if in.GroupID <= 0 {
		return nil, fmt.Errorf("%w: id_group is required", ErrInvalidInput)
	}
	if in.CreatorID <= 0 {
		return nil, fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}
	if in.TimeLimit != nil && *in.TimeLimit <= 0 {
		return nil, fmt.Errorf("%w: time_limit must be positive", ErrInvalidInput)
	}
	if in.PassingScore != nil && (*in.PassingScore < 0 || *in.PassingScore > 100) {
		return nil, fmt.Errorf("%w: passing_score must be between 0 and 100", ErrInvalidInput)
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE id = $1`, in.GroupID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check group: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tests (
			title, description, time_limit, deadline, check_type, is_random,
			source, passing_score, creator_id, group_id, is_training, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, title, strings.TrimSpace(in.Description), nullIntPtr(in.TimeLimit), nullTimePtr(in.Deadline), checkType, in.IsRandom,
		SourceManual, nullIntPtr(in.PassingScore), in.CreatorID, in.GroupID, in.IsTraining, s.now()).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert test: %w", err)
	}
	return s.GetTest(ctx, id)
}

func (s *Service) GetTest(ctx context.Context, id int64) (*Test, error) {
	t, err := s.loadTest(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	ids, err := queryIDs(ctx, s.db, `
		SELECT question_id FROM test_questions WHERE test_id = $1 ORDER BY position, question_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load test questions: %w", err)
	}
	t.QuestionIDs = ids
	return t, nil
}

func (s *Service) ListGroupTests(ctx context.Context, groupID int64, training *bool) ([]Test, error) {
	query := `SELECT ` + testColumns + ` FROM tests WHERE group_id = $1`
	args := []interface{}{groupID}
	if training != nil {
		query += ` AND is_training = $2`
		args = append(args, *training)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	return s.queryTests(ctx, s.db, query, args...)
}

func (s *Service) DeleteTest(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTestNotFound
	}
	return nil
}

// AddQuestion appends a question to a manual test. The question must come from
// the pool that matches the test's training flag.
func (s *Service) AddQuestion(ctx context.Context, testID, questionID int64) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.loadTest(ctx, tx, testID, true)
		if err != nil {
			return err
		}
		if t.Source == SourceGenerated {
			return fmt.Errorf("%w: generated tests are managed by their recipe", ErrInvalidInput)
		}

		items, err := s.questions.Load(ctx, tx, []int64{questionID})
		if err != nil {
			return err
		}
		q, ok := items[questionID]
		if !ok {
			return question.ErrQuestionNotFound
		}
		if q.IsOpen != t.IsTraining {
			return fmt.Errorf("%w: question pool does not match the test's training flag", ErrInvalidInput)
		}

		var next int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), -1) + 1 FROM test_questions WHERE test_id = $1
		`, testID).Scan(&next); err != nil {
			return fmt.Errorf("next position: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO test_questions (test_id, question_id, position) VALUES ($1, $2, $3)
		`, testID, questionID, next)
		if db.IsUniqueViolation(err, "") {
			return ErrQuestionAlreadyInTest
		}
		if err != nil {
			return fmt.Errorf("link question: %w", err)
		}
		return nil
	})
}

func (s *Service) RemoveQuestion(ctx context.Context, testID, questionID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM test_questions WHERE test_id = $1 AND question_id = $2`, testID, questionID)
	if err != nil {
		return fmt.Errorf("unlink question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrQuestionNotInTest
	}
	return nil
}

const testColumns = `id, title, description, time_limit, deadline, check_type, is_random, source,
	passing_score, is_training, group_id, creator_id, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTest(row scanner) (*Test, error) {
	var (
		t            Test
		timeLimit    sql.NullInt64
		deadline     sql.NullTime
		passingScore sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &timeLimit, &deadline, &t.CheckType, &t.IsRandom, &t.Source,
		&passingScore, &t.IsTraining, &t.GroupID, &t.CreatorID, &t.CreatedAt); err != nil {
		return nil, err
	}
	if timeLimit.Valid {
		v := int(timeLimit.Int64)
		t.TimeLimit = &v
	}
	if deadline.Valid {
		v := deadline.Time
		t.Deadline = &v
	}
	if passingScore.Valid {
		v := int(passingScore.Int64)
		t.PassingScore = &v
	}
	return &t, nil
}

// loadTest reads a test and its recipe. With lock set the test row is held
// until the surrounding transaction ends.
func (s *Service) loadTest(ctx context.Context, q db.Querier, id int64, lock bool) (*Test, error) {
	query := `SELECT ` + testColumns + ` FROM tests WHERE id = $1`
	if lock {
		query += s.driver.ForUpdate()
	}
	t, err := scanTest(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load test: %w", err)
	}

	var (
		recipe     GenerationRecipe
		difficulty string
	)
	err = q.QueryRowContext(ctx, `
		SELECT topic_id, difficulty, question_count, is_open FROM test_generations WHERE test_id = $1
	`, id).Scan(&recipe.TopicID, &difficulty, &recipe.Count, &recipe.IsOpen)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load recipe: %w", err)
	default:
		recipe.Difficulty = question.Difficulty(difficulty)
		t.Generation = &recipe
	}
	return t, nil
}

func (s *Service) queryTests(ctx context.Context, q db.Querier, query string, args ...interface{}) ([]Test, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	out := make([]Test, 0)
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// questionSet resolves the questions a learner sees: the test's links from the
// pool matching its training flag, narrowed to the recipe for generated tests.
func (s *Service) questionSet(ctx context.Context, q db.Querier, t *Test) ([]int64, error) {
	query := `
		SELECT tq.question_id
		FROM test_questions tq
		JOIN questions q ON q.id = tq.question_id
		WHERE tq.test_id = $1 AND q.is_open = $2`
	args := []interface{}{t.ID, t.IsTraining}
	if t.Source == SourceGenerated && t.Generation != nil {
		query += ` AND q.topic_id = $3 AND q.difficulty = $4`
		args = append(args, t.Generation.TopicID, string(t.Generation.Difficulty))
	}
	query += ` ORDER BY tq.position, tq.question_id`

	ids, err := queryIDs(ctx, q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve question set: %w", err)
	}
	return ids, nil
}

func (s *Service) isMember(ctx context.Context, q db.Querier, groupID, userID int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2
	`, groupID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

func queryIDs(ctx context.Context, q db.Querier, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
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

func nullIntPtr(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTimePtr(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
