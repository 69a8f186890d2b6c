package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"testlms/internal/db"
	"testlms/internal/grading"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
	ErrTopicNotFound    = errors.New("topic not found")
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

func ParseDifficulty(v string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(v))); d {
	case Easy, Medium, Hard:
		return d, nil
	default:
		return "", fmt.Errorf("%w: difficulty must be easy, medium or hard", ErrInvalidInput)
	}
}

type Question struct {
	ID         int64               `json:"id"`
	Text       string              `json:"text"`
	Difficulty Difficulty          `json:"difficulty"`
	IsOpen     bool                `json:"is_open"`
	TopicID    int64               `json:"id_topic"`
	CreatorID  int64               `json:"id_creator"`
	Kind       grading.Kind        `json:"shape"`
	Answer     grading.AnswerShape `json:"answer,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

type OptionInput struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type CreateInput struct {
	Text       string
	Difficulty string
	IsOpen     bool
	TopicID    int64
	CreatorID  int64
	Kind       string
	Options    []OptionInput
	Pairs      []grading.Pair
	Keywords   string
}

type Filter struct {
	TopicID    int64
	Difficulty Difficulty
	IsOpen     *bool
}

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(conn *sql.DB) *Service {
	return &Service{db: conn, now: time.Now}
}

type draft struct {
	text       string
	difficulty Difficulty
	isOpen     bool
	topicID    int64
	creatorID  int64
	shape      grading.AnswerShape
}

func buildDraft(in CreateInput) (*draft, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: question text is required", ErrInvalidInput)
	}
	if in.TopicID <= 0 {
		return nil, fmt.Errorf("%w: id_topic is required", ErrInvalidInput)
	}
	if in.CreatorID <= 0 {
		return nil, fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}
	difficulty, err := ParseDifficulty(in.Difficulty)
	if err != nil {
		return nil, err
	}
	kind, err := grading.ParseKind(in.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var shape grading.AnswerShape
	switch kind {
	case grading.KindSingle, grading.KindMultiple:
		items := make([]grading.Option, 0, len(in.Options))
		for _, o := range in.Options {
			items = append(items, grading.Option{Text: strings.TrimSpace(o.Text), IsCorrect: o.IsCorrect})
		}
		shape = grading.Options{Items: items, Multi: kind == grading.KindMultiple}
	case grading.KindMatching:
		pairs := make([]grading.Pair, 0, len(in.Pairs))
		for _, p := range in.Pairs {
			pairs = append(pairs, grading.Pair{Left: strings.TrimSpace(p.Left), Right: strings.TrimSpace(p.Right)})
		}
		shape = grading.Matching{Pairs: pairs}
	case grading.KindOpen:
		shape = grading.Open{Keywords: grading.ParseKeywords(in.Keywords)}
	}
	if err := grading.ValidateShape(shape); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return &draft{
		text:       text,
		difficulty: difficulty,
		isOpen:     in.IsOpen,
		topicID:    in.TopicID,
		creatorID:  in.CreatorID,
		shape:      shape,
	}, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Question, error) {
	d, err := buildDraft(in)
	if err != nil {
		return nil, err
	}

	var id int64
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		id, err = s.insert(ctx, tx, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// CreateBatch validates every input before writing any of them, then inserts
// the whole batch in one transaction.
func (s *Service) CreateBatch(ctx context.Context, in []CreateInput) (int, error) {
	if len(in) == 0 {
		return 0, fmt.Errorf("%w: no questions to import", ErrInvalidInput)
	}
	drafts := make([]*draft, 0, len(in))
	for i, item := range in {
		d, err := buildDraft(item)
		if err != nil {
			return 0, fmt.Errorf("question %d: %w", i+1, err)
		}
		drafts = append(drafts, d)
	}

	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for i, d := range drafts {
			if _, err := s.insert(ctx, tx, d); err != nil {
				return fmt.Errorf("question %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(drafts), nil
}

func (s *Service) insert(ctx context.Context, tx *sql.Tx, d *draft) (int64, error) {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM topics WHERE id = $1`, d.topicID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrTopicNotFound
	}
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO questions (text, difficulty, is_open, topic_id, creator_id, shape, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, d.text, string(d.difficulty), d.isOpen, d.topicID, d.creatorID, string(d.shape.Kind()), s.now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}

	switch shape := d.shape.(type) {
	case grading.Options:
		for i, o := range shape.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO answer_options (question_id, position, answer_text, is_correct)
				VALUES ($1, $2, $3, $4)
			`, id, i, o.Text, o.IsCorrect); err != nil {
				return 0, fmt.Errorf("insert option: %w", err)
			}
		}
	case grading.Matching:
		for i, p := range shape.Pairs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO matching_pairs (question_id, position, left_text, right_text)
				VALUES ($1, $2, $3, $4)
			`, id, i, p.Left, p.Right); err != nil {
				return 0, fmt.Errorf("insert pair: %w", err)
			}
		}
	case grading.Open:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO open_answers (question_id, keywords) VALUES ($1, $2)
		`, id, grading.JoinKeywords(shape.Keywords)); err != nil {
			return 0, fmt.Errorf("insert keywords: %w", err)
		}
	}
	return id, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Question, error) {
	items, err := s.Load(ctx, s.db, []int64{id})
	if err != nil {
		return nil, err
	}
	q, ok := items[id]
	if !ok {
		return nil, ErrQuestionNotFound
	}
	return q, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Question, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.TopicID > 0 {
		args = append(args, f.TopicID)
		where = append(where, fmt.Sprintf("topic_id = $%d", len(args)))
	}
	if f.Difficulty != "" {
		args = append(args, string(f.Difficulty))
		where = append(where, fmt.Sprintf("difficulty = $%d", len(args)))
	}
	if f.IsOpen != nil {
		args = append(args, *f.IsOpen)
		where = append(where, fmt.Sprintf("is_open = $%d", len(args)))
	}
	query := `SELECT id FROM questions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	ids, err := queryIDs(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	byID, err := s.Load(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

// MatchingIDs returns the pool of questions for a generation recipe.
func (s *Service) MatchingIDs(ctx context.Context, q db.Querier, topicID int64, difficulty Difficulty, isOpen bool) ([]int64, error) {
	return queryIDs(ctx, q, `
		SELECT id FROM questions
		WHERE topic_id = $1 AND difficulty = $2 AND is_open = $3
		ORDER BY id
	`, topicID, string(difficulty), isOpen)
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
