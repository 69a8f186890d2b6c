package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"testlms/internal/db"
	"testlms/internal/question"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type GenerationResult struct {
	TestID         int64            `json:"test_id"`
	Generation     GenerationRecipe `json:"generation"`
	QuestionsAdded int              `json:"questions_added"`
	QuestionIDs    []int64          `json:"question_ids"`
}

func validateRecipe(r GenerationRecipe) (GenerationRecipe, error) {
	if r.TopicID <= 0 {
		return r, fmt.Errorf("%w: id_topic is required", ErrInvalidInput)
	}
	if r.Count <= 0 {
		return r, fmt.Errorf("%w: question_count must be positive", ErrInvalidInput)
	}
	d, err := question.ParseDifficulty(string(r.Difficulty))
	if err != nil {
		return r, fmt.Errorf("%w: difficulty must be easy, medium or hard", ErrInvalidInput)
	}
	r.Difficulty = d
	return r, nil
}

// Generate samples recipe.Count questions uniformly from the matching pool and
// makes them the test's question set, replacing any earlier selection. Nothing
// is written when the pool is too small or the test already has attempts.
func (s *Service) Generate(ctx context.Context, testID int64, recipe GenerationRecipe) (res *GenerationResult, err error) {
	ctx, span := s.tracer.Start(ctx, "exam.Generate")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("test.id", testID), attribute.Int("recipe.count", recipe.Count))

	recipe, err = validateRecipe(recipe)
	if err != nil {
		s.metrics.TestGenerated("invalid")
		return nil, err
	}

	var selected []int64
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := s.loadTest(ctx, tx, testID, true); err != nil {
			return err
		}
		var attempts int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_results WHERE test_id = $1`, testID).Scan(&attempts); err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if attempts > 0 {
			return ErrTestHasAttempts
		}

		pool, err := s.questions.MatchingIDs(ctx, tx, recipe.TopicID, recipe.Difficulty, recipe.IsOpen)
		if err != nil {
			return fmt.Errorf("load pool: %w", err)
		}
		if len(pool) < recipe.Count {
			return &InsufficientQuestionsError{Found: len(pool), Required: recipe.Count}
		}

		s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		selected = pool[:recipe.Count]

		if _, err := tx.ExecContext(ctx, `DELETE FROM test_questions WHERE test_id = $1`, testID); err != nil {
			return fmt.Errorf("clear links: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM test_generations WHERE test_id = $1`, testID); err != nil {
			return fmt.Errorf("clear recipe: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO test_generations (test_id, topic_id, difficulty, question_count, is_open, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, testID, recipe.TopicID, string(recipe.Difficulty), recipe.Count, recipe.IsOpen, s.now()); err != nil {
			return fmt.Errorf("insert recipe: %w", err)
		}
		for pos, qid := range selected {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO test_questions (test_id, question_id, position) VALUES ($1, $2, $3)
			`, testID, qid, pos); err != nil {
				return fmt.Errorf("link question: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tests SET source = $2, is_training = $3 WHERE id = $1
		`, testID, SourceGenerated, recipe.IsOpen); err != nil {
			return fmt.Errorf("mark generated: %w", err)
		}
		return nil
	})

	var short *InsufficientQuestionsError
	switch {
	case errors.As(err, &short):
		s.metrics.TestGenerated("insufficient")
		return nil, err
	case errors.Is(err, ErrTestHasAttempts):
		s.metrics.TestGenerated("invalid")
		return nil, err
	case err != nil:
		s.metrics.TestGenerated("error")
		return nil, err
	}

	s.metrics.TestGenerated("ok")
	s.log.Info("test generated",
		zap.Int64("test_id", testID),
		zap.Int64("topic_id", recipe.TopicID),
		zap.String("difficulty", string(recipe.Difficulty)),
		zap.Int("count", recipe.Count),
		zap.Bool("training", recipe.IsOpen),
	)
	return &GenerationResult{
		TestID:         testID,
		Generation:     recipe,
		QuestionsAdded: len(selected),
		QuestionIDs:    selected,
	}, nil
}
