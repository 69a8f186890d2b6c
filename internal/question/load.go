package question

import (
	"context"
	"fmt"

	"testlms/internal/db"
	"testlms/internal/grading"
)

// Load reads the keyed questions with the given ids. Missing ids are absent
// from the result. q may be a transaction.
func (s *Service) Load(ctx context.Context, q db.Querier, ids []int64) (map[int64]*Question, error) {
	out := make(map[int64]*Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	in := db.Placeholders(1, len(ids))

	rows, err := q.QueryContext(ctx, `
		SELECT id, text, difficulty, is_open, topic_id, creator_id, shape, created_at
		FROM questions WHERE id IN (`+in+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	for rows.Next() {
		var (
			item       Question
			difficulty string
			kind       string
		)
		if err := rows.Scan(&item.ID, &item.Text, &difficulty, &item.IsOpen, &item.TopicID, &item.CreatorID, &kind, &item.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		item.Difficulty = Difficulty(difficulty)
		item.Kind = grading.Kind(kind)
		switch item.Kind {
		case grading.KindSingle, grading.KindMultiple:
			item.Answer = grading.Options{Multi: item.Kind == grading.KindMultiple}
		case grading.KindMatching:
			item.Answer = grading.Matching{}
		case grading.KindOpen:
			item.Answer = grading.Open{}
		}
		out[item.ID] = &item
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := loadOptions(ctx, q, in, args, out); err != nil {
		return nil, err
	}
	if err := loadPairs(ctx, q, in, args, out); err != nil {
		return nil, err
	}
	if err := loadKeywords(ctx, q, in, args, out); err != nil {
		return nil, err
	}
	return out, nil
}

func loadOptions(ctx context.Context, q db.Querier, in string, args []interface{}, out map[int64]*Question) error {
	rows, err := q.QueryContext(ctx, `
		SELECT question_id, id, answer_text, is_correct
		FROM answer_options WHERE question_id IN (`+in+`)
		ORDER BY question_id, position
	`, args...)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			questionID int64
			opt        grading.Option
		)
		if err := rows.Scan(&questionID, &opt.ID, &opt.Text, &opt.IsCorrect); err != nil {
			return err
		}
		item, ok := out[questionID]
		if !ok {
			continue
		}
		shape, ok := item.Answer.(grading.Options)
		if !ok {
			continue
		}
		shape.Items = append(shape.Items, opt)
		item.Answer = shape
	}
	return rows.Err()
}

func loadPairs(ctx context.Context, q db.Querier, in string, args []interface{}, out map[int64]*Question) error {
	rows, err := q.QueryContext(ctx, `
		SELECT question_id, left_text, right_text
		FROM matching_pairs WHERE question_id IN (`+in+`)
		ORDER BY question_id, position
	`, args...)
	if err != nil {
		return fmt.Errorf("load pairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			questionID int64
			pair       grading.Pair
		)
		if err := rows.Scan(&questionID, &pair.Left, &pair.Right); err != nil {
			return err
		}
		item, ok := out[questionID]
		if !ok {
			continue
		}
		shape, ok := item.Answer.(grading.Matching)
		if !ok {
			continue
		}
		shape.Pairs = append(shape.Pairs, pair)
		item.Answer = shape
	}
	return rows.Err()
}

func loadKeywords(ctx context.Context, q db.Querier, in string, args []interface{}, out map[int64]*Question) error {
	rows, err := q.QueryContext(ctx, `
		SELECT question_id, keywords FROM open_answers WHERE question_id IN (`+in+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("load keywords: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			questionID int64
			raw        string
		)
		if err := rows.Scan(&questionID, &raw); err != nil {
			return err
		}
		if item, ok := out[questionID]; ok && item.Kind == grading.KindOpen {
			item.Answer = grading.Open{Keywords: grading.ParseKeywords(raw)}
		}
	}
	return rows.Err()
}
