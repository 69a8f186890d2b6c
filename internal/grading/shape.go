package grading

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidShape = errors.New("invalid answer shape")

type Kind string

const (
	KindSingle   Kind = "single"
	KindMultiple Kind = "multiple"
	KindMatching Kind = "matching"
	KindOpen     Kind = "open"
)

func ParseKind(v string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(v))); k {
	case KindSingle, KindMultiple, KindMatching, KindOpen:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown shape %q", ErrInvalidShape, v)
	}
}

// AnswerShape is the keyed answer of a question. Exactly one of Options,
// Matching and Open implements it.
type AnswerShape interface {
	Kind() Kind
	isShape()
}

type Option struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type Options struct {
	Items []Option `json:"items"`
	Multi bool     `json:"multi"`
}

func (o Options) Kind() Kind {
	if o.Multi {
		return KindMultiple
	}
	return KindSingle
}

func (Options) isShape() {}

func (o Options) correctIDs() []int64 {
	out := make([]int64, 0, len(o.Items))
	for _, it := range o.Items {
		if it.IsCorrect {
			out = append(out, it.ID)
		}
	}
	return out
}

type Pair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type Matching struct {
	Pairs []Pair `json:"pairs"`
}

func (Matching) Kind() Kind { return KindMatching }
func (Matching) isShape()   {}

type Open struct {
	Keywords []string `json:"keywords"`
}

func (Open) Kind() Kind { return KindOpen }
func (Open) isShape()   {}

// ParseKeywords splits a comma-delimited keyword list, dropping blanks.
func ParseKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinKeywords is the storage form of ParseKeywords.
func JoinKeywords(keywords []string) string {
	return strings.Join(ParseKeywords(strings.Join(keywords, ",")), ", ")
}

// ValidateShape enforces the authoring rules for a keyed answer.
func ValidateShape(shape AnswerShape) error {
	switch s := shape.(type) {
	case Options:
		return validateOptions(s)
	case Matching:
		return validateMatching(s)
	case Open:
		if len(ParseKeywords(strings.Join(s.Keywords, ","))) == 0 {
			return fmt.Errorf("%w: open answer needs at least one keyword", ErrInvalidShape)
		}
		return nil
	case nil:
		return fmt.Errorf("%w: question has no answer", ErrInvalidShape)
	default:
		return fmt.Errorf("%w: unsupported shape %T", ErrInvalidShape, shape)
	}
}

func validateOptions(o Options) error {
	if len(o.Items) < 2 {
		return fmt.Errorf("%w: at least two options are required", ErrInvalidShape)
	}
	correct := 0
	for i, it := range o.Items {
		if strings.TrimSpace(it.Text) == "" {
			return fmt.Errorf("%w: option %d is empty", ErrInvalidShape, i+1)
		}
		if it.IsCorrect {
			correct++
		}
	}
	if correct == 0 {
		return fmt.Errorf("%w: no correct option", ErrInvalidShape)
	}
	if !o.Multi && correct != 1 {
		return fmt.Errorf("%w: single choice needs exactly one correct option, got %d", ErrInvalidShape, correct)
	}
	return nil
}

func validateMatching(m Matching) error {
	if len(m.Pairs) == 0 {
		return fmt.Errorf("%w: at least one pair is required", ErrInvalidShape)
	}
	seen := make(map[string]struct{}, len(m.Pairs))
	for i, p := range m.Pairs {
		left := strings.TrimSpace(p.Left)
		if left == "" || strings.TrimSpace(p.Right) == "" {
			return fmt.Errorf("%w: pair %d has an empty side", ErrInvalidShape, i+1)
		}
		if _, dup := seen[left]; dup {
			return fmt.Errorf("%w: duplicate left side %q", ErrInvalidShape, left)
		}
		seen[left] = struct{}{}
	}
	return nil
}

// Key returns the correct answer in the same form a learner submits it.
func Key(shape AnswerShape) interface{} {
	switch s := shape.(type) {
	case Options:
		ids := s.correctIDs()
		if !s.Multi && len(ids) == 1 {
			return ids[0]
		}
		return ids
	case Matching:
		return s.Pairs
	case Open:
		return s.Keywords
	default:
		return nil
	}
}
