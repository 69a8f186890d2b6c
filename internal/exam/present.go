package exam

import (
	"testlms/internal/grading"
	"testlms/internal/question"
)

type PresentedOption struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// PresentedQuestion is a question as a learner sees it, without its key.
type PresentedQuestion struct {
	ID           int64               `json:"id"`
	Text         string              `json:"text"`
	Shape        grading.Kind        `json:"shape"`
	Difficulty   question.Difficulty `json:"difficulty"`
	Options      []PresentedOption   `json:"options,omitempty"`
	Left         []string            `json:"left,omitempty"`
	Right        []string            `json:"right,omitempty"`
	KeywordCount int                 `json:"keyword_count,omitempty"`
}

func (s *Service) present(q *question.Question) PresentedQuestion {
	out := PresentedQuestion{
		ID:         q.ID,
		Text:       q.Text,
		Shape:      q.Kind,
		Difficulty: q.Difficulty,
	}
	switch shape := q.Answer.(type) {
	case grading.Options:
		out.Options = make([]PresentedOption, 0, len(shape.Items))
		for _, it := range shape.Items {
			out.Options = append(out.Options, PresentedOption{ID: it.ID, Text: it.Text})
		}
	case grading.Matching:
		out.Left = make([]string, 0, len(shape.Pairs))
		out.Right = make([]string, 0, len(shape.Pairs))
		for _, p := range shape.Pairs {
			out.Left = append(out.Left, p.Left)
			out.Right = append(out.Right, p.Right)
		}
		s.shuffle(len(out.Right), func(i, j int) { out.Right[i], out.Right[j] = out.Right[j], out.Right[i] })
	case grading.Open:
		out.KeywordCount = len(shape.Keywords)
	}
	return out
}

// presentSet renders ids in order, shuffling the order for randomized tests.
func (s *Service) presentSet(ids []int64, byID map[int64]*question.Question, randomize bool) []PresentedQuestion {
	out := make([]PresentedQuestion, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, s.present(q))
		}
	}
	if randomize {
		s.shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}
