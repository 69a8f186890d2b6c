// Package grading scores submitted answers against keyed questions. Every
// function is pure; malformed input degrades to a zero score.
package grading

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// OpenAnswerThreshold is the keyword coverage an open answer needs to count as
// correct.
const OpenAnswerThreshold = 0.70

const (
	ReasonCorrect    = "correct"
	ReasonWrong      = "wrong"
	ReasonUnanswered = "unanswered"
	ReasonMalformed  = "malformed_payload"
)

type Result struct {
	Answered  bool    `json:"answered"`
	IsCorrect bool    `json:"is_correct"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

type status int

const (
	answered status = iota
	unanswered
	malformed
)

func Grade(shape AnswerShape, submitted json.RawMessage) Result {
	switch s := shape.(type) {
	case Options:
		if s.Multi {
			return gradeMultiple(s, submitted)
		}
		return gradeSingle(s, submitted)
	case Matching:
		return gradeMatching(s, submitted)
	case Open:
		return gradeOpen(s, submitted)
	default:
		return miss(malformed)
	}
}

func gradeSingle(o Options, raw json.RawMessage) Result {
	ids, st := parseIDs(raw)
	if st != answered {
		return miss(st)
	}
	if len(ids) != 1 {
		return miss(malformed)
	}
	correct := o.correctIDs()
	return verdict(len(correct) == 1 && correct[0] == ids[0])
}

func gradeMultiple(o Options, raw json.RawMessage) Result {
	ids, st := parseIDs(raw)
	if st != answered {
		return miss(st)
	}
	want := idSet(o.correctIDs())
	got := idSet(ids)
	if len(want) == 0 || len(want) != len(got) {
		return verdict(false)
	}
	for id := range got {
		if _, ok := want[id]; !ok {
			return verdict(false)
		}
	}
	return verdict(true)
}

func gradeMatching(m Matching, raw json.RawMessage) Result {
	pairs, st := parsePairs(raw)
	if st != answered {
		return miss(st)
	}
	if len(pairs) != len(m.Pairs) {
		return verdict(false)
	}
	authored := make(map[string]string, len(m.Pairs))
	for _, p := range m.Pairs {
		authored[strings.TrimSpace(p.Left)] = strings.TrimSpace(p.Right)
	}
	seen := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		left := strings.TrimSpace(p.Left)
		if _, dup := seen[left]; dup {
			return verdict(false)
		}
		seen[left] = struct{}{}
		right, ok := authored[left]
		if !ok || right != strings.TrimSpace(p.Right) {
			return verdict(false)
		}
	}
	return verdict(true)
}

func gradeOpen(o Open, raw json.RawMessage) Result {
	text, st := parseText(raw)
	if st != answered {
		return miss(st)
	}
	keywords := ParseKeywords(strings.Join(o.Keywords, ","))
	if len(keywords) == 0 {
		return Result{Answered: true, Reason: ReasonWrong}
	}
	lower := strings.ToLower(text)
	found := 0
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			found++
		}
	}
	score := Round2(float64(found) / float64(len(keywords)))
	res := Result{Answered: true, Score: score, IsCorrect: score >= OpenAnswerThreshold, Reason: ReasonWrong}
	if res.IsCorrect {
		res.Reason = ReasonCorrect
	}
	return res
}

// Percentage is the unweighted mean of scores over questionCount, as a rounded
// percentage. Questions without a score count as zero.
func Percentage(scores []float64, questionCount int) int {
	if questionCount <= 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return int(math.Round(100 * sum / float64(questionCount)))
}

// Passed reports whether pct clears passingScore. A test without a passing
// score is ungated.
func Passed(pct int, passingScore *int) bool {
	if passingScore == nil {
		return true
	}
	return pct >= *passingScore
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func verdict(ok bool) Result {
	if ok {
		return Result{Answered: true, IsCorrect: true, Score: 1, Reason: ReasonCorrect}
	}
	return Result{Answered: true, Reason: ReasonWrong}
}

func miss(st status) Result {
	if st == unanswered {
		return Result{Reason: ReasonUnanswered}
	}
	return Result{Answered: true, Reason: ReasonMalformed}
}

func isBlank(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func decode(raw json.RawMessage) (interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// parseIDs accepts a number, a numeric string or an array of either.
func parseIDs(raw json.RawMessage) ([]int64, status) {
	if isBlank(raw) {
		return nil, unanswered
	}
	v, ok := decode(raw)
	if !ok {
		return nil, malformed
	}

	items, isList := v.([]interface{})
	if !isList {
		items = []interface{}{v}
	}
	out := make([]int64, 0, len(items))
	for _, it := range items {
		id, st := toID(it)
		if st == unanswered {
			continue
		}
		if st == malformed {
			return nil, malformed
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, unanswered
	}
	return out, answered
}

func toID(v interface{}) (int64, status) {
	switch t := v.(type) {
	case json.Number:
		id, err := t.Int64()
		if err != nil {
			return 0, malformed
		}
		return id, answered
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return 0, unanswered
		}
		id, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, malformed
		}
		return id, answered
	case nil:
		return 0, unanswered
	default:
		return 0, malformed
	}
}

// parsePairs accepts [{"left":..,"right":..}] or {"left": "right"}.
func parsePairs(raw json.RawMessage) ([]Pair, status) {
	if isBlank(raw) {
		return nil, unanswered
	}
	var list []Pair
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, unanswered
		}
		return list, answered
	}
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, malformed
	}
	if len(obj) == 0 {
		return nil, unanswered
	}
	out := make([]Pair, 0, len(obj))
	for left, right := range obj {
		out = append(out, Pair{Left: left, Right: right})
	}
	return out, answered
}

func parseText(raw json.RawMessage) (string, status) {
	if isBlank(raw) {
		return "", unanswered
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed
	}
	if strings.TrimSpace(s) == "" {
		return "", unanswered
	}
	return s, answered
}

func idSet(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
