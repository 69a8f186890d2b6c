package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"testlms/internal/db"
	"testlms/internal/db/dbtest"
	"testlms/internal/grading"
	"testlms/internal/question"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	teacherID  = int64(1)
	studentID  = int64(7)
	classmate  = int64(8)
	outsiderID = int64(99)
)

var baseTime = time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	conn      *sql.DB
	svc       *Service
	questions *question.Service
	topicID   int64
	groupID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := dbtest.SQLite(t)
	topicID, groupID := dbtest.Seed(t, conn, studentID, classmate)
	qs := question.NewService(conn)
	svc := NewService(conn, db.DriverSQLite, qs, zap.NewNop(), DefaultConfig())
	svc.now = func() time.Time { return baseTime }
	svc.shuffle = func(int, func(i, j int)) {}

	return &fixture{conn: conn, svc: svc, questions: qs, topicID: topicID, groupID: groupID}
}

func (f *fixture) createQuestion(t *testing.T, in question.CreateInput) *question.Question {
	t.Helper()
	if in.TopicID == 0 {
		in.TopicID = f.topicID
	}
	if in.CreatorID == 0 {
		in.CreatorID = teacherID
	}
	if in.Difficulty == "" {
		in.Difficulty = "easy"
	}
	q, err := f.questions.Create(context.Background(), in)
	require.NoError(t, err)
	return q
}

func (f *fixture) singleQuestion(t *testing.T, isOpen bool, difficulty string) *question.Question {
	return f.createQuestion(t, question.CreateInput{
		Text:       "Capital of France?",
		Difficulty: difficulty,
		IsOpen:     isOpen,
		Kind:       "single",
		Options: []question.OptionInput{
			{Text: "Paris", IsCorrect: true},
			{Text: "London"},
		},
	})
}

func (f *fixture) createTest(t *testing.T, in CreateTestInput) *Test {
	t.Helper()
	if in.Title == "" {
		in.Title = "Cells"
	}
	if in.GroupID == 0 {
		in.GroupID = f.groupID
	}
	if in.CreatorID == 0 {
		in.CreatorID = teacherID
	}
	test, err := f.svc.CreateTest(context.Background(), in)
	require.NoError(t, err)
	return test
}

func (f *fixture) count(t *testing.T, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, f.conn.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func intPtr(v int) *int { return &v }

func rawID(id int64) json.RawMessage { return json.RawMessage(fmt.Sprintf("%d", id)) }

func optionID(t *testing.T, q *question.Question, text string) int64 {
	t.Helper()
	opts, ok := q.Answer.(grading.Options)
	require.True(t, ok, "question %d has no options", q.ID)
	for _, it := range opts.Items {
		if it.Text == text {
			return it.ID
		}
	}
	t.Fatalf("option %q not found", text)
	return 0
}

// mixedTest builds a manual test with one question of every shape.
type mixedTest struct {
	test     *Test
	single   *question.Question
	multiple *question.Question
	matching *question.Question
	open     *question.Question
}

func (f *fixture) mixedTest(t *testing.T, passing int) mixedTest {
	t.Helper()
	ctx := context.Background()

	m := mixedTest{
		test:   f.createTest(t, CreateTestInput{PassingScore: intPtr(passing)}),
		single: f.singleQuestion(t, false, "easy"),
		multiple: f.createQuestion(t, question.CreateInput{
			Text: "Primes?",
			Kind: "multiple",
			Options: []question.OptionInput{
				{Text: "2", IsCorrect: true},
				{Text: "3", IsCorrect: true},
				{Text: "4"},
			},
		}),
		matching: f.createQuestion(t, question.CreateInput{
			Text:  "Match formulas",
			Kind:  "matching",
			Pairs: []grading.Pair{{Left: "H2O", Right: "water"}, {Left: "NaCl", Right: "salt"}},
		}),
		open: f.createQuestion(t, question.CreateInput{
			Text:     "Describe mitosis",
			Kind:     "open",
			Keywords: "mitosis, nucleus, chromosomes",
		}),
	}
	for _, q := range []*question.Question{m.single, m.multiple, m.matching, m.open} {
		require.NoError(t, f.svc.AddQuestion(ctx, m.test.ID, q.ID))
	}
	return m
}

func (m mixedTest) answers(t *testing.T) []AnswerInput {
	return []AnswerInput{
		{QuestionID: m.single.ID, Answer: rawID(optionID(t, m.single, "Paris"))},
		{QuestionID: m.multiple.ID, Answer: json.RawMessage(fmt.Sprintf("[%d]", optionID(t, m.multiple, "2")))},
		{QuestionID: m.matching.ID, Answer: json.RawMessage(`{"H2O":"water","NaCl":"salt"}`)},
		{QuestionID: m.open.ID, Answer: json.RawMessage(`"mitosis splits the nucleus"`)},
	}
}

type countingRecorder struct {
	mu        sync.Mutex
	graded    int
	submitted int
	generated []string
}

func (r *countingRecorder) AnswerGraded(grading.Kind, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graded++
}

func (r *countingRecorder) AttemptSubmitted(bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted++
}

func (r *countingRecorder) TestGenerated(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generated = append(r.generated, outcome)
}

func TestCreateTestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateTestInput
		want error
	}{
		{name: "blank title", in: CreateTestInput{Title: " ", GroupID: f.groupID, CreatorID: 1}, want: ErrInvalidInput},
		{name: "bad check type", in: CreateTestInput{Title: "x", CheckType: "peer", GroupID: f.groupID, CreatorID: 1}, want: ErrInvalidInput},
		{name: "passing out of range", in: CreateTestInput{Title: "x", PassingScore: intPtr(101), GroupID: f.groupID, CreatorID: 1}, want: ErrInvalidInput},
		{name: "zero time limit", in: CreateTestInput{Title: "x", TimeLimit: intPtr(0), GroupID: f.groupID, CreatorID: 1}, want: ErrInvalidInput},
		{name: "unknown group", in: CreateTestInput{Title: "x", GroupID: 404, CreatorID: 1}, want: ErrGroupNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateTest(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM tests`))
}

func TestCreateAndListTests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createTest(t, CreateTestInput{Title: "Final", PassingScore: intPtr(60), TimeLimit: intPtr(30)})
	assert.Equal(t, CheckAuto, exam.CheckType)
	assert.Equal(t, SourceManual, exam.Source)
	require.NotNil(t, exam.PassingScore)
	assert.Equal(t, 60, *exam.PassingScore)
	f.createTest(t, CreateTestInput{Title: "Drill", IsTraining: true})

	all, err := f.svc.ListGroupTests(ctx, f.groupID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	training := true
	drills, err := f.svc.ListGroupTests(ctx, f.groupID, &training)
	require.NoError(t, err)
	require.Len(t, drills, 1)
	assert.Equal(t, "Drill", drills[0].Title)

	require.NoError(t, f.svc.DeleteTest(ctx, exam.ID))
	assert.ErrorIs(t, f.svc.DeleteTest(ctx, exam.ID), ErrTestNotFound)
	_, err = f.svc.GetTest(ctx, exam.ID)
	assert.ErrorIs(t, err, ErrTestNotFound)
}

func TestAddQuestionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	test := f.createTest(t, CreateTestInput{})
	closed := f.singleQuestion(t, false, "easy")
	practice := f.singleQuestion(t, true, "easy")

	require.NoError(t, f.svc.AddQuestion(ctx, test.ID, closed.ID))
	assert.ErrorIs(t, f.svc.AddQuestion(ctx, test.ID, closed.ID), ErrQuestionAlreadyInTest)
	assert.ErrorIs(t, f.svc.AddQuestion(ctx, test.ID, practice.ID), ErrInvalidInput)
	assert.ErrorIs(t, f.svc.AddQuestion(ctx, test.ID, 4040), question.ErrQuestionNotFound)
	assert.ErrorIs(t, f.svc.AddQuestion(ctx, 4040, closed.ID), ErrTestNotFound)

	got, err := f.svc.GetTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{closed.ID}, got.QuestionIDs)

	assert.ErrorIs(t, f.svc.RemoveQuestion(ctx, test.ID, practice.ID), ErrQuestionNotInTest)
	require.NoError(t, f.svc.RemoveQuestion(ctx, test.ID, closed.ID))
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM test_questions WHERE test_id = $1`, test.ID))
}

func TestGenerateInsufficientWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &countingRecorder{}
	f.svc.SetRecorder(rec)

	test := f.createTest(t, CreateTestInput{})
	for i := 0; i < 3; i++ {
		f.singleQuestion(t, false, "hard")
	}

	first, err := f.svc.Generate(ctx, test.ID, GenerationRecipe{TopicID: f.topicID, Difficulty: "hard", Count: 2})
	require.NoError(t, err)
	require.Len(t, first.QuestionIDs, 2)

	_, err = f.svc.Generate(ctx, test.ID, GenerationRecipe{TopicID: f.topicID, Difficulty: "hard", Count: 5})
	require.Error(t, err)
	var short *InsufficientQuestionsError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, 3, short.Found)
	assert.Equal(t, 5, short.Required)
	assert.ErrorIs(t, err, ErrInsufficientQuestions)
	assert.Equal(t, "insufficient questions: found 3, required 5", err.Error())

	got, err := f.svc.GetTest(ctx, test.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Generation)
	assert.Equal(t, 2, got.Generation.Count)
	assert.Equal(t, first.QuestionIDs, got.QuestionIDs)
	assert.Equal(t, []string{"ok", "insufficient"}, rec.generated)
}

func TestGenerateValidatesRecipe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test := f.createTest(t, CreateTestInput{})

	tests := []GenerationRecipe{
		{TopicID: 0, Difficulty: "easy", Count: 1},
		{TopicID: f.topicID, Difficulty: "brutal", Count: 1},
		{TopicID: f.topicID, Difficulty: "easy", Count: 0},
	}
	for _, recipe := range tests {
		_, err := f.svc.Generate(ctx, test.ID, recipe)
		assert.ErrorIs(t, err, ErrInvalidInput, "recipe %+v", recipe)
	}

	_, err := f.svc.Generate(ctx, 4040, GenerationRecipe{TopicID: f.topicID, Difficulty: "easy", Count: 1})
	assert.ErrorIs(t, err, ErrTestNotFound)
}

func TestGenerateReplacesSelectionAndSetsTraining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	test := f.createTest(t, CreateTestInput{})
	var pool []int64
	for i := 0; i < 4; i++ {
		pool = append(pool, f.singleQuestion(t, true, "medium").ID)
	}
	f.singleQuestion(t, false, "medium")
	f.singleQuestion(t, true, "easy")

	res, err := f.svc.Generate(ctx, test.ID, GenerationRecipe{TopicID: f.topicID, Difficulty: "Medium", Count: 3, IsOpen: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.QuestionsAdded)
	assert.Equal(t, question.Medium, res.Generation.Difficulty)
	assert.Subset(t, pool, res.QuestionIDs)

	got, err := f.svc.GetTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, got.Source)
	assert.True(t, got.IsTraining)
	assert.Equal(t, res.QuestionIDs, got.QuestionIDs)

	res, err = f.svc.Generate(ctx, test.ID, GenerationRecipe{TopicID: f.topicID, Difficulty: "medium", Count: 1, IsOpen: true})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM test_questions WHERE test_id = $1`, test.ID))
	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM test_generations WHERE test_id = $1`, test.ID))

	extra := f.singleQuestion(t, true, "medium")
	assert.ErrorIs(t, f.svc.AddQuestion(ctx, test.ID, extra.ID), ErrInvalidInput)
}

func TestGenerateSamplesUniformly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.shuffle = rand.New(rand.NewPCG(1, 2)).Shuffle

	test := f.createTest(t, CreateTestInput{})
	for i := 0; i < 3; i++ {
		f.singleQuestion(t, false, "easy")
	}

	const runs = 600
	picked := map[int64]int{}
	for i := 0; i < runs; i++ {
		res, err := f.svc.Generate(ctx, test.ID, GenerationRecipe{TopicID: f.topicID, Difficulty: "easy", Count: 1})
		require.NoError(t, err)
		picked[res.QuestionIDs[0]]++
	}

	require.Len(t, picked, 3)
	for id, n := range picked {
		assert.InDelta(t, runs/3, n, 60, "question %d picked %d times", id, n)
	}
}

func TestGenerateRefusedOnceAttemptsExist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &countingRecorder{}
	f.svc.SetRecorder(rec)

	test := f.createTest(t, CreateTestInput{})
	for i := 0; i < 4; i++ {
		f.singleQuestion(t, false, "hard")
	}
	f.singleQuestion(t, true, "hard")

	first, err := f.svc.Generate(ctx, test.ID, GenerationRecipe{TopicID: f.topicID, Difficulty: "hard", Count: 2})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, test.ID, studentID)
	require.NoError(t, err)

	_, err = f.svc.Generate(ctx, test.ID, GenerationRecipe{TopicID: f.topicID, Difficulty: "hard", Count: 1, IsOpen: true})
	assert.ErrorIs(t, err, ErrTestHasAttempts)

	got, err := f.svc.GetTest(ctx, test.ID)
	require.NoError(t, err)
	assert.False(t, got.IsTraining)
	assert.Equal(t, first.QuestionIDs, got.QuestionIDs)
	require.NotNil(t, got.Generation)
	assert.Equal(t, 2, got.Generation.Count)
	assert.Equal(t, []string{"ok", "invalid"}, rec.generated)
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mixedTest(t, 60)

	first, err := f.svc.Start(ctx, m.test.ID, studentID)
	require.NoError(t, err)
	assert.Nil(t, first.Mark)

	second, err := f.svc.Start(ctx, m.test.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := f.svc.Start(ctx, m.test.ID, classmate)
			errs[i] = err
			if a != nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()
	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM test_results WHERE user_id = $1`, classmate))
}

func TestStartRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mixedTest(t, 60)

	_, err := f.svc.Start(ctx, m.test.ID, outsiderID)
	assert.ErrorIs(t, err, ErrTestNotFound)
	_, err = f.svc.ResolveForStudent(ctx, m.test.ID, outsiderID)
	assert.ErrorIs(t, err, ErrTestNotFound)
}

func TestSubmitGradesAndCloses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &countingRecorder{}
	f.svc.SetRecorder(rec)
	m := f.mixedTest(t, 60)

	attempt, err := f.svc.Start(ctx, m.test.ID, studentID)
	require.NoError(t, err)

	res, err := f.svc.Submit(ctx, SubmitInput{AttemptID: attempt.ID, UserID: studentID, Answers: m.answers(t), TimeTaken: 120})
	require.NoError(t, err)
	assert.Equal(t, 67, res.Score)
	assert.True(t, res.Passed)
	assert.Equal(t, 100, res.MaxScore)
	assert.Equal(t, 2, res.CorrectCount)
	assert.Equal(t, 4, res.QuestionCount)
	require.NotNil(t, res.ResultID)
	assert.Equal(t, attempt.ID, *res.ResultID)
	assert.False(t, res.SuggestTraining)

	assert.Equal(t, 4, f.count(t, `SELECT COUNT(*) FROM user_answers WHERE result_id = $1`, attempt.ID))
	assert.Equal(t, 2, f.count(t, `SELECT COUNT(*) FROM user_answers WHERE result_id = $1 AND is_correct = TRUE`, attempt.ID))

	var score float64
	require.NoError(t, f.conn.QueryRowContext(ctx, `
		SELECT score FROM user_answers WHERE result_id = $1 AND question_id = $2
	`, attempt.ID, m.open.ID).Scan(&score))
	assert.InDelta(t, 0.67, score, 0.001)

	var mark, taken int
	require.NoError(t, f.conn.QueryRowContext(ctx, `
		SELECT mark, time_taken FROM test_results WHERE id = $1
	`, attempt.ID).Scan(&mark, &taken))
	assert.Equal(t, 67, mark)
	assert.Equal(t, 120, taken)

	assert.Equal(t, 4, rec.graded)
	assert.Equal(t, 1, rec.submitted)

	_, err = f.svc.Submit(ctx, SubmitInput{AttemptID: attempt.ID, UserID: studentID, Answers: m.answers(t)})
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	_, err = f.svc.Start(ctx, m.test.ID, studentID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestDeletingQuestionKeepsAnswerRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mixedTest(t, 60)

	attempt, err := f.svc.Start(ctx, m.test.ID, studentID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, SubmitInput{AttemptID: attempt.ID, UserID: studentID, Answers: m.answers(t), TimeTaken: 30})
	require.NoError(t, err)

	require.NoError(t, f.questions.Delete(ctx, m.open.ID))

	assert.Equal(t, 4, f.count(t, `SELECT COUNT(*) FROM user_answers WHERE result_id = $1`, attempt.ID))
	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM user_answers WHERE result_id = $1 AND question_id = $2`, attempt.ID, m.open.ID))
	assert.Equal(t, 67, f.count(t, `SELECT mark FROM test_results WHERE id = $1`, attempt.ID))
}

func TestSubmitUnansweredScoresZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mixedTest(t, 50)

	attempt, err := f.svc.Start(ctx, m.test.ID, studentID)
	require.NoError(t, err)

	res, err := f.svc.Submit(ctx, SubmitInput{
		AttemptID: attempt.ID,
		UserID:    studentID,
		Answers: []AnswerInput{
			{QuestionID: m.single.ID, Answer: rawID(optionID(t, m.single, "Paris"))},
			{QuestionID: 4040, Answer: json.RawMessage(`1`)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 25, res.Score)
	assert.False(t, res.Passed)
	assert.Equal(t, 4, f.count(t, `SELECT COUNT(*) FROM user_answers WHERE result_id = $1`, attempt.ID))
	assert.Equal(t, 3, f.count(t, `SELECT COUNT(*) FROM user_answers WHERE result_id = $1 AND answer_data = 'null'`, attempt.ID))
}

func TestSubmitConcurrentClosesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mixedTest(t, 60)

	attempt, err := f.svc.Start(ctx, m.test.ID, studentID)
	require.NoError(t, err)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(ctx, SubmitInput{AttemptID: attempt.ID, UserID: studentID, Answers: m.answers(t)})
		}(i)
	}
	wg.Wait()

	ok, closed := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyClosed):
			closed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, closed)
	assert.Equal(t, 4, f.count(t, `SELECT COUNT(*) FROM user_answers WHERE result_id = $1`, attempt.ID))
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deadline := baseTime.Add(time.Hour)
	m := f.mixedTest(t, 60)
	late := f.createTest(t, CreateTestInput{Title: "Late", Deadline: &deadline})
	require.NoError(t, f.svc.AddQuestion(ctx, late.ID, m.single.ID))

	attempt, err := f.svc.Start(ctx, m.test.ID, studentID)
	require.NoError(t, err)
	lateAttempt, err := f.svc.Start(ctx, late.ID, studentID)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, SubmitInput{AttemptID: attempt.ID, UserID: classmate})
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	_, err = f.svc.Submit(ctx, SubmitInput{AttemptID: 4040, UserID: studentID})
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	_, err = f.svc.Submit(ctx, SubmitInput{AttemptID: attempt.ID, UserID: studentID, TimeTaken: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.svc.now = func() time.Time { return baseTime.Add(2 * time.Hour) }
	_, err = f.svc.Submit(ctx, SubmitInput{AttemptID: lateAttempt.ID, UserID: studentID})
	assert.ErrorIs(t, err, ErrDeadlinePassed)
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM user_answers`))
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM test_results WHERE mark IS NOT NULL`))
}

func TestResolveForStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mixedTest(t, 90)

	drill := f.createTest(t, CreateTestInput{Title: "Biology drill", IsTraining: true})
	require.NoError(t, f.svc.AddQuestion(ctx, drill.ID, f.singleQuestion(t, true, "easy").ID))

	fresh, err := f.svc.ResolveForStudent(ctx, m.test.ID, studentID)
	require.NoError(t, err)
	assert.False(t, fresh.AlreadyCompleted)
	assert.False(t, fresh.Continue)
	require.Len(t, fresh.Questions, 4)
	assert.Equal(t, m.single.ID, fresh.Questions[0].ID)
	assert.Len(t, fresh.Questions[0].Options, 2)
	assert.Equal(t, []string{"H2O", "NaCl"}, fresh.Questions[2].Left)
	assert.Equal(t, 3, fresh.Questions[3].KeywordCount)

	attempt, err := f.svc.Start(ctx, m.test.ID, studentID)
	require.NoError(t, err)

	cont, err := f.svc.ResolveForStudent(ctx, m.test.ID, studentID)
	require.NoError(t, err)
	assert.True(t, cont.Continue)
	require.NotNil(t, cont.ResultID)
	assert.Equal(t, attempt.ID, *cont.ResultID)
	assert.Len(t, cont.Questions, 4)

	res, err := f.svc.Submit(ctx, SubmitInput{AttemptID: attempt.ID, UserID: studentID, Answers: m.answers(t)})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.True(t, res.SuggestTraining)
	require.NotNil(t, res.TrainingTestID)
	assert.Equal(t, drill.ID, *res.TrainingTestID)
	assert.Equal(t, "Biology drill", res.TrainingTestTitle)

	done, err := f.svc.ResolveForStudent(ctx, m.test.ID, studentID)
	require.NoError(t, err)
	assert.True(t, done.AlreadyCompleted)
	assert.Empty(t, done.Questions)
	require.NotNil(t, done.BestResult)
	require.NotNil(t, done.BestResult.Mark)
	assert.Equal(t, 67, *done.BestResult.Mark)
	assert.True(t, done.SuggestTraining)
}

func TestResolveRandomizedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.shuffle = func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}

	test := f.createTest(t, CreateTestInput{IsRandom: true})
	var ids []int64
	for i := 0; i < 3; i++ {
		q := f.singleQuestion(t, false, "easy")
		require.NoError(t, f.svc.AddQuestion(ctx, test.ID, q.ID))
		ids = append(ids, q.ID)
	}

	view, err := f.svc.ResolveForStudent(ctx, test.ID, studentID)
	require.NoError(t, err)
	require.Len(t, view.Questions, 3)
	assert.Equal(t, ids[2], view.Questions[0].ID)
	assert.Equal(t, ids[0], view.Questions[2].ID)
}

func TestResolveWithoutQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test := f.createTest(t, CreateTestInput{})

	_, err := f.svc.ResolveForStudent(ctx, test.ID, studentID)
	assert.ErrorIs(t, err, ErrNoQuestionsAvailable)
}

func TestTrainingMayBeRepeated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	drill := f.createTest(t, CreateTestInput{Title: "Drill", IsTraining: true})
	q := f.singleQuestion(t, true, "easy")
	require.NoError(t, f.svc.AddQuestion(ctx, drill.ID, q.ID))
	answers := []AnswerInput{{QuestionID: q.ID, Answer: rawID(optionID(t, q, "Paris"))}}

	first, err := f.svc.SubmitTraining(ctx, drill.ID, studentID, answers, 10)
	require.NoError(t, err)
	second, err := f.svc.SubmitTraining(ctx, drill.ID, studentID, answers, 12)
	require.NoError(t, err)

	assert.Equal(t, 100, first.Score)
	assert.True(t, first.Passed)
	require.NotNil(t, first.PassingScore)
	assert.Equal(t, 70, *first.PassingScore)
	require.Len(t, first.Feedback, 1)
	assert.Equal(t, optionID(t, q, "Paris"), first.Feedback[0].CorrectAnswer)
	require.NotNil(t, first.ResultID)
	require.NotNil(t, second.ResultID)
	assert.NotEqual(t, *first.ResultID, *second.ResultID)
	assert.Equal(t, 2, f.count(t, `SELECT COUNT(*) FROM test_results WHERE training = TRUE AND mark IS NOT NULL`))

	attempt, err := f.svc.Start(ctx, drill.ID, studentID)
	require.NoError(t, err)
	assert.True(t, attempt.Training)
	_, err = f.svc.Submit(ctx, SubmitInput{AttemptID: attempt.ID, UserID: studentID, Answers: answers})
	require.NoError(t, err)
	again, err := f.svc.Start(ctx, drill.ID, studentID)
	require.NoError(t, err)
	assert.NotEqual(t, attempt.ID, again.ID)

	view, err := f.svc.ResolveForStudent(ctx, drill.ID, studentID)
	require.NoError(t, err)
	assert.False(t, view.AlreadyCompleted)
	assert.Len(t, view.Questions, 1)
}

func TestTrainingWithoutPersistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.PersistTrainingAttempts = false

	drill := f.createTest(t, CreateTestInput{IsTraining: true})
	q := f.singleQuestion(t, true, "easy")
	require.NoError(t, f.svc.AddQuestion(ctx, drill.ID, q.ID))

	res, err := f.svc.SubmitTraining(ctx, drill.ID, studentID, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Score)
	assert.False(t, res.Passed)
	assert.Nil(t, res.ResultID)
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM test_results`))
}

func TestTrainingCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createTest(t, CreateTestInput{Title: "Exam"})
	drill := f.createTest(t, CreateTestInput{Title: "Drill", IsTraining: true})
	require.NoError(t, f.svc.AddQuestion(ctx, drill.ID, f.singleQuestion(t, true, "easy").ID))

	list, err := f.svc.ListTrainingTests(ctx, studentID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, drill.ID, list[0].ID)

	_, err = f.svc.ListTrainingTests(ctx, outsiderID)
	assert.ErrorIs(t, err, ErrNotInGroup)

	view, err := f.svc.GetTrainingTest(ctx, drill.ID, studentID)
	require.NoError(t, err)
	assert.Len(t, view.Questions, 1)

	_, err = f.svc.GetTrainingTest(ctx, exam.ID, studentID)
	assert.ErrorIs(t, err, ErrTestNotFound)
	_, err = f.svc.SubmitTraining(ctx, exam.ID, studentID, nil, 0)
	assert.ErrorIs(t, err, ErrTestNotFound)
}
