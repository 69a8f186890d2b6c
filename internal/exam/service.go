package exam

import (
	"context"
	"database/sql"
	"math/rand/v2"
	"time"

	"testlms/internal/db"
	"testlms/internal/grading"
	"testlms/internal/question"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultTrainingPassingScore = 70

// QuestionStore is the read side of the question bank.
type QuestionStore interface {
	Load(ctx context.Context, q db.Querier, ids []int64) (map[int64]*question.Question, error)
	MatchingIDs(ctx context.Context, q db.Querier, topicID int64, difficulty question.Difficulty, isOpen bool) ([]int64, error)
}

// Recorder receives domain events for metrics.
type Recorder interface {
	AnswerGraded(kind grading.Kind, reason string)
	AttemptSubmitted(training, passed bool)
	TestGenerated(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) AnswerGraded(grading.Kind, string) {}
func (nopRecorder) AttemptSubmitted(bool, bool)        {}
func (nopRecorder) TestGenerated(string)               {}

type Config struct {
	PersistTrainingAttempts bool
	TrainingPassingScore    int
}

func DefaultConfig() Config {
	return Config{PersistTrainingAttempts: true, TrainingPassingScore: defaultTrainingPassingScore}
}

type Service struct {
	db        *sql.DB
	driver    db.Driver
	questions QuestionStore
	log       *zap.Logger
	metrics   Recorder
	tracer    trace.Tracer
	cfg       Config

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

func NewService(conn *sql.DB, driver db.Driver, questions QuestionStore, log *zap.Logger, cfg Config) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TrainingPassingScore <= 0 || cfg.TrainingPassingScore > 100 {
		cfg.TrainingPassingScore = defaultTrainingPassingScore
	}
	return &Service{
		db:        conn,
		driver:    driver,
		questions: questions,
		log:       log.Named("exam"),
		metrics:   nopRecorder{},
		tracer:    otel.Tracer("testlms/internal/exam"),
		cfg:       cfg,
		now:       time.Now,
		shuffle:   rand.Shuffle,
	}
}

func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.metrics = r
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
