package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"testlms/internal/app/apiresp"
	"testlms/internal/auth"
	"testlms/internal/question"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	svc examService
	log *zap.Logger
}

type examService interface {
	CreateTest(ctx context.Context, in CreateTestInput) (*Test, error)
	GetTest(ctx context.Context, id int64) (*Test, error)
	ListGroupTests(ctx context.Context, groupID int64, training *bool) ([]Test, error)
	DeleteTest(ctx context.Context, id int64) error
	AddQuestion(ctx context.Context, testID, questionID int64) error
	RemoveQuestion(ctx context.Context, testID, questionID int64) error
	Generate(ctx context.Context, testID int64, recipe GenerationRecipe) (*GenerationResult, error)
	ResolveForStudent(ctx context.Context, testID, userID int64) (*StudentTestView, error)
	Start(ctx context.Context, testID, userID int64) (*Attempt, error)
	Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	ListTrainingTests(ctx context.Context, userID int64) ([]Test, error)
	GetTrainingTest(ctx context.Context, testID, userID int64) (*TrainingTestView, error)
	SubmitTraining(ctx context.Context, testID, userID int64, answers []AnswerInput, timeTaken int) (*SubmitResult, error)
}

type createTestRequest struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	TimeLimit    *int    `json:"time_limit"`
	Deadline     *string `json:"deadline"`
	CheckType    string  `json:"check_type"`
	IsRandom     bool    `json:"is_random"`
	PassingScore *int    `json:"passing_score"`
	IsTraining   bool    `json:"is_training"`
	GroupID      int64   `json:"id_group"`
}

type addQuestionRequest struct {
	QuestionID int64 `json:"question_id"`
}

type generateRequest struct {
	TopicID       int64  `json:"id_topic"`
	Difficulty    string `json:"difficulty"`
	QuestionCount int    `json:"question_count"`
	IsTraining    bool   `json:"is_training"`
}

type startRequest struct {
	TestID int64 `json:"test_id"`
}

type submitRequest struct {
	Answers   []AnswerInput `json:"answers"`
	TimeTaken int           `json:"time_taken"`
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) CreateTest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	deadline, err := parseDeadline(req.Deadline)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "deadline must be RFC3339")
		return
	}

	item, err := h.svc.CreateTest(r.Context(), CreateTestInput{
		Title:        req.Title,
		Description:  req.Description,
		TimeLimit:    req.TimeLimit,
		Deadline:     deadline,
		CheckType:    req.CheckType,
		IsRandom:     req.IsRandom,
		PassingScore: req.PassingScore,
		IsTraining:   req.IsTraining,
		GroupID:      req.GroupID,
		CreatorID:    user.ID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, item)
}

func (h *Handler) GetTest(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	item, err := h.svc.GetTest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) ListGroupTests(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parsePathID(w, r, "groupID")
	if !ok {
		return
	}
	var training *bool
	if raw := strings.TrimSpace(r.URL.Query().Get("is_training")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid is_training")
			return
		}
		training = &v
	}

	items, err := h.svc.ListGroupTests(r.Context(), groupID, training)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) DeleteTest(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteTest(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"deleted": true, "id": id})
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	testID, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	var req addQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "question_id is required")
		return
	}
	if err := h.svc.AddQuestion(r.Context(), testID, req.QuestionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, map[string]int64{"test_id": testID, "question_id": req.QuestionID})
}

func (h *Handler) RemoveQuestion(w http.ResponseWriter, r *http.Request) {
	testID, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	questionID, ok := parsePathID(w, r, "questionID")
	if !ok {
		return
	}
	if err := h.svc.RemoveQuestion(r.Context(), testID, questionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	testID, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.Generate(r.Context(), testID, GenerationRecipe{
		TopicID:    req.TopicID,
		Difficulty: question.Difficulty(req.Difficulty),
		Count:      req.QuestionCount,
		IsOpen:     req.IsTraining,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, res)
}

func (h *Handler) StudentTest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}

	view, err := h.svc.ResolveForStudent(r.Context(), testID, user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, view)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TestID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "test_id is required")
		return
	}

	attempt, err := h.svc.Start(r.Context(), req.TestID, user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, attempt)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.Submit(r.Context(), SubmitInput{
		AttemptID: attemptID,
		UserID:    user.ID,
		Answers:   req.Answers,
		TimeTaken: req.TimeTaken,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) ListTraining(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	items, err := h.svc.ListTrainingTests(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) GetTraining(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.svc.GetTrainingTest(r.Context(), testID, user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, view)
}

func (h *Handler) SubmitTraining(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.SubmitTraining(r.Context(), testID, user.ID, req.Answers, req.TimeTaken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrAlreadyCompleted),
		errors.Is(err, ErrAlreadyClosed),
		errors.Is(err, ErrDeadlinePassed),
		errors.Is(err, ErrInsufficientQuestions),
		errors.Is(err, ErrNoQuestionsAvailable),
		errors.Is(err, ErrQuestionAlreadyInTest),
		errors.Is(err, ErrNotInGroup),
		errors.Is(err, ErrTestHasAttempts):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTestNotFound),
		errors.Is(err, ErrAttemptNotFound),
		errors.Is(err, ErrGroupNotFound),
		errors.Is(err, ErrQuestionNotInTest),
		errors.Is(err, question.ErrQuestionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		apiresp.WriteInternal(w, r, h.log, err)
	}
}

func parsePathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func parseDeadline(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &t, nil
}
