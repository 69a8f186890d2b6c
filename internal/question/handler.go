package question

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"testlms/internal/app/apiresp"
	"testlms/internal/auth"
	"testlms/internal/grading"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxImportBytes = 10 << 20

type Handler struct {
	svc questionService
	log *zap.Logger
}

type questionService interface {
	Create(ctx context.Context, in CreateInput) (*Question, error)
	Get(ctx context.Context, id int64) (*Question, error)
	List(ctx context.Context, f Filter) ([]Question, error)
	Delete(ctx context.Context, id int64) error
	ImportExcel(ctx context.Context, creatorID int64, r io.Reader) (*ImportReport, error)
}

type createQuestionRequest struct {
	Text       string         `json:"text"`
	Difficulty string         `json:"difficulty"`
	IsOpen     bool           `json:"is_open"`
	TopicID    int64          `json:"id_topic"`
	Shape      string         `json:"shape"`
	Options    []OptionInput  `json:"options"`
	Pairs      []grading.Pair `json:"pairs"`
	Keywords   string         `json:"keywords"`
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.svc.Create(r.Context(), CreateInput{
		Text:       req.Text,
		Difficulty: req.Difficulty,
		IsOpen:     req.IsOpen,
		TopicID:    req.TopicID,
		CreatorID:  user.ID,
		Kind:       req.Shape,
		Options:    req.Options,
		Pairs:      req.Pairs,
		Keywords:   req.Keywords,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, item)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f Filter

	if raw := strings.TrimSpace(q.Get("id_topic")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid id_topic")
			return
		}
		f.TopicID = id
	}
	if raw := strings.TrimSpace(q.Get("difficulty")); raw != "" {
		d, err := ParseDifficulty(raw)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		f.Difficulty = d
	}
	if raw := strings.TrimSpace(q.Get("is_open")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid is_open")
			return
		}
		f.IsOpen = &v
	}

	items, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	item, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"deleted": true, "id": id})
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	report, err := h.svc.ImportExcel(r.Context(), user.ID, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, report)
}

func (h *Handler) ImportTemplate(w http.ResponseWriter, r *http.Request) {
	content, err := ImportTemplate()
	if err != nil {
		apiresp.WriteInternal(w, r, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="questions_template.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrTopicNotFound):
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
