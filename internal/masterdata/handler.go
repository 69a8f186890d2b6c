package masterdata

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"testlms/internal/app/apiresp"
	"testlms/internal/auth"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	svc masterdataService
	log *zap.Logger
}

type masterdataService interface {
	CreateTopic(ctx context.Context, name string) (*Topic, error)
	ListTopics(ctx context.Context) ([]Topic, error)
	CreateGroup(ctx context.Context, actor auth.User, in CreateGroupInput) (*Group, error)
	ListGroups(ctx context.Context, actor auth.User) ([]Group, error)
	DeleteGroup(ctx context.Context, actor auth.User, groupID int64) error
	ListMembers(ctx context.Context, actor auth.User, groupID int64) ([]int64, error)
	AddMember(ctx context.Context, actor auth.User, groupID, userID int64) error
	RemoveMember(ctx context.Context, actor auth.User, groupID, userID int64) error
	ImportMembersCSV(ctx context.Context, actor auth.User, groupID int64, r io.Reader) (*ImportMembersReport, error)
}

type createTopicRequest struct {
	Name string `json:"name"`
}

type createGroupRequest struct {
	Name      string `json:"name"`
	TeacherID int64  `json:"teacher_id"`
}

type addMemberRequest struct {
	UserID int64 `json:"user_id"`
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	topic, err := h.svc.CreateTopic(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, topic)
}

func (h *Handler) ListTopics(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListTopics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	group, err := h.svc.CreateGroup(r.Context(), user, CreateGroupInput{Name: req.Name, TeacherID: req.TeacherID})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, group)
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListGroups(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := parsePathID(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.svc.DeleteGroup(r.Context(), user, groupID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := parsePathID(w, r, "groupID")
	if !ok {
		return
	}
	items, err := h.svc.ListMembers(r.Context(), user, groupID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"group_id": groupID, "user_ids": items})
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := parsePathID(w, r, "groupID")
	if !ok {
		return
	}
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.AddMember(r.Context(), user, groupID, req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, map[string]int64{"group_id": groupID, "user_id": req.UserID})
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := parsePathID(w, r, "groupID")
	if !ok {
		return
	}
	userID, ok := parsePathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.svc.RemoveMember(r.Context(), user, groupID, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ImportMembers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := parsePathID(w, r, "groupID")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	report, err := h.svc.ImportMembersCSV(r.Context(), user, groupID, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrGroupNotFound), errors.Is(err, ErrMemberNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyMember), errors.Is(err, ErrGroupInUse):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	default:
		apiresp.WriteInternal(w, r, h.log, err)
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return auth.User{}, false
	}
	return *user, true
}

func parsePathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return id, true
}
