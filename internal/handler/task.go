package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskboard/internal/auth"
	"github.com/BuzzLyutic/taskboard/internal/model"
	"github.com/BuzzLyutic/taskboard/internal/repo"
	"github.com/BuzzLyutic/taskboard/internal/service"
	"github.com/BuzzLyutic/taskboard/pkg/respond"
)

type TaskHandler struct {
	service *service.TaskService
	logger  *zap.Logger
}

func NewTaskHandler(srv *service.TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: srv,
		logger:  logger,
	}
}

type boardResponse struct {
	Columns []model.Column `json:"columns"`
}

type moveRequest struct {
	TaskID       int64  `json:"task_id,omitempty"`
	TargetStatus string `json:"target_status"`
	// nil - в конец колонки
	TargetIndex *int `json:"target_index"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *TaskHandler) Board(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r, "projectID")
	if !ok {
		return
	}

	cols, err := h.service.Board(r.Context(), projectID)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, boardResponse{Columns: cols})
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r, "projectID")
	if !ok {
		return
	}

	if r.ContentLength == 0 {
		respond.Error(w, r, http.StatusBadRequest, "empty request body")
		return
	}

	var req model.Task
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode json", zap.Error(err))
		respond.Error(w, r, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}
	req.ProjectID = projectID

	idempKey := r.Header.Get("Idempotency-Key")
	task, err := h.service.Create(r.Context(), req, idempKey)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/tasks/%d", task.ID))
	respond.JSON(w, r, http.StatusCreated, task)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	task, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) Move(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TaskID != 0 && req.TaskID != id {
		respond.Error(w, r, http.StatusBadRequest, "task_id does not match path")
		return
	}
	status, ok := parseStatus(w, r, req.TargetStatus)
	if !ok {
		return
	}
	index := model.EndOfColumn
	if req.TargetIndex != nil {
		if *req.TargetIndex < 0 {
			respond.Error(w, r, http.StatusBadRequest, "target_index must not be negative")
			return
		}
		index = *req.TargetIndex
	}

	res, err := h.service.Move(r.Context(), actorFrom(r), model.MoveRequest{
		TaskID:       id,
		TargetStatus: status,
		TargetIndex:  index,
	})
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, res)
}

func (h *TaskHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	status, ok := parseStatus(w, r, req.Status)
	if !ok {
		return
	}

	res, err := h.service.ChangeStatus(r.Context(), actorFrom(r), id, status)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, res)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.handleErrors(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, r, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func parseStatus(w http.ResponseWriter, r *http.Request, raw string) (model.Status, bool) {
	status, err := model.ParseStatus(raw)
	if err != nil {
		respond.Error(w, r, http.StatusBadRequest, err.Error())
		return "", false
	}
	return status, true
}

func actorFrom(r *http.Request) model.Actor {
	id, _ := auth.IdentityFrom(r.Context())
	return id.Actor
}

func (h *TaskHandler) handleErrors(w http.ResponseWriter, r *http.Request, err error) {
	var fe *service.ForbiddenError
	switch {
	case errors.As(err, &fe):
		respond.Failure(w, r, http.StatusForbidden, respond.KindForbidden, string(fe.Reason), fe.Reason.Message())
	case errors.Is(err, repo.ErrorNotFound):
		respond.Error(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, repo.ErrorConflict):
		respond.Error(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, service.ErrValidation):
		respond.Error(w, r, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("internal error", zap.Error(err))
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}
