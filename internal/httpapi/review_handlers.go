package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"practica.org/internal/review"
)

type createNoteRequest struct {
	TaskID    string     `json:"task_id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Assignees []string   `json:"assignees"`
	Priority  int        `json:"priority"`
	DueDate   *time.Time `json:"due_date"`
}

type forwardNoteRequest struct {
	ToUserID string `json:"to_user_id"`
	Reason   string `json:"reason"`
}

type removeAssigneeRequest struct {
	UserID string `json:"user_id"`
}

type noteStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleReviewNotesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createReviewNote(w, r)
	case http.MethodGet:
		a.listReviewNotes(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleReviewNoteResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/review-notes/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/forward"); ok {
		a.postOnly(w, r, func() { a.forwardReviewNote(w, r, strings.TrimSuffix(id, "/")) })
		return
	}
	if id, ok := strings.CutSuffix(path, "/assignees/remove"); ok {
		a.postOnly(w, r, func() { a.removeReviewNoteAssignee(w, r, strings.TrimSuffix(id, "/")) })
		return
	}
	if id, ok := strings.CutSuffix(path, "/status"); ok {
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.updateReviewNoteStatus(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getReviewNote(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createReviewNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req createNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.notes.Create(r.Context(), review.CreateRequest{
		TaskID:    req.TaskID,
		Title:     req.Title,
		Body:      req.Body,
		RaisedBy:  userID,
		Assignees: req.Assignees,
		Priority:  req.Priority,
		DueDate:   req.DueDate,
	})
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	a.audit(r.Context(), "review_note.create", "review_note", created.ID, map[string]string{
		"task_id": created.TaskID,
	})
	w.Header().Set("Location", "/v1/review-notes/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getReviewNote(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	got, err := a.notes.Get(r.Context(), id)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	if !review.VisibleTo(got, userID) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (a *API) forwardReviewNote(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req forwardNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	got, err := a.notes.Forward(r.Context(), id, userID, req.ToUserID, req.Reason)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	a.audit(r.Context(), "review_note.forward", "review_note", got.ID, map[string]string{
		"to_user": req.ToUserID,
	})
	writeJSON(w, http.StatusOK, got)
}

func (a *API) removeReviewNoteAssignee(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req removeAssigneeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	got, err := a.notes.RemoveAssignee(r.Context(), id, userID, req.UserID)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	a.audit(r.Context(), "review_note.remove_assignee", "review_note", got.ID, map[string]string{
		"user_id": req.UserID,
	})
	writeJSON(w, http.StatusOK, got)
}

func (a *API) updateReviewNoteStatus(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req noteStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	got, err := a.notes.UpdateStatus(r.Context(), id, userID,
		review.Status(strings.ToUpper(strings.TrimSpace(req.Status))))
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	a.audit(r.Context(), "review_note.status", "review_note", got.ID, map[string]string{
		"status": string(got.Status),
	})
	writeJSON(w, http.StatusOK, got)
}

func (a *API) listReviewNotes(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	archived := r.URL.Query().Get("view") == "archived"
	items, err := a.notes.ForUser(r.Context(), userID, archived)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func handleReviewError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, review.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, review.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, review.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
