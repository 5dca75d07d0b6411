package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"practica.org/internal/personnel"
)

type createChangeRequest struct {
	TaskID               string `json:"task_id"`
	CurrentAssigneeCode  string `json:"current_assignee_code"`
	ProposedAssigneeCode string `json:"proposed_assignee_code"`
	RequiresDualApproval bool   `json:"requires_dual_approval"`
	Reason               string `json:"reason"`
}

type rejectChangeRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleChangeRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createChangeRequest(w, r)
	case http.MethodGet:
		a.listChangeRequests(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleChangeRequestResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/change-requests/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/approve"); ok {
		a.postOnly(w, r, func() { a.approveChangeRequest(w, r, strings.TrimSuffix(id, "/")) })
		return
	}
	if id, ok := strings.CutSuffix(path, "/reject"); ok {
		a.postOnly(w, r, func() { a.rejectChangeRequest(w, r, strings.TrimSuffix(id, "/")) })
		return
	}
	if id, ok := strings.CutSuffix(path, "/cancel"); ok {
		a.postOnly(w, r, func() { a.cancelChangeRequest(w, r, strings.TrimSuffix(id, "/")) })
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getChangeRequest(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) postOnly(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	fn()
}

func (a *API) createChangeRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req createChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.changes.Create(r.Context(), personnel.CreateRequest{
		TaskID:               req.TaskID,
		CurrentAssigneeCode:  req.CurrentAssigneeCode,
		ProposedAssigneeCode: req.ProposedAssigneeCode,
		RequiresDualApproval: req.RequiresDualApproval,
		Reason:               req.Reason,
		RequestedBy:          userID,
	})
	if err != nil {
		handleChangeRequestError(w, r, err)
		return
	}
	a.audit(r.Context(), "change_request.create", "change_request", created.ID, map[string]string{
		"task_id": created.TaskID,
	})
	w.Header().Set("Location", "/v1/change-requests/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getChangeRequest(w http.ResponseWriter, r *http.Request, id string) {
	got, err := a.changes.Get(r.Context(), id)
	if err != nil {
		handleChangeRequestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (a *API) approveChangeRequest(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	got, err := a.changes.Approve(r.Context(), id, userID)
	if err != nil {
		handleChangeRequestError(w, r, err)
		return
	}
	a.audit(r.Context(), "change_request.approve", "change_request", got.ID, map[string]string{
		"status": string(got.Status),
	})
	writeJSON(w, http.StatusOK, got)
}

func (a *API) rejectChangeRequest(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req rejectChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	got, err := a.changes.Reject(r.Context(), id, userID, req.Reason)
	if err != nil {
		handleChangeRequestError(w, r, err)
		return
	}
	a.audit(r.Context(), "change_request.reject", "change_request", got.ID, nil)
	writeJSON(w, http.StatusOK, got)
}

func (a *API) cancelChangeRequest(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	got, err := a.changes.Cancel(r.Context(), id, userID)
	if err != nil {
		handleChangeRequestError(w, r, err)
		return
	}
	a.audit(r.Context(), "change_request.cancel", "change_request", got.ID, nil)
	writeJSON(w, http.StatusOK, got)
}

func (a *API) listChangeRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var (
		items []*personnel.ChangeRequest
		err   error
	)
	switch view := r.URL.Query().Get("view"); view {
	case "", "pending":
		items, err = a.changes.PendingForUser(r.Context(), userID)
	case "resolved":
		items, err = a.changes.ResolvedForUser(r.Context(), userID)
	default:
		writeError(w, r, http.StatusBadRequest, "view must be pending or resolved")
		return
	}
	if err != nil {
		handleChangeRequestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func handleChangeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, personnel.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, personnel.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, personnel.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, personnel.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
