package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"practica.org/internal/auth"
	"practica.org/internal/authz"
)

func (a *API) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	archived := r.URL.Query().Get("view") == "archived"
	f, err := a.feed.FeedFor(r.Context(), userID, archived)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type accessCheckResponse struct {
	CanAccess  bool   `json:"can_access"`
	AccessType string `json:"access_type"`
	TaskRole   string `json:"task_role,omitempty"`
	LineRole   string `json:"line_role,omitempty"`
	LineID     string `json:"line_id,omitempty"`
}

// handleAccessCheck answers "how may this user act on this task". Callers
// check their own access; only system administrators may ask about others.
func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	callerID, ok := caller(w, r)
	if !ok {
		return
	}
	taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
	if taskID == "" {
		writeError(w, r, http.StatusBadRequest, "task_id query parameter is required")
		return
	}
	subjectID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if subjectID == "" {
		subjectID = callerID
	}
	if subjectID != callerID && !auth.IsSystemAdmin(r.Context()) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	res, err := a.resolver.Resolve(r.Context(), subjectID, taskID)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "resource not found")
		case errors.Is(err, authz.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, accessCheckResponse{
		CanAccess:  res.CanAccess,
		AccessType: string(res.AccessType),
		TaskRole:   string(res.TaskRole),
		LineRole:   string(res.LineRole),
		LineID:     res.LineID,
	})
}
