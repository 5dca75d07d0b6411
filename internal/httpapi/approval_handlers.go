package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"practica.org/internal/approval"
)

type stepSpecRequest struct {
	AssignedTo string `json:"assigned_to"`
	StepOrder  int    `json:"step_order"`
	IsRequired bool   `json:"is_required"`
}

type createApprovalRequest struct {
	WorkflowType     string            `json:"workflow_type"`
	WorkflowID       string            `json:"workflow_id"`
	Title            string            `json:"title"`
	Context          string            `json:"context"`
	RequiresAllSteps bool              `json:"requires_all_steps"`
	Steps            []stepSpecRequest `json:"steps"`
}

type decisionRequest struct {
	StepID   string `json:"step_id"`
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

func (a *API) handleApprovalsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createApproval(w, r)
	case http.MethodGet:
		a.listApprovals(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleApprovalResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/approvals/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/decisions"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.decideApproval(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if id, ok := strings.CutSuffix(path, "/cancel"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.cancelApproval(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getApproval(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createApproval(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req createApprovalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	specs := make([]approval.StepSpec, 0, len(req.Steps))
	for _, s := range req.Steps {
		specs = append(specs, approval.StepSpec{
			AssignedTo: s.AssignedTo,
			StepOrder:  s.StepOrder,
			IsRequired: s.IsRequired,
		})
	}
	created, err := a.approvals.Create(r.Context(), approval.CreateRequest{
		WorkflowType:     req.WorkflowType,
		WorkflowID:       req.WorkflowID,
		Title:            req.Title,
		Context:          req.Context,
		RequestedBy:      userID,
		RequiresAllSteps: req.RequiresAllSteps,
		Steps:            specs,
	})
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}
	a.audit(r.Context(), "approval.create", "approval", created.ID, map[string]string{
		"workflow_type": created.WorkflowType,
		"workflow_id":   created.WorkflowID,
	})
	w.Header().Set("Location", "/v1/approvals/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getApproval(w http.ResponseWriter, r *http.Request, id string) {
	got, err := a.approvals.Get(r.Context(), id)
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (a *API) decideApproval(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decision := approval.Decision(strings.ToUpper(strings.TrimSpace(req.Decision)))
	if decision != approval.DecisionApprove && decision != approval.DecisionReject {
		writeError(w, r, http.StatusBadRequest, "decision must be APPROVE or REJECT")
		return
	}
	got, err := a.approvals.Decide(r.Context(), id, req.StepID, userID, decision, req.Comment)
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (a *API) cancelApproval(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	got, err := a.approvals.Cancel(r.Context(), id, userID)
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}
	a.audit(r.Context(), "approval.cancel", "approval", got.ID, nil)
	writeJSON(w, http.StatusOK, got)
}

func (a *API) listApprovals(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var (
		items []*approval.Approval
		err   error
	)
	switch view := r.URL.Query().Get("view"); view {
	case "", "pending":
		items, err = a.approvals.PendingForUser(r.Context(), userID)
	case "completed":
		items, err = a.approvals.CompletedForUser(r.Context(), userID)
	default:
		writeError(w, r, http.StatusBadRequest, "view must be pending or completed")
		return
	}
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func handleApprovalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, approval.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, approval.ErrInvariant):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, approval.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, approval.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
