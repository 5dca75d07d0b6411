package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"practica.org/internal/approval"
	"practica.org/internal/auth"
	"practica.org/internal/authz"
	"practica.org/internal/feed"
	"practica.org/internal/personnel"
	"practica.org/internal/review"
)

// --- in-memory stores ---

type approvalStore struct {
	byID map[string]*approval.Approval
}

func newApprovalStore() *approvalStore {
	return &approvalStore{byID: make(map[string]*approval.Approval)}
}

func (s *approvalStore) Create(_ context.Context, a *approval.Approval) error {
	for _, existing := range s.byID {
		if existing.WorkflowType == a.WorkflowType && existing.WorkflowID == a.WorkflowID &&
			existing.Status == approval.StatusPending {
			existing.Status = approval.StatusCancelled
		}
	}
	s.byID[a.ID] = a
	return nil
}

func (s *approvalStore) Get(_ context.Context, id string) (*approval.Approval, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, approval.ErrNotFound
	}
	return a, nil
}

func (s *approvalStore) Mutate(ctx context.Context, id string, fn func(*approval.Approval) error) (*approval.Approval, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *approvalStore) ListPendingForUser(_ context.Context, userID string) ([]*approval.Approval, error) {
	var out []*approval.Approval
	for _, a := range s.byID {
		if a.Status != approval.StatusPending {
			continue
		}
		for _, st := range a.Steps {
			if st.AssignedTo != userID || st.Status != approval.StepPending {
				continue
			}
			if !a.RequiresAllSteps || st.ID == a.CurrentStepID {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *approvalStore) ListCompletedForUser(_ context.Context, userID string) ([]*approval.Approval, error) {
	var out []*approval.Approval
	for _, a := range s.byID {
		if a.Status == approval.StatusPending {
			continue
		}
		for _, st := range a.Steps {
			if st.AssignedTo == userID {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

type changeStore struct {
	byID map[string]*personnel.ChangeRequest
}

func newChangeStore() *changeStore {
	return &changeStore{byID: make(map[string]*personnel.ChangeRequest)}
}

func (s *changeStore) Create(_ context.Context, cr *personnel.ChangeRequest) error {
	s.byID[cr.ID] = cr
	return nil
}

func (s *changeStore) Get(_ context.Context, id string) (*personnel.ChangeRequest, error) {
	cr, ok := s.byID[id]
	if !ok {
		return nil, personnel.ErrNotFound
	}
	return cr, nil
}

func (s *changeStore) Mutate(ctx context.Context, id string, fn func(*personnel.ChangeRequest) error) (*personnel.ChangeRequest, error) {
	cr, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(cr); err != nil {
		return nil, err
	}
	return cr, nil
}

func (s *changeStore) ListPendingForUser(_ context.Context, userCode string) ([]*personnel.ChangeRequest, error) {
	var out []*personnel.ChangeRequest
	for _, cr := range s.byID {
		if cr.Status == personnel.StatusPending && personnel.AwaitsUser(cr, userCode) {
			out = append(out, cr)
		}
	}
	return out, nil
}

func (s *changeStore) ListResolvedForUser(_ context.Context, userCode string) ([]*personnel.ChangeRequest, error) {
	var out []*personnel.ChangeRequest
	for _, cr := range s.byID {
		if cr.Status != personnel.StatusPending &&
			(cr.CurrentAssigneeCode == userCode || cr.ProposedAssigneeCode == userCode) {
			out = append(out, cr)
		}
	}
	return out, nil
}

type noteStore struct {
	byID map[string]*review.Note
}

func newNoteStore() *noteStore {
	return &noteStore{byID: make(map[string]*review.Note)}
}

func (s *noteStore) Create(_ context.Context, n *review.Note) error {
	s.byID[n.ID] = n
	return nil
}

func (s *noteStore) Get(_ context.Context, id string) (*review.Note, error) {
	n, ok := s.byID[id]
	if !ok {
		return nil, review.ErrNotFound
	}
	return n, nil
}

func (s *noteStore) Mutate(ctx context.Context, id string, fn func(*review.Note) error) (*review.Note, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *noteStore) ListForUser(_ context.Context, userID string, archived bool) ([]*review.Note, error) {
	var out []*review.Note
	for _, n := range s.byID {
		if n.Status.Terminal() != archived {
			continue
		}
		if review.VisibleTo(n, userID) {
			out = append(out, n)
		}
	}
	return out, nil
}

type emptyAcceptances struct{}

func (emptyAcceptances) ListUnreviewed(context.Context) ([]feed.Acceptance, error) {
	return nil, nil
}

func (emptyAcceptances) ListReviewedBy(context.Context, string) ([]feed.Acceptance, error) {
	return nil, nil
}

type staticDirectory map[string]authz.User

func (d staticDirectory) GetUser(_ context.Context, id string) (authz.User, error) {
	u, ok := d[id]
	if !ok {
		return authz.User{}, authz.ErrNotFound
	}
	return u, nil
}

func (d staticDirectory) GetLineRole(context.Context, string, string) (authz.Role, error) {
	return "", authz.ErrNotFound
}

func (d staticDirectory) GetTaskMembership(_ context.Context, userID, _ string) (authz.TaskMembership, error) {
	if userID == "mike" {
		return authz.TaskMembership{UserID: userID, TaskID: "task-1", Role: authz.RoleManager}, nil
	}
	return authz.TaskMembership{}, authz.ErrNotFound
}

func (d staticDirectory) ResolveLineForTask(context.Context, string) (string, error) {
	return "", authz.ErrNotFound
}

// --- harness ---

func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("PRACTICA_AUTH_SECRET", "test-secret-please-rotate")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	approvals, err := approval.NewService(newApprovalStore())
	if err != nil {
		t.Fatalf("approval.NewService: %v", err)
	}
	changes, err := personnel.NewService(newChangeStore())
	if err != nil {
		t.Fatalf("personnel.NewService: %v", err)
	}
	notes, err := review.NewService(newNoteStore())
	if err != nil {
		t.Fatalf("review.NewService: %v", err)
	}
	dir := staticDirectory{
		"root": {ID: "root", SystemRole: "system_admin"},
		"mike": {ID: "mike", SystemRole: "user"},
		"vera": {ID: "vera", SystemRole: "user"},
	}
	resolver, err := authz.NewResolver(dir)
	if err != nil {
		t.Fatalf("authz.NewResolver: %v", err)
	}
	agg := feed.NewAggregator(approvals, changes, notes, emptyAcceptances{}, resolver)

	return New(Config{
		Version:   "test",
		Approvals: approvals,
		Changes:   changes,
		Notes:     notes,
		Resolver:  resolver,
		Feed:      agg,
	})
}

func bearerFor(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return "Bearer " + token
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- tests ---

func TestHealthzIsPublic(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/v1/feed", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	rec = doJSON(t, api.Handler(), http.MethodGet, "/v1/feed", "Bearer garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad token", rec.Code)
	}
}

func TestApprovalLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	requester := bearerFor(t, "requester", "user")
	mike := bearerFor(t, "mike", "user")
	vera := bearerFor(t, "vera", "user")

	rec := doJSON(t, h, http.MethodPost, "/v1/approvals", requester, map[string]any{
		"workflow_type":      "document-publication",
		"workflow_id":        "doc-7",
		"title":              "Publish report",
		"requires_all_steps": true,
		"steps": []map[string]any{
			{"assigned_to": "mike", "step_order": 1, "is_required": true},
			{"assigned_to": "vera", "step_order": 2, "is_required": true},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID    string `json:"ID"`
		Steps []struct {
			ID         string `json:"ID"`
			AssignedTo string `json:"AssignedTo"`
		} `json:"Steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if len(created.Steps) != 2 {
		t.Fatalf("steps = %+v", created.Steps)
	}

	// vera holds step 2; acting before mike is a conflict
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/approvals/%s/decisions", created.ID), vera, map[string]any{
		"step_id":  created.Steps[1].ID,
		"decision": "APPROVE",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("out-of-order decision status = %d, body %s", rec.Code, rec.Body.String())
	}

	// mike approving his own step on the current position succeeds
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/approvals/%s/decisions", created.ID), mike, map[string]any{
		"step_id":  created.Steps[0].ID,
		"decision": "APPROVE",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decision status = %d, body %s", rec.Code, rec.Body.String())
	}

	// vera acting on mike's already-approved step is forbidden or conflict,
	// her own step now works
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/approvals/%s/decisions", created.ID), vera, map[string]any{
		"step_id":  created.Steps[1].ID,
		"decision": "APPROVE",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("final decision status = %d, body %s", rec.Code, rec.Body.String())
	}
	var final struct {
		Status string `json:"Status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &final); err != nil {
		t.Fatalf("decode final: %v", err)
	}
	if final.Status != "APPROVED" {
		t.Fatalf("final status = %s, want APPROVED", final.Status)
	}
}

func TestDecisionByWrongUserIsForbidden(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	requester := bearerFor(t, "requester", "user")
	vera := bearerFor(t, "vera", "user")

	rec := doJSON(t, h, http.MethodPost, "/v1/approvals", requester, map[string]any{
		"workflow_type":      "engagement-letter",
		"workflow_id":        "task-9",
		"requires_all_steps": true,
		"steps": []map[string]any{
			{"assigned_to": "mike", "step_order": 1, "is_required": true},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		ID    string `json:"ID"`
		Steps []struct {
			ID string `json:"ID"`
		} `json:"Steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/approvals/%s/decisions", created.ID), vera, map[string]any{
		"step_id":  created.Steps[0].ID,
		"decision": "REJECT",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body %s", rec.Code, rec.Body.String())
	}
}

func TestNotFoundBodyIsGeneric(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	requester := bearerFor(t, "requester", "user")
	mike := bearerFor(t, "mike", "user")

	rec := doJSON(t, h, http.MethodPost, "/v1/approvals", requester, map[string]any{
		"workflow_type":      "engagement-letter",
		"workflow_id":        "task-11",
		"requires_all_steps": true,
		"steps": []map[string]any{
			{"assigned_to": "mike", "step_order": 1, "is_required": true},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// A decision naming a foreign step must not echo which approval or step
	// was involved; an unauthorized caller could otherwise enumerate ids.
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/approvals/%s/decisions", created.ID), mike, map[string]any{
		"step_id":  "01HSOMEOTHERSTEPXXXXXXXXXX",
		"decision": "APPROVE",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "resource not found" {
		t.Fatalf("error = %q, want the generic message", body.Error)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/approvals/01HNOSUCHAPPROVALXXXXXXXXX", mike, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "resource not found" {
		t.Fatalf("get error = %q, want the generic message", body.Error)
	}
}

func TestChangeRequestFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	requester := bearerFor(t, "requester", "user")
	mike := bearerFor(t, "mike", "user")

	rec := doJSON(t, h, http.MethodPost, "/v1/change-requests", requester, map[string]any{
		"task_id":                "task-1",
		"current_assignee_code":  "vera",
		"proposed_assignee_code": "mike",
		"requires_dual_approval": false,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/change-requests?view=pending", mike, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/change-requests/"+created.ID+"/approve", mike, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %s", rec.Code, rec.Body.String())
	}
	var after struct {
		Status string `json:"Status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if after.Status != "APPROVED" {
		t.Fatalf("status = %s, want APPROVED", after.Status)
	}

	// second approval is a conflict
	rec = doJSON(t, h, http.MethodPost, "/v1/change-requests/"+created.ID+"/approve", mike, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay status = %d, want 409", rec.Code)
	}
}

func TestReviewNoteForwardOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	raiser := bearerFor(t, "raiser", "user")
	mike := bearerFor(t, "mike", "user")

	rec := doJSON(t, h, http.MethodPost, "/v1/review-notes", raiser, map[string]any{
		"task_id":   "task-1",
		"title":     "Check depreciation schedule",
		"assignees": []string{"mike"},
		"priority":  2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/review-notes/"+created.ID+"/forward", mike, map[string]any{
		"to_user_id": "vera",
		"reason":     "vera prepared the schedule",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("forward status = %d, body %s", rec.Code, rec.Body.String())
	}

	// outsiders cannot read the note
	outsider := bearerFor(t, "stranger", "user")
	rec = doJSON(t, h, http.MethodGet, "/v1/review-notes/"+created.ID, outsider, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider read status = %d, want 403", rec.Code)
	}
}

func TestFeedOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	requester := bearerFor(t, "requester", "user")
	mike := bearerFor(t, "mike", "user")

	rec := doJSON(t, h, http.MethodPost, "/v1/approvals", requester, map[string]any{
		"workflow_type":      "document-publication",
		"workflow_id":        "doc-1",
		"requires_all_steps": true,
		"steps": []map[string]any{
			{"assigned_to": "mike", "step_order": 1, "is_required": true},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/feed", mike, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("feed status = %d, body %s", rec.Code, rec.Body.String())
	}
	var f struct {
		TotalCount int `json:"totalCount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &f); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if f.TotalCount != 1 {
		t.Fatalf("totalCount = %d, want 1", f.TotalCount)
	}
}

func TestAccessCheck(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	mike := bearerFor(t, "mike", "user")
	root := bearerFor(t, "root", "system_admin")

	rec := doJSON(t, h, http.MethodGet, "/v1/access/check?task_id=task-1", mike, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res accessCheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.CanAccess || res.AccessType != "TASK_MEMBER" {
		t.Fatalf("resolution = %+v", res)
	}

	// asking about someone else requires system_admin
	rec = doJSON(t, h, http.MethodGet, "/v1/access/check?task_id=task-1&user_id=vera", mike, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/access/check?task_id=task-1&user_id=vera", root, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin lookup status = %d", rec.Code)
	}
}
