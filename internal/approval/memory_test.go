package approval

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the service tests. Mutate applies
// the closure to a deep copy and swaps it in on success, mirroring the
// transactional all-or-nothing contract of the SQL store.
type memStore struct {
	mu        sync.Mutex
	approvals map[string]*Approval
}

func newMemStore() *memStore {
	return &memStore{approvals: make(map[string]*Approval)}
}

func cloneApproval(a *Approval) *Approval {
	cp := *a
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Steps = make([]*Step, len(a.Steps))
	for i, s := range a.Steps {
		sc := *s
		if s.ApprovedAt != nil {
			t := *s.ApprovedAt
			sc.ApprovedAt = &t
		}
		cp.Steps[i] = &sc
	}
	return &cp
}

func (m *memStore) Create(ctx context.Context, a *Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.approvals {
		if existing.WorkflowType == a.WorkflowType &&
			existing.WorkflowID == a.WorkflowID &&
			existing.Status == StatusPending {
			_ = applyCancel(existing, time.Now().UTC())
		}
	}
	m.approvals[a.ID] = cloneApproval(a)
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneApproval(a), nil
}

func (m *memStore) Mutate(ctx context.Context, id string, fn func(*Approval) error) (*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := cloneApproval(a)
	if err := fn(work); err != nil {
		return nil, err
	}
	m.approvals[id] = work
	return cloneApproval(work), nil
}

func (m *memStore) ListPendingForUser(ctx context.Context, userID string) ([]*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Approval
	for _, a := range m.approvals {
		if a.Status != StatusPending {
			continue
		}
		if pendingActionableBy(a, userID) {
			out = append(out, cloneApproval(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func pendingActionableBy(a *Approval, userID string) bool {
	if a.RequiresAllSteps {
		current := deriveCurrentStep(a)
		for _, s := range a.Steps {
			if s.ID == current && s.AssignedTo == userID {
				return true
			}
		}
		return false
	}
	for _, s := range a.Steps {
		if s.Status == StepPending && s.AssignedTo == userID {
			return true
		}
	}
	return false
}

func (m *memStore) ListCompletedForUser(ctx context.Context, userID string) ([]*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Approval
	for _, a := range m.approvals {
		if a.Status == StatusPending {
			continue
		}
		for _, s := range a.Steps {
			if s.AssignedTo == userID {
				out = append(out, cloneApproval(a))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		var ti, tj time.Time
		if out[i].CompletedAt != nil {
			ti = *out[i].CompletedAt
		}
		if out[j].CompletedAt != nil {
			tj = *out[j].CompletedAt
		}
		return ti.After(tj)
	})
	return out, nil
}
