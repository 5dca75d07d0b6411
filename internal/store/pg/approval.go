package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"practica.org/internal/approval"
)

// ApprovalStore persists generic approvals and their steps.
type ApprovalStore struct {
	db *sql.DB
}

var _ approval.Store = (*ApprovalStore)(nil)

// CreateApproval note: supersede and insert run in one transaction so a
// crash can never leave two live approvals for the same workflow subject.
func (s *ApprovalStore) Create(ctx context.Context, a *approval.Approval) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update approvals
		set status = 'CANCELLED', completed_at = now(), updated_at = now()
		where workflow_type = $1 and workflow_id = $2 and status = 'PENDING'
	`, a.WorkflowType, a.WorkflowID); err != nil {
		return fmt.Errorf("supersede: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into approvals
			(id, workflow_type, workflow_id, status, requires_all_steps,
			 current_step_id, requested_by, title, context, created_at, updated_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7,$8,$9,$10,$11)
	`, a.ID, a.WorkflowType, a.WorkflowID, a.Status, a.RequiresAllSteps,
		a.CurrentStepID, a.RequestedBy, a.Title, a.Context, a.CreatedAt, a.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return approval.ErrConflict
		}
		return err
	}

	for _, st := range a.Steps {
		if _, err := tx.ExecContext(ctx, `
			insert into approval_steps
				(id, approval_id, step_order, assigned_to, status, is_required)
			values ($1,$2,$3,$4,$5,$6)
		`, st.ID, a.ID, st.StepOrder, st.AssignedTo, st.Status, st.IsRequired); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return approval.ErrInvalidInput
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (*approval.Approval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx, `
		select id, workflow_type, workflow_id, status, requires_all_steps,
		       coalesce(current_step_id,''), requested_by, title, context,
		       created_at, updated_at, completed_at
		from approvals where id = $1
	`, id))
	if err != nil {
		return nil, err
	}
	a.Steps, err = s.loadSteps(ctx, s.db, a.ID)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ApprovalStore) Mutate(ctx context.Context, id string, fn func(*approval.Approval) error) (*approval.Approval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanApproval(tx.QueryRowContext(ctx, `
		select id, workflow_type, workflow_id, status, requires_all_steps,
		       coalesce(current_step_id,''), requested_by, title, context,
		       created_at, updated_at, completed_at
		from approvals where id = $1
		for update
	`, id))
	if err != nil {
		return nil, err
	}
	a.Steps, err = s.loadSteps(ctx, tx, a.ID)
	if err != nil {
		return nil, err
	}

	if err := fn(a); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		update approvals
		set status = $2, current_step_id = nullif($3,''), updated_at = $4, completed_at = $5
		where id = $1
	`, a.ID, a.Status, a.CurrentStepID, a.UpdatedAt, nullIfZero(a.CompletedAt)); err != nil {
		return nil, err
	}
	for _, st := range a.Steps {
		if _, err := tx.ExecContext(ctx, `
			update approval_steps
			set status = $2, approved_at = $3, comment = $4
			where id = $1
		`, st.ID, st.Status, nullIfZero(st.ApprovedAt), st.Comment); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ApprovalStore) ListPendingForUser(ctx context.Context, userID string) ([]*approval.Approval, error) {
	return s.listApprovals(ctx, `
		select distinct a.id, a.workflow_type, a.workflow_id, a.status, a.requires_all_steps,
		       coalesce(a.current_step_id,''), a.requested_by, a.title, a.context,
		       a.created_at, a.updated_at, a.completed_at
		from approvals a
		join approval_steps st on st.approval_id = a.id
		where a.status = 'PENDING'
		  and st.assigned_to = $1
		  and st.status = 'PENDING'
		  and (not a.requires_all_steps or st.id = a.current_step_id)
		order by a.created_at asc
	`, userID)
}

func (s *ApprovalStore) ListCompletedForUser(ctx context.Context, userID string) ([]*approval.Approval, error) {
	return s.listApprovals(ctx, `
		select distinct a.id, a.workflow_type, a.workflow_id, a.status, a.requires_all_steps,
		       coalesce(a.current_step_id,''), a.requested_by, a.title, a.context,
		       a.created_at, a.updated_at, a.completed_at
		from approvals a
		join approval_steps st on st.approval_id = a.id
		where a.status <> 'PENDING' and st.assigned_to = $1
		order by a.completed_at desc
	`, userID)
}

func (s *ApprovalStore) listApprovals(ctx context.Context, query, userID string) ([]*approval.Approval, error) {
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, a := range result {
		if a.Steps, err = s.loadSteps(ctx, s.db, a.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *ApprovalStore) loadSteps(ctx context.Context, q querier, approvalID string) ([]*approval.Step, error) {
	rows, err := q.QueryContext(ctx, `
		select id, approval_id, step_order, assigned_to, status, is_required,
		       approved_at, coalesce(comment,'')
		from approval_steps
		where approval_id = $1
		order by step_order asc
	`, approvalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*approval.Step
	for rows.Next() {
		st := &approval.Step{}
		var approvedAt sql.NullTime
		if err := rows.Scan(&st.ID, &st.ApprovalID, &st.StepOrder, &st.AssignedTo,
			&st.Status, &st.IsRequired, &approvedAt, &st.Comment); err != nil {
			return nil, err
		}
		st.ApprovedAt = timePtr(approvedAt)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*approval.Approval, error) {
	a := &approval.Approval{}
	var completedAt sql.NullTime
	err := row.Scan(&a.ID, &a.WorkflowType, &a.WorkflowID, &a.Status, &a.RequiresAllSteps,
		&a.CurrentStepID, &a.RequestedBy, &a.Title, &a.Context,
		&a.CreatedAt, &a.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CompletedAt = timePtr(completedAt)
	return a, nil
}
