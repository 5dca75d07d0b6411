package pg

import (
	"context"
	"database/sql"
	"errors"

	"practica.org/internal/personnel"
)

// ChangeRequestStore persists staff change requests. Both approval slots
// live on one row, so dual-approval reads and writes are naturally atomic
// under the row lock taken by Mutate.
type ChangeRequestStore struct {
	db *sql.DB
}

var _ personnel.Store = (*ChangeRequestStore)(nil)

const changeRequestColumns = `
	id, task_id, current_assignee_code, proposed_assignee_code,
	requires_dual_approval, status, coalesce(reason,''), requested_by,
	current_approved_at, coalesce(current_approved_by,''),
	proposed_approved_at, coalesce(proposed_approved_by,''),
	coalesce(rejected_by,''), coalesce(rejection_reason,''),
	created_at, updated_at, resolved_at`

func (s *ChangeRequestStore) Create(ctx context.Context, cr *personnel.ChangeRequest) error {
	_, err := s.db.ExecContext(ctx, `
		insert into change_requests
			(id, task_id, current_assignee_code, proposed_assignee_code,
			 requires_dual_approval, status, reason, requested_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8,$9,$10)
	`, cr.ID, cr.TaskID, cr.CurrentAssigneeCode, cr.ProposedAssigneeCode,
		cr.RequiresDualApproval, cr.Status, cr.Reason, cr.RequestedBy, cr.CreatedAt, cr.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return personnel.ErrConflict
		case pgErrForeignKeyViolation:
			return personnel.ErrInvalidInput
		}
	}
	return err
}

func (s *ChangeRequestStore) Get(ctx context.Context, id string) (*personnel.ChangeRequest, error) {
	return scanChangeRequest(s.db.QueryRowContext(ctx,
		`select `+changeRequestColumns+` from change_requests where id = $1`, id))
}

func (s *ChangeRequestStore) Mutate(ctx context.Context, id string, fn func(*personnel.ChangeRequest) error) (*personnel.ChangeRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cr, err := scanChangeRequest(tx.QueryRowContext(ctx,
		`select `+changeRequestColumns+` from change_requests where id = $1 for update`, id))
	if err != nil {
		return nil, err
	}
	if err := fn(cr); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		update change_requests
		set status = $2,
		    current_approved_at = $3, current_approved_by = nullif($4,''),
		    proposed_approved_at = $5, proposed_approved_by = nullif($6,''),
		    rejected_by = nullif($7,''), rejection_reason = nullif($8,''),
		    updated_at = $9, resolved_at = $10
		where id = $1
	`, cr.ID, cr.Status,
		nullIfZero(cr.CurrentApprovedAt), cr.CurrentApprovedBy,
		nullIfZero(cr.ProposedApprovedAt), cr.ProposedApprovedBy,
		cr.RejectedBy, cr.RejectionReason,
		cr.UpdatedAt, nullIfZero(cr.ResolvedAt)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cr, nil
}

func (s *ChangeRequestStore) ListPendingForUser(ctx context.Context, userCode string) ([]*personnel.ChangeRequest, error) {
	return s.list(ctx, `
		select `+changeRequestColumns+`
		from change_requests
		where status = 'PENDING'
		  and ((proposed_assignee_code = $1 and proposed_approved_at is null)
		    or (requires_dual_approval and current_assignee_code = $1 and current_approved_at is null))
		order by created_at asc
	`, userCode)
}

func (s *ChangeRequestStore) ListResolvedForUser(ctx context.Context, userCode string) ([]*personnel.ChangeRequest, error) {
	return s.list(ctx, `
		select `+changeRequestColumns+`
		from change_requests
		where status <> 'PENDING'
		  and (current_assignee_code = $1 or proposed_assignee_code = $1)
		order by resolved_at desc
	`, userCode)
}

func (s *ChangeRequestStore) list(ctx context.Context, query, userCode string) ([]*personnel.ChangeRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, userCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*personnel.ChangeRequest
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cr)
	}
	return result, rows.Err()
}

func scanChangeRequest(row rowScanner) (*personnel.ChangeRequest, error) {
	cr := &personnel.ChangeRequest{}
	var curAt, propAt, resolvedAt sql.NullTime
	err := row.Scan(&cr.ID, &cr.TaskID, &cr.CurrentAssigneeCode, &cr.ProposedAssigneeCode,
		&cr.RequiresDualApproval, &cr.Status, &cr.Reason, &cr.RequestedBy,
		&curAt, &cr.CurrentApprovedBy,
		&propAt, &cr.ProposedApprovedBy,
		&cr.RejectedBy, &cr.RejectionReason,
		&cr.CreatedAt, &cr.UpdatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, personnel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cr.CurrentApprovedAt = timePtr(curAt)
	cr.ProposedApprovedAt = timePtr(propAt)
	cr.ResolvedAt = timePtr(resolvedAt)
	return cr, nil
}
