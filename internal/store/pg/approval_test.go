package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"practica.org/internal/approval"
)

var storeBase = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func approvalColumns() []string {
	return []string{
		"id", "workflow_type", "workflow_id", "status", "requires_all_steps",
		"current_step_id", "requested_by", "title", "context",
		"created_at", "updated_at", "completed_at",
	}
}

func stepColumns() []string {
	return []string{
		"id", "approval_id", "step_order", "assigned_to", "status", "is_required",
		"approved_at", "comment",
	}
}

func TestCreateSupersedesInOneTransaction(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("update approvals").
		WithArgs("document-publication", "doc-7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into approvals").
		WithArgs("ap-2", "document-publication", "doc-7", "PENDING", true,
			"st-1", "requester", "Publish v2", "", storeBase, storeBase).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into approval_steps").
		WithArgs("st-1", "ap-2", 1, "paula", "PENDING", true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.Approvals().Create(context.Background(), &approval.Approval{
		ID:               "ap-2",
		WorkflowType:     "document-publication",
		WorkflowID:       "doc-7",
		Status:           approval.StatusPending,
		RequiresAllSteps: true,
		CurrentStepID:    "st-1",
		RequestedBy:      "requester",
		Title:            "Publish v2",
		CreatedAt:        storeBase,
		UpdatedAt:        storeBase,
		Steps: []*approval.Step{
			{ID: "st-1", ApprovalID: "ap-2", StepOrder: 1, AssignedTo: "paula",
				Status: approval.StepPending, IsRequired: true},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMutateLocksRowAndPersistsResult(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from approvals where id = .+ for update").
		WithArgs("ap-1").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).
			AddRow("ap-1", "document-publication", "doc-7", "PENDING", true,
				"st-1", "requester", "Publish", "", storeBase, storeBase, nil))
	mock.ExpectQuery("select (.+) from approval_steps").
		WithArgs("ap-1").
		WillReturnRows(sqlmock.NewRows(stepColumns()).
			AddRow("st-1", "ap-1", 1, "paula", "PENDING", true, nil, ""))
	mock.ExpectExec("update approvals").
		WithArgs("ap-1", "APPROVED", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update approval_steps").
		WithArgs("st-1", "APPROVED", sqlmock.AnyArg(), "ok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := store.Approvals().Mutate(context.Background(), "ap-1", func(a *approval.Approval) error {
		now := storeBase.Add(time.Hour)
		a.Steps[0].Status = approval.StepApproved
		a.Steps[0].ApprovedAt = &now
		a.Steps[0].Comment = "ok"
		a.Status = approval.StatusApproved
		a.CurrentStepID = ""
		a.UpdatedAt = now
		a.CompletedAt = &now
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if got.Status != approval.StatusApproved {
		t.Fatalf("status = %s", got.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMutateRollsBackOnFnError(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from approvals where id = .+ for update").
		WithArgs("ap-1").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).
			AddRow("ap-1", "document-publication", "doc-7", "APPROVED", true,
				"", "requester", "Publish", "", storeBase, storeBase, storeBase))
	mock.ExpectQuery("select (.+) from approval_steps").
		WithArgs("ap-1").
		WillReturnRows(sqlmock.NewRows(stepColumns()))
	mock.ExpectRollback()

	_, err := store.Approvals().Mutate(context.Background(), "ap-1", func(a *approval.Approval) error {
		return approval.ErrConflict
	})
	if !errors.Is(err, approval.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMutateMissingApproval(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from approvals where id = .+ for update").
		WithArgs("ap-404").
		WillReturnRows(sqlmock.NewRows(approvalColumns()))
	mock.ExpectRollback()

	_, err := store.Approvals().Mutate(context.Background(), "ap-404", func(a *approval.Approval) error {
		t.Fatal("fn must not run for a missing approval")
		return nil
	})
	if !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListPendingForUserScansSteps(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select distinct (.+) from approvals a").
		WithArgs("paula").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).
			AddRow("ap-1", "document-publication", "doc-7", "PENDING", true,
				"st-1", "requester", "Publish", "", storeBase, storeBase, nil))
	mock.ExpectQuery("select (.+) from approval_steps").
		WithArgs("ap-1").
		WillReturnRows(sqlmock.NewRows(stepColumns()).
			AddRow("st-1", "ap-1", 1, "paula", "PENDING", true, nil, "").
			AddRow("st-2", "ap-1", 2, "mike", "PENDING", false, nil, ""))

	list, err := store.Approvals().ListPendingForUser(context.Background(), "paula")
	if err != nil {
		t.Fatalf("ListPendingForUser: %v", err)
	}
	if len(list) != 1 || len(list[0].Steps) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Steps[0].StepOrder != 1 || list[0].Steps[1].StepOrder != 2 {
		t.Fatalf("steps out of order: %+v", list[0].Steps)
	}
}
