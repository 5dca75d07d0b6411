package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"practica.org/internal/review"
)

// ReviewNoteStore persists review notes with their assignee join rows and
// comment threads.
type ReviewNoteStore struct {
	db *sql.DB
}

var _ review.Store = (*ReviewNoteStore)(nil)

const noteColumns = `
	id, task_id, title, coalesce(body,''), status, raised_by,
	current_owner, assigned_to, priority, due_date,
	created_at, updated_at, resolved_at`

func (s *ReviewNoteStore) Create(ctx context.Context, n *review.Note) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into review_notes
			(id, task_id, title, body, status, raised_by, current_owner,
			 assigned_to, priority, due_date, created_at, updated_at)
		values ($1,$2,$3,nullif($4,''),$5,$6,$7,$8,$9,$10,$11,$12)
	`, n.ID, n.TaskID, n.Title, n.Body, n.Status, n.RaisedBy, n.CurrentOwner,
		n.AssignedTo, n.Priority, nullIfZero(n.DueDate), n.CreatedAt, n.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return review.ErrInvalidInput
		}
		return err
	}
	for _, a := range n.Assignees {
		if err := insertAssignee(ctx, tx, a); err != nil {
			return err
		}
	}
	for _, c := range n.Comments {
		if err := insertComment(ctx, tx, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *ReviewNoteStore) Get(ctx context.Context, id string) (*review.Note, error) {
	n, err := scanNote(s.db.QueryRowContext(ctx,
		`select `+noteColumns+` from review_notes where id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, s.db, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Mutate rewrites assignee and comment children by diffing on id: new rows
// are inserted, vanished assignee rows deleted. Comments are append-only.
func (s *ReviewNoteStore) Mutate(ctx context.Context, id string, fn func(*review.Note) error) (*review.Note, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := scanNote(tx.QueryRowContext(ctx,
		`select `+noteColumns+` from review_notes where id = $1 for update`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, tx, n); err != nil {
		return nil, err
	}

	before := make(map[string]bool, len(n.Assignees))
	for _, a := range n.Assignees {
		before[a.ID] = true
	}
	knownComments := make(map[string]bool, len(n.Comments))
	for _, c := range n.Comments {
		knownComments[c.ID] = true
	}

	if err := fn(n); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		update review_notes
		set status = $2, current_owner = $3, assigned_to = $4, priority = $5,
		    due_date = $6, updated_at = $7, resolved_at = $8
		where id = $1
	`, n.ID, n.Status, n.CurrentOwner, n.AssignedTo, n.Priority,
		nullIfZero(n.DueDate), n.UpdatedAt, nullIfZero(n.ResolvedAt)); err != nil {
		return nil, err
	}

	after := make(map[string]bool, len(n.Assignees))
	for _, a := range n.Assignees {
		after[a.ID] = true
		if !before[a.ID] {
			if err := insertAssignee(ctx, tx, a); err != nil {
				return nil, err
			}
		}
	}
	for aid := range before {
		if !after[aid] {
			if _, err := tx.ExecContext(ctx,
				`delete from review_note_assignees where id = $1`, aid); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range n.Comments {
		if !knownComments[c.ID] {
			if err := insertComment(ctx, tx, c); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *ReviewNoteStore) ListForUser(ctx context.Context, userID string, archived bool) ([]*review.Note, error) {
	statusClause := `n.status not in ('CLEARED','REJECTED')`
	orderClause := `order by n.priority desc, n.due_date asc nulls last, n.created_at asc`
	if archived {
		statusClause = `n.status in ('CLEARED','REJECTED')`
		orderClause = `order by n.resolved_at desc`
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select distinct n.id, n.task_id, n.title, coalesce(n.body,''), n.status, n.raised_by,
		       n.current_owner, n.assigned_to, n.priority, n.due_date,
		       n.created_at, n.updated_at, n.resolved_at
		from review_notes n
		left join review_note_assignees a on a.note_id = n.id
		where %s and (a.user_id = $1 or n.raised_by = $1 or n.current_owner = $1)
		%s
	`, statusClause, orderClause), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*review.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, n := range result {
		if err := s.loadChildren(ctx, s.db, n); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *ReviewNoteStore) loadChildren(ctx context.Context, q querier, n *review.Note) error {
	rows, err := q.QueryContext(ctx, `
		select id, note_id, user_id, assigned_at, assigned_by, is_forwarded
		from review_note_assignees
		where note_id = $1
		order by assigned_at asc
	`, n.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		a := &review.Assignee{}
		if err := rows.Scan(&a.ID, &a.NoteID, &a.UserID, &a.AssignedAt, &a.AssignedBy, &a.IsForwarded); err != nil {
			return err
		}
		n.Assignees = append(n.Assignees, a)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	crows, err := q.QueryContext(ctx, `
		select id, note_id, author_id, body, is_internal, created_at
		from review_note_comments
		where note_id = $1
		order by created_at asc
	`, n.ID)
	if err != nil {
		return err
	}
	defer crows.Close()
	for crows.Next() {
		c := &review.Comment{}
		if err := crows.Scan(&c.ID, &c.NoteID, &c.AuthorID, &c.Body, &c.IsInternal, &c.CreatedAt); err != nil {
			return err
		}
		n.Comments = append(n.Comments, c)
	}
	return crows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAssignee(ctx context.Context, tx execer, a *review.Assignee) error {
	_, err := tx.ExecContext(ctx, `
		insert into review_note_assignees
			(id, note_id, user_id, assigned_at, assigned_by, is_forwarded)
		values ($1,$2,$3,$4,$5,$6)
	`, a.ID, a.NoteID, a.UserID, a.AssignedAt, a.AssignedBy, a.IsForwarded)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return review.ErrConflict
	}
	return err
}

func insertComment(ctx context.Context, tx execer, c *review.Comment) error {
	_, err := tx.ExecContext(ctx, `
		insert into review_note_comments
			(id, note_id, author_id, body, is_internal, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, c.ID, c.NoteID, c.AuthorID, c.Body, c.IsInternal, c.CreatedAt)
	return err
}

func scanNote(row rowScanner) (*review.Note, error) {
	n := &review.Note{}
	var due, resolvedAt sql.NullTime
	err := row.Scan(&n.ID, &n.TaskID, &n.Title, &n.Body, &n.Status, &n.RaisedBy,
		&n.CurrentOwner, &n.AssignedTo, &n.Priority, &due,
		&n.CreatedAt, &n.UpdatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, review.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n.DueDate = timePtr(due)
	n.ResolvedAt = timePtr(resolvedAt)
	return n, nil
}
