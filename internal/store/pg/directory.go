package pg

import (
	"context"
	"database/sql"
	"errors"

	"practica.org/internal/authz"
)

// Directory answers identity and role lookups for the access resolver. The
// underlying tables are maintained by the staff-sync job, not by this
// service.
type Directory struct {
	db *sql.DB
}

var _ authz.Directory = (*Directory)(nil)

func (d *Directory) GetUser(ctx context.Context, id string) (authz.User, error) {
	var u authz.User
	err := d.db.QueryRowContext(ctx, `
		select id, system_role from users where id = $1
	`, id).Scan(&u.ID, &u.SystemRole)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.User{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.User{}, err
	}
	return u, nil
}

func (d *Directory) GetLineRole(ctx context.Context, userID, lineID string) (authz.Role, error) {
	var raw string
	err := d.db.QueryRowContext(ctx, `
		select role from line_roles where user_id = $1 and line_id = $2
	`, userID, lineID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", authz.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return authz.ParseRole(raw), nil
}

func (d *Directory) GetTaskMembership(ctx context.Context, userID, taskID string) (authz.TaskMembership, error) {
	var (
		m   authz.TaskMembership
		raw string
	)
	err := d.db.QueryRowContext(ctx, `
		select user_id, task_id, role from task_memberships
		where user_id = $1 and task_id = $2
	`, userID, taskID).Scan(&m.UserID, &m.TaskID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.TaskMembership{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.TaskMembership{}, err
	}
	m.Role = authz.ParseRole(raw)
	return m, nil
}

func (d *Directory) ResolveLineForTask(ctx context.Context, taskID string) (string, error) {
	var lineID string
	err := d.db.QueryRowContext(ctx, `
		select line_id from tasks where id = $1
	`, taskID).Scan(&lineID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", authz.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return lineID, nil
}
