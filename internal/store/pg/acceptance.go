package pg

import (
	"context"
	"database/sql"

	"practica.org/internal/feed"
)

// AcceptanceStore reads client-acceptance sign-off records for the feed.
type AcceptanceStore struct {
	db *sql.DB
}

var _ feed.AcceptanceSource = (*AcceptanceStore)(nil)

func (s *AcceptanceStore) ListUnreviewed(ctx context.Context) ([]feed.Acceptance, error) {
	return s.list(ctx, `
		select a.task_id, t.name, a.completed_at, a.completed_by,
		       a.reviewed_at, coalesce(a.reviewed_by,'')
		from acceptance_records a
		join tasks t on t.id = a.task_id
		where a.completed_at is not null and a.reviewed_at is null
		order by a.completed_at asc
	`)
}

func (s *AcceptanceStore) ListReviewedBy(ctx context.Context, userID string) ([]feed.Acceptance, error) {
	return s.list(ctx, `
		select a.task_id, t.name, a.completed_at, a.completed_by,
		       a.reviewed_at, coalesce(a.reviewed_by,'')
		from acceptance_records a
		join tasks t on t.id = a.task_id
		where a.reviewed_by = $1
		order by a.reviewed_at desc
	`, userID)
}

func (s *AcceptanceStore) list(ctx context.Context, query string, args ...any) ([]feed.Acceptance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []feed.Acceptance
	for rows.Next() {
		var (
			ac         feed.Acceptance
			reviewedAt sql.NullTime
		)
		if err := rows.Scan(&ac.TaskID, &ac.TaskName, &ac.CompletedAt, &ac.CompletedBy,
			&reviewedAt, &ac.ReviewedBy); err != nil {
			return nil, err
		}
		ac.ReviewedAt = timePtr(reviewedAt)
		result = append(result, ac)
	}
	return result, rows.Err()
}
