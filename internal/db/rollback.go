package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/columbiaprep/house-points-app-sub000/internal/ctxutil"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

// UpsertRollbackRequest inserts a new request, replacing a cancelled one for the
// same batch. The caller has already checked that no live request exists.
func UpsertRollbackRequest(ctx context.Context, q Querier, r models.RollbackRequest) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	breakdown, err := json.Marshal(r.Preview.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO rollback_requests (batch_id, requested_by, requested_at, status, confirmation_code, students_affected, total_points, breakdown, batch_added_by, batch_created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (batch_id) DO UPDATE SET
    requested_by = EXCLUDED.requested_by,
    requested_at = EXCLUDED.requested_at,
    status = EXCLUDED.status,
    confirmation_code = EXCLUDED.confirmation_code,
    students_affected = EXCLUDED.students_affected,
    total_points = EXCLUDED.total_points,
    breakdown = EXCLUDED.breakdown,
    batch_added_by = EXCLUDED.batch_added_by,
    batch_created_at = EXCLUDED.batch_created_at`,
		r.BatchID, r.RequestedBy, r.RequestedAt, string(r.Status), r.ConfirmationCode,
		r.Preview.StudentsAffected, r.Preview.TotalPointsToRemove, breakdown,
		r.Preview.AddedBy, r.Preview.Timestamp,
	)
	return err
}

func GetRollbackRequest(ctx context.Context, q Querier, batchID string) (*models.RollbackRequest, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var r models.RollbackRequest
	var status string
	var breakdown []byte
	err := q.QueryRowContext(ctx, `
SELECT batch_id, requested_by, requested_at, status, confirmation_code, students_affected, total_points, breakdown, batch_added_by, batch_created_at
FROM rollback_requests WHERE batch_id = $1`, batchID,
	).Scan(&r.BatchID, &r.RequestedBy, &r.RequestedAt, &status, &r.ConfirmationCode,
		&r.Preview.StudentsAffected, &r.Preview.TotalPointsToRemove, &breakdown,
		&r.Preview.AddedBy, &r.Preview.Timestamp)
	if err != nil {
		return nil, err
	}
	r.Status = models.RollbackStatus(status)
	if err := json.Unmarshal(breakdown, &r.Preview.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	return &r, nil
}

func SetRollbackStatus(ctx context.Context, q Querier, batchID string, status models.RollbackStatus) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx,
		"UPDATE rollback_requests SET status = $1 WHERE batch_id = $2",
		string(status), batchID)
	return err
}
