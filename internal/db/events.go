package db

import (
	"context"
	"database/sql"

	"github.com/columbiaprep/house-points-app-sub000/internal/ctxutil"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

const eventCols = "id, student_id, student_name, house_name, category_key, points, added_by, created_at, grant_type, batch_id, reversed"

func InsertEvent(ctx context.Context, q Querier, e models.PointEvent) (int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var id int64
	err := q.QueryRowContext(ctx, `
INSERT INTO point_events (student_id, student_name, house_name, category_key, points, added_by, created_at, grant_type, batch_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		e.StudentID, e.StudentName, e.HouseName, e.Category, e.Points, e.AddedBy, e.CreatedAt, string(e.Type), e.BatchID,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func scanEvents(rows *sql.Rows) ([]models.PointEvent, error) {
	defer func() { _ = rows.Close() }()
	var out []models.PointEvent
	for rows.Next() {
		var e models.PointEvent
		var gtype string
		if err := rows.Scan(&e.ID, &e.StudentID, &e.StudentName, &e.HouseName, &e.Category, &e.Points, &e.AddedBy, &e.CreatedAt, &gtype, &e.BatchID, &e.Reversed); err != nil {
			return nil, err
		}
		e.Type = models.GrantType(gtype)
		out = append(out, e)
	}
	return out, rows.Err()
}

func GetEvent(ctx context.Context, q Querier, id int64) (*models.PointEvent, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var e models.PointEvent
	var gtype string
	err := q.QueryRowContext(ctx,
		"SELECT "+eventCols+" FROM point_events WHERE id = $1", id,
	).Scan(&e.ID, &e.StudentID, &e.StudentName, &e.HouseName, &e.Category, &e.Points, &e.AddedBy, &e.CreatedAt, &gtype, &e.BatchID, &e.Reversed)
	if err != nil {
		return nil, err
	}
	e.Type = models.GrantType(gtype)
	return &e, nil
}

func EventsByBatch(ctx context.Context, q Querier, batchID string) ([]models.PointEvent, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		"SELECT "+eventCols+" FROM point_events WHERE batch_id = $1 ORDER BY id", batchID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func EventsByStudent(ctx context.Context, q Querier, studentID string, limit int) ([]models.PointEvent, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		"SELECT "+eventCols+" FROM point_events WHERE student_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		studentID, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func EventsByHouse(ctx context.Context, q Querier, houseName string, limit int) ([]models.PointEvent, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		"SELECT "+eventCols+" FROM point_events WHERE house_name = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		houseName, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func AllEvents(ctx context.Context, q Querier, limit int) ([]models.PointEvent, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		"SELECT "+eventCols+" FROM point_events ORDER BY created_at DESC, id DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func DeleteEvent(ctx context.Context, q Querier, id int64) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx, "DELETE FROM point_events WHERE id = $1", id)
	return err
}

func MarkEventReversed(ctx context.Context, q Querier, id int64) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx, "UPDATE point_events SET reversed = TRUE WHERE id = $1", id)
	return err
}
