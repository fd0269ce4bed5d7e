package db

import (
	"context"
	"time"

	"github.com/columbiaprep/house-points-app-sub000/internal/ctxutil"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

func InsertBonus(ctx context.Context, q Querier, e models.BonusEntry) (int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var id int64
	err := q.QueryRowContext(ctx, `
INSERT INTO bonus_entries (house_id, category_key, points, reason, added_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		e.HouseID, e.Category, e.Points, e.Reason, e.AddedBy, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteBonus is a hard removal; the caller recomputes house totals in the same
// transaction so bonus_points never drifts from the remaining entries.
func DeleteBonus(ctx context.Context, q Querier, houseID string, entryID int64) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx,
		"DELETE FROM bonus_entries WHERE id = $1 AND house_id = $2", entryID, houseID)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

func SumBonusForHouse(ctx context.Context, q Querier, houseID string) (int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var sum int
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(points), 0) FROM bonus_entries WHERE house_id = $1", houseID,
	).Scan(&sum)
	return sum, err
}

func SumBonusByHouse(ctx context.Context, q Querier) (map[string]int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		"SELECT house_id, COALESCE(SUM(points), 0) FROM bonus_entries GROUP BY house_id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var sum int
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

func listBonuses(ctx context.Context, q Querier, query string, args ...any) ([]models.BonusEntry, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.BonusEntry
	for rows.Next() {
		var e models.BonusEntry
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.HouseID, &e.Category, &e.Points, &e.Reason, &e.AddedBy, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

func ListBonusesForHouse(ctx context.Context, q Querier, houseID string) ([]models.BonusEntry, error) {
	return listBonuses(ctx, q, `
SELECT id, house_id, category_key, points, reason, added_by, created_at
FROM bonus_entries WHERE house_id = $1 ORDER BY created_at DESC, id DESC`, houseID)
}

func ListAllBonuses(ctx context.Context, q Querier) ([]models.BonusEntry, error) {
	return listBonuses(ctx, q, `
SELECT id, house_id, category_key, points, reason, added_by, created_at
FROM bonus_entries ORDER BY created_at DESC, id DESC`)
}
