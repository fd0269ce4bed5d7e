package db

import (
	"context"

	"github.com/columbiaprep/house-points-app-sub000/internal/ctxutil"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

const houseCols = "id, name, color_name, accent_color, place, student_points, bonus_points, total_points"

func GetHouse(ctx context.Context, q Querier, id string) (*models.House, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var h models.House
	err := q.QueryRowContext(ctx,
		"SELECT "+houseCols+" FROM houses WHERE id = $1", id,
	).Scan(&h.ID, &h.Name, &h.ColorName, &h.AccentColor, &h.Place, &h.StudentPoints, &h.BonusPoints, &h.TotalPoints)
	if err != nil {
		return nil, err
	}
	h.CategoryPoints, err = HouseCategoryPoints(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// HouseIDByName resolves the display name to the stable id. Houses are identified
// by id everywhere else; name is a denormalized display attribute.
func HouseIDByName(ctx context.Context, q Querier, name string) (string, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var id string
	err := q.QueryRowContext(ctx, "SELECT id FROM houses WHERE name = $1", name).Scan(&id)
	return id, err
}

func GetHouseForUpdate(ctx context.Context, q Querier, id string) (*models.House, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var h models.House
	err := q.QueryRowContext(ctx,
		"SELECT "+houseCols+" FROM houses WHERE id = $1 FOR UPDATE", id,
	).Scan(&h.ID, &h.Name, &h.ColorName, &h.AccentColor, &h.Place, &h.StudentPoints, &h.BonusPoints, &h.TotalPoints)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func ListHouses(ctx context.Context, q Querier) ([]models.House, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		"SELECT "+houseCols+" FROM houses ORDER BY total_points DESC, place ASC, name ASC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.House
	for rows.Next() {
		var h models.House
		if err := rows.Scan(&h.ID, &h.Name, &h.ColorName, &h.AccentColor, &h.Place, &h.StudentPoints, &h.BonusPoints, &h.TotalPoints); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func HouseCategoryPoints(ctx context.Context, q Querier, id string) (map[string]int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		"SELECT category_key, points FROM house_category_points WHERE house_id = $1", id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var pts int
		if err := rows.Scan(&key, &pts); err != nil {
			return nil, err
		}
		out[key] = pts
	}
	return out, rows.Err()
}

// AddHouseStudentPoints applies a student grant delta to the house aggregates.
func AddHouseStudentPoints(ctx context.Context, q Querier, id, category string, delta int) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	if _, err := q.ExecContext(ctx, `
INSERT INTO house_category_points (house_id, category_key, points)
VALUES ($1, $2, $3)
ON CONFLICT (house_id, category_key) DO UPDATE SET points = house_category_points.points + EXCLUDED.points`,
		id, category, delta,
	); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
UPDATE houses SET student_points = student_points + $1, total_points = total_points + $1 WHERE id = $2`,
		delta, id,
	)
	return err
}

// ClearHouseCategoryPoints wipes the per-category breakdown for all houses;
// used by roster reset, where every student subtotal drops to zero.
func ClearHouseCategoryPoints(ctx context.Context, q Querier) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx, "DELETE FROM house_category_points")
	return err
}

func AddHouseBonusPoints(ctx context.Context, q Querier, id string, amount int) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx, `
UPDATE houses SET bonus_points = bonus_points + $1, total_points = total_points + $1 WHERE id = $2`,
		amount, id,
	)
	return err
}

func SetHouseAggregates(ctx context.Context, q Querier, id string, studentPoints, bonusPoints, totalPoints int) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx, `
UPDATE houses SET student_points = $1, bonus_points = $2, total_points = $3 WHERE id = $4`,
		studentPoints, bonusPoints, totalPoints, id,
	)
	return err
}

// ReassignPlaces re-sorts houses by total points descending and writes place 1..N.
// Ordering by the previous place keeps ties stable across passes.
func ReassignPlaces(ctx context.Context, q Querier) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		"SELECT id FROM houses ORDER BY total_points DESC, place ASC, name ASC")
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, id := range ids {
		if _, err := q.ExecContext(ctx,
			"UPDATE houses SET place = $1 WHERE id = $2", i+1, id); err != nil {
			return err
		}
	}
	return nil
}
