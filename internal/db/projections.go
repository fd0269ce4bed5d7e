package db

import (
	"context"
	"time"

	"github.com/columbiaprep/house-points-app-sub000/internal/ctxutil"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

func UpsertHouseSummary(ctx context.Context, q Querier, s models.HouseSummary) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx, `
INSERT INTO house_summaries (house_id, name, color_name, accent_color, place, student_points, bonus_points, total_points, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (house_id) DO UPDATE SET
    name = EXCLUDED.name,
    color_name = EXCLUDED.color_name,
    accent_color = EXCLUDED.accent_color,
    place = EXCLUDED.place,
    student_points = EXCLUDED.student_points,
    bonus_points = EXCLUDED.bonus_points,
    total_points = EXCLUDED.total_points,
    last_updated = EXCLUDED.last_updated`,
		s.HouseID, s.Name, s.ColorName, s.AccentColor, s.Place,
		s.StudentPoints, s.BonusPoints, s.TotalPoints, s.LastUpdated,
	)
	return err
}

func GetHouseSummaries(ctx context.Context, q Querier) ([]models.HouseSummary, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
SELECT house_id, name, color_name, accent_color, place, student_points, bonus_points, total_points, last_updated
FROM house_summaries ORDER BY total_points DESC, place ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.HouseSummary
	for rows.Next() {
		var s models.HouseSummary
		if err := rows.Scan(&s.HouseID, &s.Name, &s.ColorName, &s.AccentColor, &s.Place,
			&s.StudentPoints, &s.BonusPoints, &s.TotalPoints, &s.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReplaceStudentRankings swaps one house's ranking projection wholesale.
func ReplaceStudentRankings(ctx context.Context, q Querier, houseID string, rankings []models.StudentRanking, now time.Time) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	if _, err := q.ExecContext(ctx,
		"DELETE FROM student_rankings WHERE house_id = $1", houseID); err != nil {
		return err
	}
	for _, r := range rankings {
		if _, err := q.ExecContext(ctx, `
INSERT INTO student_rankings (house_id, student_id, student_name, rank, total_points, last_updated)
VALUES ($1, $2, $3, $4, $5, $6)`,
			houseID, r.StudentID, r.StudentName, r.Rank, r.TotalPoints, now); err != nil {
			return err
		}
	}
	return nil
}

func GetStudentRankings(ctx context.Context, q Querier, houseID string) ([]models.StudentRanking, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
SELECT house_id, student_id, student_name, rank, total_points, last_updated
FROM student_rankings WHERE house_id = $1 ORDER BY rank`, houseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.StudentRanking
	for rows.Next() {
		var r models.StudentRanking
		if err := rows.Scan(&r.HouseID, &r.StudentID, &r.StudentName, &r.Rank, &r.TotalPoints, &r.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func InsertLeaderboardSnapshot(ctx context.Context, q Querier, takenAt time.Time, standings []byte) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx,
		"INSERT INTO leaderboard_snapshots (taken_at, standings) VALUES ($1, $2)",
		takenAt, standings)
	return err
}
