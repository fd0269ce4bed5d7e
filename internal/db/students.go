package db

import (
	"context"

	"github.com/columbiaprep/house-points-app-sub000/internal/ctxutil"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

func GetStudent(ctx context.Context, q Querier, id string) (*models.Student, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var s models.Student
	err := q.QueryRowContext(ctx,
		"SELECT id, name, grade, house_name, total_points FROM students WHERE id = $1",
		id,
	).Scan(&s.ID, &s.Name, &s.Grade, &s.HouseName, &s.TotalPoints)
	if err != nil {
		return nil, err
	}
	s.CategoryPoints, err = StudentCategoryPoints(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStudentForUpdate locks the row for the duration of the grant transaction.
func GetStudentForUpdate(ctx context.Context, q Querier, id string) (*models.Student, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var s models.Student
	err := q.QueryRowContext(ctx,
		"SELECT id, name, grade, house_name, total_points FROM students WHERE id = $1 FOR UPDATE",
		id,
	).Scan(&s.ID, &s.Name, &s.Grade, &s.HouseName, &s.TotalPoints)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func StudentCategoryPoints(ctx context.Context, q Querier, id string) (map[string]int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx,
		"SELECT category_key, points FROM student_category_points WHERE student_id = $1",
		id,
	)
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

// AddStudentPoints applies delta to one category and to the stored total.
func AddStudentPoints(ctx context.Context, q Querier, id, category string, delta int) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	if _, err := q.ExecContext(ctx, `
INSERT INTO student_category_points (student_id, category_key, points)
VALUES ($1, $2, $3)
ON CONFLICT (student_id, category_key) DO UPDATE SET points = student_category_points.points + EXCLUDED.points`,
		id, category, delta,
	); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx,
		"UPDATE students SET total_points = total_points + $1 WHERE id = $2",
		delta, id,
	)
	return err
}

func ListStudentsByHouse(ctx context.Context, q Querier, houseName string) ([]models.Student, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
SELECT id, name, grade, house_name, total_points
FROM students WHERE house_name = $1
ORDER BY total_points DESC, name ASC`, houseName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Student
	for rows.Next() {
		var s models.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Grade, &s.HouseName, &s.TotalPoints); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SumStudentTotalsByHouse is the authoritative source for house student subtotals.
func SumStudentTotalsByHouse(ctx context.Context, q Querier) (map[string]int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
SELECT house_name, COALESCE(SUM(total_points), 0)
FROM students GROUP BY house_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var house string
		var sum int
		if err := rows.Scan(&house, &sum); err != nil {
			return nil, err
		}
		out[house] = sum
	}
	return out, rows.Err()
}

// SumStudentTotalsForHouse is the house-scoped variant used by targeted recomputes.
func SumStudentTotalsForHouse(ctx context.Context, q Querier, houseName string) (int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var sum int
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(total_points), 0) FROM students WHERE house_name = $1", houseName,
	).Scan(&sum)
	return sum, err
}

// UpsertStudent creates or overwrites a roster row. Category points are zeroed:
// roster reset starts every student from scratch.
func UpsertStudent(ctx context.Context, q Querier, s models.Student) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	if _, err := q.ExecContext(ctx, `
INSERT INTO students (id, name, grade, house_name, total_points)
VALUES ($1, $2, $3, $4, 0)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, grade = EXCLUDED.grade, house_name = EXCLUDED.house_name, total_points = 0`,
		s.ID, s.Name, s.Grade, s.HouseName,
	); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx,
		"DELETE FROM student_category_points WHERE student_id = $1", s.ID)
	return err
}

func DeleteAllStudents(ctx context.Context, q Querier) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx, "DELETE FROM students")
	return err
}
