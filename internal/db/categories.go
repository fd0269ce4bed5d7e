package db

import (
	"context"
	"errors"

	"github.com/columbiaprep/house-points-app-sub000/internal/ctxutil"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

// GetCategories returns the registry (includeInactive=true returns hidden ones too).
func GetCategories(ctx context.Context, q Querier, includeInactive bool) ([]models.Category, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	query := "SELECT id, key, name, is_active FROM categories"
	if !includeInactive {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Key, &c.Name, &c.IsActive); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func GetCategoryByKey(ctx context.Context, q Querier, key string) (*models.Category, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var c models.Category
	err := q.QueryRowContext(ctx,
		"SELECT id, key, name, is_active FROM categories WHERE key = $1",
		key,
	).Scan(&c.ID, &c.Key, &c.Name, &c.IsActive)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func CreateCategory(ctx context.Context, q Querier, key, name string) (int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var id int64
	err := q.QueryRowContext(ctx,
		"INSERT INTO categories(key, name, is_active) VALUES($1,$2,TRUE) RETURNING id",
		key, name,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RenameCategory changes the display name only; the key is the stable identifier.
func RenameCategory(ctx context.Context, q Querier, key, name string) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx,
		"UPDATE categories SET name = $1 WHERE key = $2",
		name, key,
	)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return errors.New("category not found")
	}
	return nil
}

func SetCategoryActive(ctx context.Context, q Querier, key string, active bool) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx,
		"UPDATE categories SET is_active = $1 WHERE key = $2",
		active, key,
	)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return errors.New("category not found")
	}
	return nil
}
