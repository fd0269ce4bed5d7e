package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/columbiaprep/house-points-app-sub000/internal/ctxutil"
)

// SeedDefaults inserts the default category set and the four houses if missing.
func SeedDefaults(ctx context.Context, database *sql.DB) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	categories := [][2]string{
		{"attendance", "Attendance"},
		{"service", "Community Service"},
		{"spirit", "House Spirit"},
		{"academics", "Academics"},
		{"athletics", "Athletics"},
	}
	for _, c := range categories {
		if _, err := database.ExecContext(ctx,
			"INSERT INTO categories (key, name, is_active) VALUES ($1, $2, TRUE) ON CONFLICT (key) DO NOTHING",
			c[0], c[1]); err != nil {
			return fmt.Errorf("seed category %s: %w", c[0], err)
		}
	}

	houses := [][4]string{
		{"house-blue", "Blue", "blue", "#1e63c8"},
		{"house-red", "Red", "red", "#c83232"},
		{"house-green", "Green", "green", "#2e9e50"},
		{"house-gold", "Gold", "gold", "#d6a21e"},
	}
	for i, h := range houses {
		if _, err := database.ExecContext(ctx, `
INSERT INTO houses (id, name, color_name, accent_color, place)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`,
			h[0], h[1], h[2], h[3], i+1); err != nil {
			return fmt.Errorf("seed house %s: %w", h[1], err)
		}
	}
	return nil
}
