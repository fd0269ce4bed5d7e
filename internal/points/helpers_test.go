//go:build testutil
// +build testutil

package points_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/columbiaprep/house-points-app-sub000/internal/db"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
	"github.com/columbiaprep/house-points-app-sub000/internal/points"
	"github.com/columbiaprep/house-points-app-sub000/internal/testutil/testdb"
)

func startService(t *testing.T) (*points.Service, *sql.DB) {
	t.Helper()
	h, err := testdb.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)

	ctx := context.Background()
	if err := db.SeedDefaults(ctx, h.DB); err != nil {
		t.Fatal(err)
	}
	cats := points.NewCategoryCache(func(ctx context.Context) ([]models.Category, error) {
		return db.GetCategories(ctx, h.DB, false)
	})
	svc := points.NewService(h.DB, zap.NewNop().Sugar(), cats, 30*time.Minute, 5*time.Minute)
	return svc, h.DB
}

func mustAddStudent(t *testing.T, database *sql.DB, id, name string, grade int, house string) {
	t.Helper()
	err := db.UpsertStudent(context.Background(), database, models.Student{
		ID: id, Name: name, Grade: grade, HouseName: house,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func mustGrant(t *testing.T, svc *points.Service, id, category string, pts int) {
	t.Helper()
	if _, err := svc.Grant(context.Background(), id, category, pts, "teacher@school.org", models.GrantIndividual, nil); err != nil {
		t.Fatal(err)
	}
}

func houseByName(t *testing.T, database *sql.DB, name string) *models.House {
	t.Helper()
	ctx := context.Background()
	id, err := db.HouseIDByName(ctx, database, name)
	if err != nil {
		t.Fatal(err)
	}
	h, err := db.GetHouse(ctx, database, id)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func studentByID(t *testing.T, database *sql.DB, id string) *models.Student {
	t.Helper()
	s, err := db.GetStudent(context.Background(), database, id)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
