package points

import (
	"context"
	"errors"
	"testing"

	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

func TestCategoryCache_LoadsOnce(t *testing.T) {
	calls := 0
	cache := NewCategoryCache(func(ctx context.Context) ([]models.Category, error) {
		calls++
		return []models.Category{{Key: "attendance", Name: "Attendance"}}, nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, ok, err := cache.Lookup(ctx, "attendance")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("attendance should be registered")
		}
	}
	if calls != 1 {
		t.Fatalf("loader called %d times, want 1", calls)
	}

	_, ok, err := cache.Lookup(ctx, "juggling")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("juggling should not be registered")
	}
}

func TestCategoryCache_InvalidateReloads(t *testing.T) {
	cats := []models.Category{{Key: "attendance"}}
	cache := NewCategoryCache(func(ctx context.Context) ([]models.Category, error) {
		return cats, nil
	})

	ctx := context.Background()
	if _, ok, _ := cache.Lookup(ctx, "spirit"); ok {
		t.Fatal("spirit not yet registered")
	}

	v0 := cache.Version()
	cats = append(cats, models.Category{Key: "spirit"})
	cache.Invalidate()
	if cache.Version() == v0 {
		t.Fatal("version must advance on invalidate")
	}

	if _, ok, _ := cache.Lookup(ctx, "spirit"); !ok {
		t.Fatal("spirit should be visible after invalidate")
	}
}

func TestCategoryCache_LoaderError(t *testing.T) {
	boom := errors.New("boom")
	cache := NewCategoryCache(func(ctx context.Context) ([]models.Category, error) {
		return nil, boom
	})
	if _, _, err := cache.Lookup(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("want loader error, got %v", err)
	}
}
