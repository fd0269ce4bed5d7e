//go:build testutil
// +build testutil

package points_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/columbiaprep/house-points-app-sub000/internal/db"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
	"github.com/columbiaprep/house-points-app-sub000/internal/points"
)

func TestGrant_UnknownCategoryLeavesRecordsUntouched(t *testing.T) {
	svc, database := startService(t)
	mustAddStudent(t, database, "alice@school.org", "Alice Adams", 9, "Blue")

	_, err := svc.Grant(context.Background(), "alice@school.org", "juggling", 5, "teacher@school.org", models.GrantIndividual, nil)
	if !errors.Is(err, points.ErrUnknownCategory) {
		t.Fatalf("want ErrUnknownCategory, got %v", err)
	}

	if s := studentByID(t, database, "alice@school.org"); s.TotalPoints != 0 {
		t.Fatalf("student total mutated: %d", s.TotalPoints)
	}
	if h := houseByName(t, database, "Blue"); h.TotalPoints != 0 {
		t.Fatalf("house total mutated: %d", h.TotalPoints)
	}
	events, err := db.AllEvents(context.Background(), database, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("rejected grant appended %d events", len(events))
	}
}

func TestGrant_MissingStudent(t *testing.T) {
	svc, _ := startService(t)
	_, err := svc.Grant(context.Background(), "ghost@school.org", "attendance", 5, "teacher@school.org", models.GrantIndividual, nil)
	if !errors.Is(err, points.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGrantAndBonus_AggregateFlow(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()
	mustAddStudent(t, database, "alice@school.org", "Alice Adams", 9, "Blue")

	mustGrant(t, svc, "alice@school.org", "attendance", 10)
	mustGrant(t, svc, "alice@school.org", "attendance", 5)

	alice := studentByID(t, database, "alice@school.org")
	if alice.CategoryPoints["attendance"] != 15 || alice.TotalPoints != 15 {
		t.Fatalf("alice = %+v", alice)
	}
	blue := houseByName(t, database, "Blue")
	if blue.StudentPoints != 15 || blue.TotalPoints != 15 || blue.CategoryPoints["attendance"] != 15 {
		t.Fatalf("blue = %+v", blue)
	}

	if _, err := svc.GrantHouseBonus(ctx, blue.ID, "spirit", 20, "pep rally win", "teacher@school.org"); err != nil {
		t.Fatal(err)
	}
	blue = houseByName(t, database, "Blue")
	if blue.BonusPoints != 20 || blue.TotalPoints != 35 || blue.StudentPoints != 15 {
		t.Fatalf("blue after bonus = %+v", blue)
	}
	// bonus category is informational only
	if blue.CategoryPoints["spirit"] != 0 {
		t.Fatalf("bonus leaked into category points: %v", blue.CategoryPoints)
	}
	if alice := studentByID(t, database, "alice@school.org"); alice.TotalPoints != 15 {
		t.Fatalf("bonus attributed to a student: %+v", alice)
	}
}

func TestGrantHouseBonus_Validation(t *testing.T) {
	svc, _ := startService(t)
	ctx := context.Background()

	if _, err := svc.GrantHouseBonus(ctx, "house-blue", "spirit", 0, "reason", "t@school.org"); !errors.Is(err, points.ErrZeroAmount) {
		t.Fatalf("want ErrZeroAmount, got %v", err)
	}
	if _, err := svc.GrantHouseBonus(ctx, "house-blue", "spirit", 5, "", "t@school.org"); !errors.Is(err, points.ErrEmptyReason) {
		t.Fatalf("want ErrEmptyReason, got %v", err)
	}
	if _, err := svc.GrantHouseBonus(ctx, "house-missing", "spirit", 5, "reason", "t@school.org"); !errors.Is(err, points.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRemoveBonus_LastEntryZeroesBonus(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()
	mustAddStudent(t, database, "alice@school.org", "Alice Adams", 9, "Blue")
	mustGrant(t, svc, "alice@school.org", "attendance", 10)

	entry, err := svc.GrantHouseBonus(ctx, "house-blue", "spirit", 20, "pep rally win", "t@school.org")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.RemoveBonus(ctx, "house-blue", entry.ID); err != nil {
		t.Fatal(err)
	}

	blue := houseByName(t, database, "Blue")
	if blue.BonusPoints != 0 {
		t.Fatalf("bonusPoints = %d, want 0", blue.BonusPoints)
	}
	if blue.TotalPoints != blue.StudentPoints {
		t.Fatalf("totalPoints %d != studentPoints %d after last bonus removed", blue.TotalPoints, blue.StudentPoints)
	}

	if err := svc.RemoveBonus(ctx, "house-blue", entry.ID); !errors.Is(err, points.ErrNotFound) {
		t.Fatalf("double remove: want ErrNotFound, got %v", err)
	}
}

func TestRecompute_RepairsDriftAndIsIdempotent(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()
	mustAddStudent(t, database, "alice@school.org", "Alice Adams", 9, "Blue")
	mustGrant(t, svc, "alice@school.org", "attendance", 10)

	// simulate drift from a crashed partial batch
	if _, err := database.ExecContext(ctx,
		"UPDATE houses SET total_points = total_points + 7, student_points = student_points + 7 WHERE id = 'house-blue'"); err != nil {
		t.Fatal(err)
	}

	diffs, err := svc.RecomputeAllHouseTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 1 {
		t.Fatalf("want 1 corrected house, got %d", len(diffs))
	}
	d := diffs[0]
	if d.HouseID != "house-blue" || d.OldTotalPoints != 17 || d.NewTotalPoints != 10 || d.TotalPointsDiff != -7 {
		t.Fatalf("bad diff: %+v", d)
	}

	diffs, err = svc.RecomputeAllHouseTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 {
		t.Fatalf("second sweep must be a no-op, got %+v", diffs)
	}
}

func TestSumConsistency_AfterMixedOperations(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()
	mustAddStudent(t, database, "alice@school.org", "Alice Adams", 9, "Blue")
	mustAddStudent(t, database, "bob@school.org", "Bob Brown", 10, "Red")
	mustAddStudent(t, database, "cara@school.org", "Cara Cole", 9, "Blue")

	mustGrant(t, svc, "alice@school.org", "attendance", 10)
	mustGrant(t, svc, "bob@school.org", "service", 8)
	mustGrant(t, svc, "cara@school.org", "athletics", -2)
	entry, err := svc.GrantHouseBonus(ctx, "house-blue", "spirit", 20, "pep rally win", "t@school.org")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GrantHouseBonus(ctx, "house-red", "spirit", 5, "clean gym", "t@school.org"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemoveBonus(ctx, "house-blue", entry.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecomputeAllHouseTotals(ctx); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"Blue", "Red", "Green", "Gold"} {
		h := houseByName(t, database, name)
		studentSum, err := db.SumStudentTotalsForHouse(ctx, database, name)
		if err != nil {
			t.Fatal(err)
		}
		bonusSum, err := db.SumBonusForHouse(ctx, database, h.ID)
		if err != nil {
			t.Fatal(err)
		}
		if h.TotalPoints != studentSum+bonusSum {
			t.Fatalf("%s: total %d != students %d + bonus %d", name, h.TotalPoints, studentSum, bonusSum)
		}
		if h.StudentPoints != studentSum || h.BonusPoints != bonusSum {
			t.Fatalf("%s: stored subtotals diverge: %+v", name, h)
		}
	}
}

func TestRanking_TieKeepsPriorOrder(t *testing.T) {
	svc, database := startService(t)
	mustAddStudent(t, database, "alice@school.org", "Alice Adams", 9, "Blue")
	mustAddStudent(t, database, "bob@school.org", "Bob Brown", 10, "Red")

	mustGrant(t, svc, "alice@school.org", "attendance", 10)
	mustGrant(t, svc, "bob@school.org", "attendance", 10)

	blue, red := houseByName(t, database, "Blue"), houseByName(t, database, "Red")
	if blue.Place >= red.Place {
		t.Fatalf("tie must keep Blue ahead: blue=%d red=%d", blue.Place, red.Place)
	}

	mustGrant(t, svc, "bob@school.org", "attendance", 5)
	if red = houseByName(t, database, "Red"); red.Place != 1 {
		t.Fatalf("Red should lead at 15 points, place=%d", red.Place)
	}

	mustGrant(t, svc, "alice@school.org", "attendance", 5)
	blue, red = houseByName(t, database, "Blue"), houseByName(t, database, "Red")
	if red.Place != 1 || blue.Place != 2 {
		t.Fatalf("tie at 15 must keep Red ahead: red=%d blue=%d", red.Place, blue.Place)
	}
}

func TestGrant_ConcurrentAcrossHouses(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()

	students := map[string]string{
		"alice@school.org": "Blue",
		"bob@school.org":   "Red",
		"cara@school.org":  "Green",
		"dan@school.org":   "Gold",
	}
	for id, house := range students {
		mustAddStudent(t, database, id, "Student "+house, 9, house)
	}

	const perStudent = 10
	var wg sync.WaitGroup
	errs := make(chan error, len(students)*perStudent)
	for id := range students {
		for i := 0; i < perStudent; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := svc.Grant(ctx, id, "attendance", 2, "teacher@school.org", models.GrantIndividual, nil); err != nil {
					errs <- fmt.Errorf("%s: %w", id, err)
				}
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent grant failed: %v", err)
	}

	diffs, err := svc.RecomputeAllHouseTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 {
		t.Fatalf("concurrent grants left drift: %+v", diffs)
	}
	places := make(map[int]bool)
	for _, name := range []string{"Blue", "Red", "Green", "Gold"} {
		h := houseByName(t, database, name)
		if h.TotalPoints != perStudent*2 {
			t.Fatalf("%s total = %d, want %d", name, h.TotalPoints, perStudent*2)
		}
		if h.Place < 1 || h.Place > 4 || places[h.Place] {
			t.Fatalf("%s has invalid or duplicate place %d", name, h.Place)
		}
		places[h.Place] = true
	}
}

func TestGrantBulk_SkipAndReport(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()
	mustAddStudent(t, database, "alice@school.org", "Alice Adams", 9, "Blue")

	res, err := svc.GrantBulk(ctx, []points.BulkGrant{
		{StudentID: "alice@school.org", Category: "attendance", Points: 5},
		{StudentID: "ghost@school.org", Category: "attendance", Points: 5},
	}, "teacher@school.org", models.GrantBulk)
	if !errors.Is(err, points.ErrPartialBatch) {
		t.Fatalf("want ErrPartialBatch, got %v", err)
	}
	if res.Requested != 2 || res.Succeeded != 1 || len(res.Failures) != 1 {
		t.Fatalf("bad result: %+v", res)
	}
	if res.Failures[0].StudentID != "ghost@school.org" {
		t.Fatalf("wrong failure reported: %+v", res.Failures)
	}

	// applied units are consistent even though the batch failed partway
	diffs, err := svc.RecomputeAllHouseTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 {
		t.Fatalf("partial batch left drift: %+v", diffs)
	}

	events, err := db.EventsByBatch(ctx, database, res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 event for the applied unit, got %d", len(events))
	}
}

func TestDeleteEvent_IndividualOnly(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()
	mustAddStudent(t, database, "alice@school.org", "Alice Adams", 9, "Blue")

	ev, err := svc.Grant(ctx, "alice@school.org", "attendance", 5, "teacher@school.org", models.GrantIndividual, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteEvent(ctx, ev.ID); err != nil {
		t.Fatal(err)
	}
	if s := studentByID(t, database, "alice@school.org"); s.TotalPoints != 0 {
		t.Fatalf("delete must undo points, total=%d", s.TotalPoints)
	}
	if h := houseByName(t, database, "Blue"); h.TotalPoints != 0 {
		t.Fatalf("house not undone, total=%d", h.TotalPoints)
	}

	res, err := svc.GrantBulk(ctx, []points.BulkGrant{
		{StudentID: "alice@school.org", Category: "attendance", Points: 5},
	}, "teacher@school.org", models.GrantBulk)
	if err != nil {
		t.Fatal(err)
	}
	events, err := db.EventsByBatch(ctx, database, res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteEvent(ctx, events[0].ID); !errors.Is(err, points.ErrBulkEventProtected) {
		t.Fatalf("bulk event deletion must be refused, got %v", err)
	}
}

func TestResetRoster_ReplacesAndRecomputes(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()
	mustAddStudent(t, database, "old@school.org", "Old Student", 12, "Blue")
	mustGrant(t, svc, "old@school.org", "attendance", 40)

	rows := []models.Student{
		{ID: "alice@school.org", Name: "Alice Adams", Grade: 9, HouseName: "Blue"},
		{ID: "bob@school.org", Name: "Bob Brown", Grade: 10, HouseName: "Atlantis"},
	}
	res, err := svc.ResetRoster(ctx, rows)
	if !errors.Is(err, points.ErrPartialBatch) {
		t.Fatalf("unknown house must be reported, got %v", err)
	}
	if res.Imported != 1 || len(res.Skipped) != 1 {
		t.Fatalf("bad result: %+v", res)
	}

	if _, err := db.GetStudent(ctx, database, "old@school.org"); err == nil {
		t.Fatal("old roster must be gone")
	}
	blue := houseByName(t, database, "Blue")
	if blue.StudentPoints != 0 || blue.TotalPoints != 0 {
		t.Fatalf("house subtotals must drop to zero after reset: %+v", blue)
	}
	if blue.CategoryPoints["attendance"] != 0 {
		t.Fatalf("category breakdown survived reset: %v", blue.CategoryPoints)
	}
}
