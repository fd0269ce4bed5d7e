//go:build testutil
// +build testutil

package points_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/columbiaprep/house-points-app-sub000/internal/db"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
	"github.com/columbiaprep/house-points-app-sub000/internal/points"
)

func TestRollbackRoundTrip(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	mustAddStudent(t, database, "alice@school.org", "Alice Adams", 9, "Blue")
	mustAddStudent(t, database, "bob@school.org", "Bob Brown", 9, "Red")

	res, err := svc.GrantBulk(ctx, []points.BulkGrant{
		{StudentID: "alice@school.org", Category: "attendance", Points: 5},
		{StudentID: "bob@school.org", Category: "service", Points: 3},
	}, "teacher@school.org", models.GrantBulk)
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded != 2 {
		t.Fatalf("bulk succeeded = %d, want 2", res.Succeeded)
	}

	req, err := svc.RequestRollback(ctx, res.BatchID, "admin@school.org")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != models.RollbackPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if req.ConfirmationCode == "" {
		t.Fatal("request returned no confirmation code")
	}
	if req.Preview.StudentsAffected != 2 || req.Preview.TotalPointsToRemove != 8 {
		t.Fatalf("preview = %+v", req.Preview)
	}

	// Code is shown once; reads must not leak it.
	fetched, err := svc.GetRollback(ctx, res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.ConfirmationCode != "" {
		t.Fatal("GetRollback leaked the confirmation code")
	}

	// Too early, even with the right code.
	now = now.Add(1 * time.Minute)
	if _, err := svc.ConfirmRollback(ctx, res.BatchID, "admin@school.org", req.ConfirmationCode); !errors.Is(err, points.ErrCoolingOffNotElapsed) {
		t.Fatalf("confirm at 1m: err = %v, want ErrCoolingOffNotElapsed", err)
	}

	// Wrong code after the window.
	now = now.Add(30 * time.Minute)
	if _, err := svc.ConfirmRollback(ctx, res.BatchID, "admin@school.org", "WRONG1"); !errors.Is(err, points.ErrConfirmationMismatch) {
		t.Fatalf("confirm wrong code: err = %v, want ErrConfirmationMismatch", err)
	}

	out, err := svc.ConfirmRollback(ctx, res.BatchID, "admin@school.org", req.ConfirmationCode)
	if err != nil {
		t.Fatal(err)
	}
	if out.Reversed != 2 || out.Remaining != 0 {
		t.Fatalf("result = %+v", out)
	}

	if s := studentByID(t, database, "alice@school.org"); s.TotalPoints != 0 {
		t.Fatalf("alice total = %d after rollback, want 0", s.TotalPoints)
	}
	if s := studentByID(t, database, "bob@school.org"); s.TotalPoints != 0 {
		t.Fatalf("bob total = %d after rollback, want 0", s.TotalPoints)
	}
	for _, name := range []string{"Blue", "Red"} {
		if h := houseByName(t, database, name); h.TotalPoints != 0 {
			t.Fatalf("%s total = %d after rollback, want 0", name, h.TotalPoints)
		}
	}

	originals, err := db.EventsByBatch(ctx, database, res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range originals {
		if !ev.Reversed {
			t.Fatalf("event %d not marked reversed", ev.ID)
		}
	}
	reversals, err := db.EventsByBatch(ctx, database, "rollback:"+res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reversals) != 2 {
		t.Fatalf("reversal events = %d, want 2", len(reversals))
	}
	for _, ev := range reversals {
		if ev.Points >= 0 {
			t.Fatalf("reversal event %d has points %d, want negative", ev.ID, ev.Points)
		}
	}

	// Executed is terminal.
	if _, err := svc.ConfirmRollback(ctx, res.BatchID, "admin@school.org", req.ConfirmationCode); !errors.Is(err, points.ErrNotPending) {
		t.Fatalf("second confirm: err = %v, want ErrNotPending", err)
	}
}

func TestRollbackRequestGuards(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()

	if _, err := svc.RequestRollback(ctx, "no-such-batch", "admin@school.org"); !errors.Is(err, points.ErrBatchNotFound) {
		t.Fatalf("unknown batch: err = %v, want ErrBatchNotFound", err)
	}

	mustAddStudent(t, database, "cara@school.org", "Cara Cole", 10, "Green")
	res, err := svc.GrantBulk(ctx, []points.BulkGrant{
		{StudentID: "cara@school.org", Category: "spirit", Points: 4},
	}, "teacher@school.org", models.GrantBulk)
	if err != nil {
		t.Fatal(err)
	}

	first, err := svc.RequestRollback(ctx, res.BatchID, "admin@school.org")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RequestRollback(ctx, res.BatchID, "other@school.org"); !errors.Is(err, points.ErrAlreadyRequested) {
		t.Fatalf("duplicate request: err = %v, want ErrAlreadyRequested", err)
	}

	if err := svc.CancelRollback(ctx, res.BatchID, "admin@school.org"); err != nil {
		t.Fatal(err)
	}
	if err := svc.CancelRollback(ctx, res.BatchID, "admin@school.org"); !errors.Is(err, points.ErrNotPending) {
		t.Fatalf("second cancel: err = %v, want ErrNotPending", err)
	}
	if _, err := svc.ConfirmRollback(ctx, res.BatchID, "admin@school.org", first.ConfirmationCode); !errors.Is(err, points.ErrNotPending) {
		t.Fatalf("confirm cancelled: err = %v, want ErrNotPending", err)
	}

	// A cancelled request does not block a fresh one, and the fresh one mints
	// its own code.
	second, err := svc.RequestRollback(ctx, res.BatchID, "admin@school.org")
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != models.RollbackPending {
		t.Fatalf("re-request status = %s, want pending", second.Status)
	}
	if second.ConfirmationCode == first.ConfirmationCode {
		t.Fatal("re-request reused the old confirmation code")
	}

	// Totals untouched through all of it.
	if s := studentByID(t, database, "cara@school.org"); s.TotalPoints != 4 {
		t.Fatalf("cara total = %d, want 4", s.TotalPoints)
	}
}

func TestRollbackSkipsAlreadyReversed(t *testing.T) {
	svc, database := startService(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	mustAddStudent(t, database, "dan@school.org", "Dan Dale", 11, "Gold")
	mustAddStudent(t, database, "eve@school.org", "Eve Evans", 9, "Green")
	res, err := svc.GrantBulk(ctx, []points.BulkGrant{
		{StudentID: "dan@school.org", Category: "academics", Points: 6},
		{StudentID: "eve@school.org", Category: "service", Points: 4},
	}, "teacher@school.org", models.GrantBulk)
	if err != nil {
		t.Fatal(err)
	}
	events, err := db.EventsByBatch(ctx, database, res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	// Simulate a prior partial confirm that already reversed dan's unit.
	if err := db.MarkEventReversed(ctx, database, events[0].ID); err != nil {
		t.Fatal(err)
	}

	req, err := svc.RequestRollback(ctx, res.BatchID, "admin@school.org")
	if err != nil {
		t.Fatal(err)
	}
	// The preview only covers what a confirm would actually reverse.
	if req.Preview.StudentsAffected != 1 || req.Preview.TotalPointsToRemove != 4 {
		t.Fatalf("preview = %+v, want 1 student / 4 points", req.Preview)
	}

	now = now.Add(31 * time.Minute)
	out, err := svc.ConfirmRollback(ctx, res.BatchID, "admin@school.org", req.ConfirmationCode)
	if err != nil {
		t.Fatal(err)
	}
	if out.Reversed != 1 {
		t.Fatalf("reversed = %d, want 1 (dan's unit already reversed)", out.Reversed)
	}

	got, err := svc.GetRollback(ctx, res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RollbackExecuted {
		t.Fatalf("status = %s, want executed", got.Status)
	}
	// Dan's grant itself was never undone here; only the marker was set.
	if s := studentByID(t, database, "dan@school.org"); s.TotalPoints != 6 {
		t.Fatalf("dan total = %d, want 6", s.TotalPoints)
	}
	if s := studentByID(t, database, "eve@school.org"); s.TotalPoints != 0 {
		t.Fatalf("eve total = %d after rollback, want 0", s.TotalPoints)
	}
}
