package points

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/columbiaprep/house-points-app-sub000/internal/db"
	"github.com/columbiaprep/house-points-app-sub000/internal/metrics"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

// Service is the aggregation engine: it keeps student totals and house
// aggregates consistent across single grants, bulk grants, bonuses, rollbacks
// and the reconciliation sweep.
type Service struct {
	DB   *sql.DB
	Log  *zap.SugaredLogger
	Cats *CategoryCache
	Now  func() time.Time

	CoolingOff time.Duration
	Staleness  time.Duration

	locks *keyedLock
}

func NewService(database *sql.DB, log *zap.SugaredLogger, cats *CategoryCache, coolingOff, staleness time.Duration) *Service {
	return &Service{
		DB:         database,
		Log:        log,
		Cats:       cats,
		Now:        time.Now,
		CoolingOff: coolingOff,
		Staleness:  staleness,
		locks:      newKeyedLock(),
	}
}

// Grant is the unit of work: one student, one category, one delta. The student
// row, the house row and the event append commit in a single transaction.
// Bulk operations repeat this unit per student and are NOT atomic as a whole.
func (s *Service) Grant(ctx context.Context, studentID, category string, delta int, addedBy string, gtype models.GrantType, batchID *string) (*models.PointEvent, error) {
	_, ok, err := s.Cats.Lookup(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if !ok {
		metrics.GrantErrors.WithLabelValues(string(gtype)).Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	var event models.PointEvent
	err = db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		student, err := db.GetStudentForUpdate(ctx, tx, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("student %s: %w", studentID, ErrNotFound)
			}
			return err
		}
		houseID, err := db.HouseIDByName(ctx, tx, student.HouseName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("house %s: %w", student.HouseName, ErrNotFound)
			}
			return err
		}
		if _, err := db.GetHouseForUpdate(ctx, tx, houseID); err != nil {
			return err
		}

		if err := db.AddStudentPoints(ctx, tx, studentID, category, delta); err != nil {
			return fmt.Errorf("student points: %w", err)
		}
		if err := db.AddHouseStudentPoints(ctx, tx, houseID, category, delta); err != nil {
			return fmt.Errorf("house points: %w", err)
		}

		event = models.PointEvent{
			StudentID:   studentID,
			StudentName: student.Name,
			HouseName:   student.HouseName,
			Category:    category,
			Points:      delta,
			AddedBy:     addedBy,
			CreatedAt:   s.Now().UTC(),
			Type:        gtype,
			BatchID:     batchID,
		}
		id, err := db.InsertEvent(ctx, tx, event)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		event.ID = id

		return nil
	})
	if err != nil {
		metrics.GrantErrors.WithLabelValues(string(gtype)).Inc()
		return nil, err
	}
	s.syncPlaces(ctx)
	metrics.Grants.WithLabelValues(string(gtype)).Inc()
	return &event, nil
}

// syncPlaces reassigns house places in its own short transaction after a unit
// commits. Doing it inside the unit transaction would update every house row
// while holding one house's FOR UPDATE lock, which deadlocks under concurrent
// grants to different houses; the in-process lock keeps multi-house writers
// from interleaving instead.
func (s *Service) syncPlaces(ctx context.Context) {
	unlock := s.locks.lock("places")
	defer unlock()
	err := db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		return db.ReassignPlaces(ctx, tx)
	})
	if err != nil {
		s.Log.Warnw("place reassignment failed", "err", err)
	}
}

type BulkGrant struct {
	StudentID string `json:"studentId"`
	Category  string `json:"category"`
	Points    int    `json:"points"`
}

type UnitFailure struct {
	StudentID string `json:"studentId"`
	Reason    string `json:"reason"`
}

type BulkResult struct {
	BatchID   string        `json:"batchId"`
	Requested int           `json:"requested"`
	Succeeded int           `json:"succeeded"`
	Failures  []UnitFailure `json:"failures,omitempty"`
}

// GrantBulk applies one Grant unit per row under a shared batch id. Policy is
// skip-and-report: a failed student never aborts the rest, and the caller
// always gets exact counts. Drift from partial failures is repaired by
// RecomputeAllHouseTotals.
func (s *Service) GrantBulk(ctx context.Context, grants []BulkGrant, addedBy string, gtype models.GrantType) (*BulkResult, error) {
	res := &BulkResult{
		BatchID:   uuid.NewString(),
		Requested: len(grants),
	}
	for _, g := range grants {
		if _, err := s.Grant(ctx, g.StudentID, g.Category, g.Points, addedBy, gtype, &res.BatchID); err != nil {
			s.Log.Warnw("bulk grant unit failed", "batch", res.BatchID, "student", g.StudentID, "err", err)
			res.Failures = append(res.Failures, UnitFailure{StudentID: g.StudentID, Reason: err.Error()})
			continue
		}
		res.Succeeded++
	}
	if len(res.Failures) > 0 {
		return res, ErrPartialBatch
	}
	return res, nil
}

// GrantHouseBonus awards points directly to a house. The category is
// informational; nothing is attributed to any student.
func (s *Service) GrantHouseBonus(ctx context.Context, houseID, category string, amount int, reason, addedBy string) (*models.BonusEntry, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if reason == "" {
		return nil, ErrEmptyReason
	}
	_, ok, err := s.Cats.Lookup(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	entry := models.BonusEntry{
		HouseID:   houseID,
		Category:  category,
		Points:    amount,
		Reason:    reason,
		AddedBy:   addedBy,
		CreatedAt: s.Now().UTC(),
	}
	err = db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := db.GetHouseForUpdate(ctx, tx, houseID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("house %s: %w", houseID, ErrNotFound)
			}
			return err
		}
		id, err := db.InsertBonus(ctx, tx, entry)
		if err != nil {
			return fmt.Errorf("append bonus: %w", err)
		}
		entry.ID = id
		return db.AddHouseBonusPoints(ctx, tx, houseID, amount)
	})
	if err != nil {
		return nil, err
	}
	s.syncPlaces(ctx)
	return &entry, nil
}

// RemoveBonus hard-deletes a ledger entry and recomputes the house's totals in
// the same transaction. The recompute is not optional: without it bonus points
// silently double- or under-count.
func (s *Service) RemoveBonus(ctx context.Context, houseID string, entryID int64) error {
	err := db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		house, err := db.GetHouseForUpdate(ctx, tx, houseID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("house %s: %w", houseID, ErrNotFound)
			}
			return err
		}
		deleted, err := db.DeleteBonus(ctx, tx, houseID, entryID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("bonus entry %d: %w", entryID, ErrNotFound)
		}

		bonusSum, err := db.SumBonusForHouse(ctx, tx, houseID)
		if err != nil {
			return err
		}
		studentSum, err := db.SumStudentTotalsForHouse(ctx, tx, house.Name)
		if err != nil {
			return err
		}
		return db.SetHouseAggregates(ctx, tx, houseID, studentSum, bonusSum, studentSum+bonusSum)
	})
	if err != nil {
		return err
	}
	s.syncPlaces(ctx)
	return nil
}

// RecomputeAllHouseTotals is the authoritative repair path: every house's
// aggregates are rederived from the student and bonus ledgers, corrections are
// written, and the before/after diff per corrected house is reported. Running
// it twice with no intervening writes yields zero diffs the second time.
func (s *Service) RecomputeAllHouseTotals(ctx context.Context) ([]models.HouseDiff, error) {
	unlock := s.locks.lock("places")
	defer unlock()

	var diffs []models.HouseDiff
	err := db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		diffs, err = recomputeHouses(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(diffs) > 0 {
		metrics.RecomputeDiffs.Add(float64(len(diffs)))
		s.Log.Infow("reconciliation corrected houses", "count", len(diffs))
	}
	return diffs, nil
}

func recomputeHouses(ctx context.Context, tx *sql.Tx) ([]models.HouseDiff, error) {
	houses, err := db.ListHouses(ctx, tx)
	if err != nil {
		return nil, err
	}
	studentSums, err := db.SumStudentTotalsByHouse(ctx, tx)
	if err != nil {
		return nil, err
	}
	bonusSums, err := db.SumBonusByHouse(ctx, tx)
	if err != nil {
		return nil, err
	}

	var diffs []models.HouseDiff
	for _, h := range houses {
		studentPts := studentSums[h.Name]
		bonusPts := bonusSums[h.ID]
		totalPts := studentPts + bonusPts
		if studentPts == h.StudentPoints && bonusPts == h.BonusPoints && totalPts == h.TotalPoints {
			continue
		}
		if err := db.SetHouseAggregates(ctx, tx, h.ID, studentPts, bonusPts, totalPts); err != nil {
			return nil, err
		}
		diffs = append(diffs, models.HouseDiff{
			HouseID:           h.ID,
			Name:              h.Name,
			OldStudentPoints:  h.StudentPoints,
			NewStudentPoints:  studentPts,
			OldBonusPoints:    h.BonusPoints,
			NewBonusPoints:    bonusPts,
			OldTotalPoints:    h.TotalPoints,
			NewTotalPoints:    totalPts,
			StudentPointsDiff: studentPts - h.StudentPoints,
			BonusPointsDiff:   bonusPts - h.BonusPoints,
			TotalPointsDiff:   totalPts - h.TotalPoints,
		})
	}
	if err := db.ReassignPlaces(ctx, tx); err != nil {
		return nil, err
	}
	return diffs, nil
}

type RosterResult struct {
	Imported int           `json:"imported"`
	Skipped  []UnitFailure `json:"skipped,omitempty"`
}

// ResetRoster replaces the whole student body. Rows referencing an unknown
// house are skipped and reported; everything else commits in one transaction,
// followed by a full recompute so house student subtotals drop to zero.
func (s *Service) ResetRoster(ctx context.Context, rows []models.Student) (*RosterResult, error) {
	unlock := s.locks.lock("places")
	defer unlock()

	houseNames := make(map[string]bool)
	houses, err := db.ListHouses(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	for _, h := range houses {
		houseNames[h.Name] = true
	}

	res := &RosterResult{}
	err = db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := db.DeleteAllStudents(ctx, tx); err != nil {
			return err
		}
		if err := db.ClearHouseCategoryPoints(ctx, tx); err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, r := range rows {
			switch {
			case r.ID == "":
				res.Skipped = append(res.Skipped, UnitFailure{StudentID: r.ID, Reason: "empty id"})
				continue
			case seen[r.ID]:
				res.Skipped = append(res.Skipped, UnitFailure{StudentID: r.ID, Reason: "duplicate id"})
				continue
			case !houseNames[r.HouseName]:
				res.Skipped = append(res.Skipped, UnitFailure{StudentID: r.ID, Reason: "unknown house " + r.HouseName})
				continue
			}
			if err := db.UpsertStudent(ctx, tx, r); err != nil {
				return fmt.Errorf("import %s: %w", r.ID, err)
			}
			seen[r.ID] = true
			res.Imported++
		}
		_, err := recomputeHouses(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(res.Skipped) > 0 {
		return res, ErrPartialBatch
	}
	return res, nil
}
