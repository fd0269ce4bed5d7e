package points

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/columbiaprep/house-points-app-sub000/internal/db"
	"github.com/columbiaprep/house-points-app-sub000/internal/metrics"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

// RequestRollback opens the two-phase reversal of a bulk/CSV batch: it replays
// the batch's events into a preview, mints a confirmation code and stores a
// pending request. The code is returned exactly once, here.
func (s *Service) RequestRollback(ctx context.Context, batchID, requestedBy string) (*models.RollbackRequest, error) {
	existing, err := db.GetRollbackRequest(ctx, s.DB, batchID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing != nil && existing.Status != models.RollbackCancelled {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrAlreadyRequested)
	}

	events, err := db.EventsByBatch(ctx, s.DB, batchID)
	if err != nil {
		return nil, err
	}
	preview := previewBatch(events)
	if preview.StudentsAffected == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrBatchNotFound)
	}

	req := models.RollbackRequest{
		BatchID:          batchID,
		RequestedBy:      requestedBy,
		RequestedAt:      s.Now().UTC(),
		Status:           models.RollbackPending,
		ConfirmationCode: NewConfirmationCode(),
		Preview:          preview,
	}
	if err := db.UpsertRollbackRequest(ctx, s.DB, req); err != nil {
		return nil, err
	}
	metrics.Rollbacks.WithLabelValues("requested").Inc()
	s.Log.Infow("rollback requested", "batch", batchID, "by", requestedBy,
		"students", preview.StudentsAffected, "points", preview.TotalPointsToRemove)
	return &req, nil
}

// previewBatch sums a batch's net effect per student and category. Legacy
// aggregate-only events carry no real student, and already-reversed events
// will be skipped by the execution loop, so both are excluded: the preview
// must describe exactly what a confirm would reverse.
func previewBatch(events []models.PointEvent) models.RollbackPreview {
	p := models.RollbackPreview{Breakdown: make(map[string]int)}
	students := make(map[string]bool)
	for _, ev := range events {
		if ev.StudentID == models.LegacyAggregateStudentID || ev.Reversed {
			continue
		}
		students[ev.StudentID] = true
		p.Breakdown[ev.Category] += ev.Points
		p.TotalPointsToRemove += ev.Points
		if p.AddedBy == "" {
			p.AddedBy = ev.AddedBy
			p.Timestamp = ev.CreatedAt
		}
	}
	p.StudentsAffected = len(students)
	return p
}

type RollbackResult struct {
	BatchID   string        `json:"batchId"`
	Reversed  int           `json:"reversed"`
	Remaining int           `json:"remaining"`
	Failures  []UnitFailure `json:"failures,omitempty"`
}

// ConfirmRollback executes a pending rollback after the cooling-off period,
// provided the operator retypes the matching code. Each event is reversed in
// its own transaction, so a partial failure leaves reversed students correctly
// reversed; the request stays pending and a retry skips them.
func (s *Service) ConfirmRollback(ctx context.Context, batchID, confirmedBy, code string) (*RollbackResult, error) {
	unlock := s.locks.lock("rollback:" + batchID)
	defer unlock()

	req, err := db.GetRollbackRequest(ctx, s.DB, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rollback for batch %s: %w", batchID, ErrNotFound)
		}
		return nil, err
	}
	if req.Status != models.RollbackPending {
		return nil, fmt.Errorf("batch %s is %s: %w", batchID, req.Status, ErrNotPending)
	}
	if req.ConfirmationCode != code {
		metrics.Rollbacks.WithLabelValues("code_mismatch").Inc()
		return nil, ErrConfirmationMismatch
	}
	if elapsed := s.Now().Sub(req.RequestedAt); elapsed < s.CoolingOff {
		return nil, fmt.Errorf("%w: %s of %s elapsed", ErrCoolingOffNotElapsed, elapsed.Round(time.Second), s.CoolingOff)
	}

	events, err := db.EventsByBatch(ctx, s.DB, batchID)
	if err != nil {
		return nil, err
	}

	res := &RollbackResult{BatchID: batchID}
	reversalBatch := "rollback:" + batchID
	for _, ev := range events {
		if ev.StudentID == models.LegacyAggregateStudentID || ev.Reversed {
			continue
		}
		if err := s.reverseEvent(ctx, ev, confirmedBy, reversalBatch); err != nil {
			s.Log.Warnw("rollback unit failed", "batch", batchID, "event", ev.ID, "student", ev.StudentID, "err", err)
			res.Failures = append(res.Failures, UnitFailure{StudentID: ev.StudentID, Reason: err.Error()})
			continue
		}
		res.Reversed++
	}
	if res.Reversed > 0 {
		s.syncPlaces(ctx)
	}
	res.Remaining = len(res.Failures)

	if res.Remaining > 0 {
		metrics.Rollbacks.WithLabelValues("partial").Inc()
		return res, ErrPartialBatch
	}
	if err := db.SetRollbackStatus(ctx, s.DB, batchID, models.RollbackExecuted); err != nil {
		return res, err
	}
	metrics.Rollbacks.WithLabelValues("executed").Inc()
	s.Log.Infow("rollback executed", "batch", batchID, "by", confirmedBy, "reversed", res.Reversed)
	return res, nil
}

// reverseEvent applies the negated delta and marks the original event reversed,
// atomically. Category validity is deliberately not rechecked: a reversal must
// restore prior state even if the category was deactivated since.
func (s *Service) reverseEvent(ctx context.Context, ev models.PointEvent, confirmedBy, reversalBatch string) error {
	return db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		student, err := db.GetStudentForUpdate(ctx, tx, ev.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("student %s: %w", ev.StudentID, ErrNotFound)
			}
			return err
		}
		houseID, err := db.HouseIDByName(ctx, tx, student.HouseName)
		if err != nil {
			return fmt.Errorf("house %s: %w", student.HouseName, err)
		}
		if _, err := db.GetHouseForUpdate(ctx, tx, houseID); err != nil {
			return err
		}
		if err := db.AddStudentPoints(ctx, tx, ev.StudentID, ev.Category, -ev.Points); err != nil {
			return err
		}
		if err := db.AddHouseStudentPoints(ctx, tx, houseID, ev.Category, -ev.Points); err != nil {
			return err
		}
		if _, err := db.InsertEvent(ctx, tx, models.PointEvent{
			StudentID:   ev.StudentID,
			StudentName: student.Name,
			HouseName:   student.HouseName,
			Category:    ev.Category,
			Points:      -ev.Points,
			AddedBy:     confirmedBy,
			CreatedAt:   s.Now().UTC(),
			Type:        ev.Type,
			BatchID:     &reversalBatch,
		}); err != nil {
			return err
		}
		return db.MarkEventReversed(ctx, tx, ev.ID)
	})
}

func (s *Service) CancelRollback(ctx context.Context, batchID, cancelledBy string) error {
	unlock := s.locks.lock("rollback:" + batchID)
	defer unlock()

	req, err := db.GetRollbackRequest(ctx, s.DB, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("rollback for batch %s: %w", batchID, ErrNotFound)
		}
		return err
	}
	if req.Status != models.RollbackPending {
		return fmt.Errorf("batch %s is %s: %w", batchID, req.Status, ErrNotPending)
	}
	if err := db.SetRollbackStatus(ctx, s.DB, batchID, models.RollbackCancelled); err != nil {
		return err
	}
	metrics.Rollbacks.WithLabelValues("cancelled").Inc()
	s.Log.Infow("rollback cancelled", "batch", batchID, "by", cancelledBy)
	return nil
}

// GetRollback returns the request without its confirmation code; the code is
// shown once, at request time.
func (s *Service) GetRollback(ctx context.Context, batchID string) (*models.RollbackRequest, error) {
	req, err := db.GetRollbackRequest(ctx, s.DB, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rollback for batch %s: %w", batchID, ErrNotFound)
		}
		return nil, err
	}
	req.ConfirmationCode = ""
	return req, nil
}
