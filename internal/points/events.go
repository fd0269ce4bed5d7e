package points

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/columbiaprep/house-points-app-sub000/internal/db"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

// DeleteEvent removes an individually-entered event and undoes its points in
// one transaction. Bulk and CSV events are refused: their only removal path is
// the batch rollback manager, which keeps partial-batch states impossible.
func (s *Service) DeleteEvent(ctx context.Context, eventID int64) error {
	err := db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		ev, err := db.GetEvent(ctx, tx, eventID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("event %d: %w", eventID, ErrNotFound)
			}
			return err
		}
		if ev.Type != models.GrantIndividual {
			return fmt.Errorf("event %d is %s: %w", eventID, ev.Type, ErrBulkEventProtected)
		}
		if ev.Reversed {
			return fmt.Errorf("event %d already reversed: %w", eventID, ErrNotFound)
		}
		if ev.StudentID == models.LegacyAggregateStudentID {
			return db.DeleteEvent(ctx, tx, eventID)
		}

		student, err := db.GetStudentForUpdate(ctx, tx, ev.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Student left the roster; drop the audit row alone. The next
				// recompute owns any aggregate correction.
				return db.DeleteEvent(ctx, tx, eventID)
			}
			return err
		}
		houseID, err := db.HouseIDByName(ctx, tx, student.HouseName)
		if err != nil {
			return err
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
		return db.DeleteEvent(ctx, tx, eventID)
	})
	if err != nil {
		return err
	}
	s.syncPlaces(ctx)
	return nil
}
