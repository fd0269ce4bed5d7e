package points

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/columbiaprep/house-points-app-sub000/internal/db"
	"github.com/columbiaprep/house-points-app-sub000/internal/metrics"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

// RebuildProjections rederives the house summary and per-house student ranking
// projections from current records. It is a pure function of store state:
// back-to-back runs with no intervening writes produce identical projections.
func (s *Service) RebuildProjections(ctx context.Context) error {
	now := s.Now().UTC()
	return db.InTx(ctx, s.DB, func(tx *sql.Tx) error {
		houses, err := db.ListHouses(ctx, tx)
		if err != nil {
			return err
		}
		for _, h := range houses {
			if err := db.UpsertHouseSummary(ctx, tx, models.HouseSummary{
				HouseID:       h.ID,
				Name:          h.Name,
				ColorName:     h.ColorName,
				AccentColor:   h.AccentColor,
				Place:         h.Place,
				StudentPoints: h.StudentPoints,
				BonusPoints:   h.BonusPoints,
				TotalPoints:   h.TotalPoints,
				LastUpdated:   now,
			}); err != nil {
				return fmt.Errorf("summary %s: %w", h.ID, err)
			}

			students, err := db.ListStudentsByHouse(ctx, tx, h.Name)
			if err != nil {
				return err
			}
			rankings := make([]models.StudentRanking, 0, len(students))
			for i, st := range students {
				rankings = append(rankings, models.StudentRanking{
					HouseID:     h.ID,
					StudentID:   st.ID,
					StudentName: st.Name,
					Rank:        i + 1,
					TotalPoints: st.TotalPoints,
				})
			}
			if err := db.ReplaceStudentRankings(ctx, tx, h.ID, rankings, now); err != nil {
				return fmt.Errorf("rankings %s: %w", h.ID, err)
			}
		}
		return nil
	})
}

func (s *Service) projectionFresh(updated []models.HouseSummary) bool {
	if len(updated) == 0 {
		return false
	}
	cutoff := s.Now().Add(-s.Staleness)
	for _, u := range updated {
		if u.LastUpdated.Before(cutoff) {
			return false
		}
	}
	return true
}

// FetchHouseSummaries serves the leaderboard from the precomputed projection,
// falling back to live aggregation when the projection is absent or stale.
func (s *Service) FetchHouseSummaries(ctx context.Context) ([]models.HouseSummary, error) {
	sums, err := db.GetHouseSummaries(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	if s.projectionFresh(sums) {
		return sums, nil
	}

	metrics.ProjectionFallbacks.Inc()
	houses, err := db.ListHouses(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	live := make([]models.HouseSummary, 0, len(houses))
	for _, h := range houses {
		live = append(live, models.HouseSummary{
			HouseID:       h.ID,
			Name:          h.Name,
			ColorName:     h.ColorName,
			AccentColor:   h.AccentColor,
			Place:         h.Place,
			StudentPoints: h.StudentPoints,
			BonusPoints:   h.BonusPoints,
			TotalPoints:   h.TotalPoints,
			LastUpdated:   now,
		})
	}
	return live, nil
}

// FetchNearbyRankings returns up to 2*rng+1 entries centered on the student's
// position within the house ranking, or an empty slice when the student is not
// ranked in that house.
func (s *Service) FetchNearbyRankings(ctx context.Context, houseID, studentID string, rng int) ([]models.StudentRanking, error) {
	if rng < 0 {
		rng = 0
	}
	rankings, err := db.GetStudentRankings(ctx, s.DB, houseID)
	if err != nil {
		return nil, err
	}
	if !s.rankingsFresh(rankings) {
		metrics.ProjectionFallbacks.Inc()
		rankings, err = s.liveRankings(ctx, houseID)
		if err != nil {
			return nil, err
		}
	}

	idx := -1
	for i, r := range rankings {
		if r.StudentID == studentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return []models.StudentRanking{}, nil
	}
	lo := idx - rng
	if lo < 0 {
		lo = 0
	}
	hi := idx + rng + 1
	if hi > len(rankings) {
		hi = len(rankings)
	}
	return rankings[lo:hi], nil
}

func (s *Service) rankingsFresh(rankings []models.StudentRanking) bool {
	if len(rankings) == 0 {
		return false
	}
	cutoff := s.Now().Add(-s.Staleness)
	for _, r := range rankings {
		if r.LastUpdated.Before(cutoff) {
			return false
		}
	}
	return true
}

func (s *Service) liveRankings(ctx context.Context, houseID string) ([]models.StudentRanking, error) {
	house, err := db.GetHouse(ctx, s.DB, houseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("house %s: %w", houseID, ErrNotFound)
		}
		return nil, err
	}
	students, err := db.ListStudentsByHouse(ctx, s.DB, house.Name)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	out := make([]models.StudentRanking, 0, len(students))
	for i, st := range students {
		out = append(out, models.StudentRanking{
			HouseID:     houseID,
			StudentID:   st.ID,
			StudentName: st.Name,
			Rank:        i + 1,
			TotalPoints: st.TotalPoints,
			LastUpdated: now,
		})
	}
	return out, nil
}

// SnapshotLeaderboard stores the current standings as a dated jsonb row; a
// daily job calls this so historical rankings survive recomputes.
func (s *Service) SnapshotLeaderboard(ctx context.Context) error {
	sums, err := s.FetchHouseSummaries(ctx)
	if err != nil {
		return err
	}
	standings, err := json.Marshal(sums)
	if err != nil {
		return fmt.Errorf("marshal standings: %w", err)
	}
	return db.InsertLeaderboardSnapshot(ctx, s.DB, s.Now().UTC(), standings)
}
