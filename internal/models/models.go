package models

import "time"

type Category struct {
	ID       int64  `db:"id"`
	Key      string `db:"key"`
	Name     string `db:"name"`
	IsActive bool   `db:"is_active"`
}

type Student struct {
	ID             string         `db:"id"` // school email, stable identifier
	Name           string         `db:"name"`
	Grade          int            `db:"grade"`
	HouseName      string         `db:"house_name"`
	TotalPoints    int            `db:"total_points"`
	CategoryPoints map[string]int `db:"-"`
}

type House struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	ColorName      string         `db:"color_name"`
	AccentColor    string         `db:"accent_color"`
	Place          int            `db:"place"`
	StudentPoints  int            `db:"student_points"`
	BonusPoints    int            `db:"bonus_points"`
	TotalPoints    int            `db:"total_points"`
	CategoryPoints map[string]int `db:"-"`
}

type BonusEntry struct {
	ID        int64     `db:"id"`
	HouseID   string    `db:"house_id"`
	Category  string    `db:"category_key"`
	Points    int       `db:"points"`
	Reason    string    `db:"reason"`
	AddedBy   string    `db:"added_by"`
	CreatedAt time.Time `db:"created_at"`
}

type GrantType string

const (
	GrantIndividual GrantType = "individual"
	GrantBulk       GrantType = "bulk"
	GrantCSV        GrantType = "csv"
)

// LegacyAggregateStudentID marks old events that carried only a house total
// and no real student. They are skipped by rollback replay and projections.
const LegacyAggregateStudentID = "__aggregate__"

type PointEvent struct {
	ID          int64     `db:"id"`
	StudentID   string    `db:"student_id"`
	StudentName string    `db:"student_name"`
	HouseName   string    `db:"house_name"`
	Category    string    `db:"category_key"`
	Points      int       `db:"points"`
	AddedBy     string    `db:"added_by"`
	CreatedAt   time.Time `db:"created_at"`
	Type        GrantType `db:"grant_type"`
	BatchID     *string   `db:"batch_id"`
	Reversed    bool      `db:"reversed"`
}

type RollbackStatus string

const (
	RollbackPending   RollbackStatus = "pending_confirmation"
	RollbackExecuted  RollbackStatus = "executed"
	RollbackCancelled RollbackStatus = "cancelled"
)

type RollbackPreview struct {
	StudentsAffected    int            `json:"studentsAffected"`
	TotalPointsToRemove int            `json:"totalPointsToRemove"`
	Breakdown           map[string]int `json:"breakdown"`
	AddedBy             string         `json:"addedBy"`
	Timestamp           time.Time      `json:"timestamp"`
}

type RollbackRequest struct {
	BatchID          string          `db:"batch_id"`
	RequestedBy      string          `db:"requested_by"`
	RequestedAt      time.Time       `db:"requested_at"`
	Status           RollbackStatus  `db:"status"`
	ConfirmationCode string          `db:"confirmation_code"`
	Preview          RollbackPreview `db:"-"`
}

// HouseSummary is the read projection behind the leaderboard view.
type HouseSummary struct {
	HouseID       string    `db:"house_id"`
	Name          string    `db:"name"`
	ColorName     string    `db:"color_name"`
	AccentColor   string    `db:"accent_color"`
	Place         int       `db:"place"`
	StudentPoints int       `db:"student_points"`
	BonusPoints   int       `db:"bonus_points"`
	TotalPoints   int       `db:"total_points"`
	LastUpdated   time.Time `db:"last_updated"`
}

type StudentRanking struct {
	HouseID     string    `db:"house_id"`
	StudentID   string    `db:"student_id"`
	StudentName string    `db:"student_name"`
	Rank        int       `db:"rank"`
	TotalPoints int       `db:"total_points"`
	LastUpdated time.Time `db:"last_updated"`
}

// HouseDiff reports one house corrected by a reconciliation sweep.
type HouseDiff struct {
	HouseID           string `json:"houseId"`
	Name              string `json:"name"`
	OldStudentPoints  int    `json:"oldStudentPoints"`
	NewStudentPoints  int    `json:"newStudentPoints"`
	OldBonusPoints    int    `json:"oldBonusPoints"`
	NewBonusPoints    int    `json:"newBonusPoints"`
	OldTotalPoints    int    `json:"oldTotalPoints"`
	NewTotalPoints    int    `json:"newTotalPoints"`
	StudentPointsDiff int    `json:"studentPointsDiff"`
	BonusPointsDiff   int    `json:"bonusPointsDiff"`
	TotalPointsDiff   int    `json:"totalPointsDiff"`
}
