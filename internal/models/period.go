package models

import "time"

// PeriodState represents the lifecycle state of an academic period.
type PeriodState string

const (
	PeriodStateActive   PeriodState = "ACTIVE"
	PeriodStateInactive PeriodState = "INACTIVE"
)

// Period models an academic term. At most one period is ACTIVE at any
// time; the exclusivity is enforced transactionally on every activation.
type Period struct {
	ID        string      `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	StartDate time.Time   `db:"start_date" json:"start_date"`
	EndDate   time.Time   `db:"end_date" json:"end_date"`
	State     PeriodState `db:"state" json:"state"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// PeriodFilter defines filters supported by list endpoints.
type PeriodFilter struct {
	State    PeriodState
	Name     string
	Page     int
	PageSize int
}
