package models

import "time"

// SlotState represents the lifecycle of a scheduled meeting.
type SlotState string

const (
	SlotStateActive    SlotState = "ACTIVE"
	SlotStateCancelled SlotState = "CANCELLED"
)

// Slot is one scheduled weekly meeting of a group in a classroom with a
// teacher on a specific day and time window.
type Slot struct {
	ID          string    `db:"id" json:"id"`
	PeriodID    string    `db:"period_id" json:"period_id"`
	GroupID     string    `db:"group_id" json:"group_id"`
	ClassroomID string    `db:"classroom_id" json:"classroom_id"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	Day         DayOfWeek `db:"day_of_week" json:"day_of_week"`
	StartTime   TimeOfDay `db:"start_time" json:"start_time"`
	EndTime     TimeOfDay `db:"end_time" json:"end_time"`
	State       SlotState `db:"state" json:"state"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// SlotCandidate is a proposed slot checked for conflicts before any row
// is written. Exclude names the slot being edited, if any.
type SlotCandidate struct {
	PeriodID    string
	ClassroomID string
	TeacherID   string
	Day         DayOfWeek
	StartTime   TimeOfDay
	EndTime     TimeOfDay
}

// SlotConflictResult reports the first overlapping slot, if any, in each
// of the two conflict dimensions. Nil fields mean no conflict.
type SlotConflictResult struct {
	ClassroomConflict *Slot `json:"classroom_conflict,omitempty"`
	TeacherConflict   *Slot `json:"teacher_conflict,omitempty"`
}

// HasConflict reports whether either dimension collided.
func (r SlotConflictResult) HasConflict() bool {
	return r.ClassroomConflict != nil || r.TeacherConflict != nil
}

// SlotConflictError carries the conflicting slot for error payloads.
type SlotConflictError struct {
	Dimension string `json:"dimension"`
	Message   string `json:"message"`
	Slot      Slot   `json:"slot"`
}

// Error implements the error interface.
func (e *SlotConflictError) Error() string {
	return e.Message
}

// SlotFilter defines filters supported by timetable listings.
type SlotFilter struct {
	PeriodID    string
	GroupID     string
	ClassroomID string
	TeacherID   string
	Day         *DayOfWeek
	State       SlotState
	Page        int
	PageSize    int
}
