package models

import "time"

// EnrollmentState represents the lifecycle of an enrollment.
type EnrollmentState string

const (
	EnrollmentStateActive    EnrollmentState = "ACTIVE"
	EnrollmentStateWithdrawn EnrollmentState = "WITHDRAWN"
)

// Enrollment captures a student's membership in a group for a period.
type Enrollment struct {
	ID        string          `db:"id" json:"id"`
	StudentID string          `db:"student_id" json:"student_id"`
	GroupID   string          `db:"group_id" json:"group_id"`
	PeriodID  string          `db:"period_id" json:"period_id"`
	State     EnrollmentState `db:"state" json:"state"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with group and subject identity,
// which the constraint validator needs in one read.
type EnrollmentDetail struct {
	Enrollment
	SubjectID   string `db:"subject_id" json:"subject_id"`
	GroupName   string `db:"group_name" json:"group_name"`
	SubjectName string `db:"subject_name" json:"subject_name"`
}

// EnrollmentCandidate is a proposed enrollment submitted for validation.
// ExcludeID names the enrollment being edited, if any.
type EnrollmentCandidate struct {
	StudentID string
	GroupID   string
	PeriodID  string
}

// EnrollmentRuleError carries the failed constraint and, where it
// applies, the conflicting entity and capacity numbers.
type EnrollmentRuleError struct {
	Reason             string `json:"reason"`
	Message            string `json:"message"`
	ConflictingGroupID string `json:"conflicting_group_id,omitempty"`
	ConflictingSlotID  string `json:"conflicting_slot_id,omitempty"`
	Counted            int    `json:"counted,omitempty"`
	Max                int    `json:"max,omitempty"`
}

// Error implements the error interface.
func (e *EnrollmentRuleError) Error() string {
	return e.Message
}

// StudentLoad is a student's academic load for the active period: the
// active enrollments plus the weekly slots of their groups.
type StudentLoad struct {
	PeriodID    string             `json:"period_id"`
	Enrollments []EnrollmentDetail `json:"enrollments"`
	Slots       []Slot             `json:"slots"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	GroupID   string
	PeriodID  string
	State     EnrollmentState
	Page      int
	PageSize  int
}
