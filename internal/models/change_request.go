package models

import "time"

// ChangeRequestState represents the lifecycle of a change request.
// PENDING is the only state that admits a transition; APPROVED and
// REJECTED are terminal.
type ChangeRequestState string

const (
	ChangeRequestStatePending  ChangeRequestState = "PENDING"
	ChangeRequestStateApproved ChangeRequestState = "APPROVED"
	ChangeRequestStateRejected ChangeRequestState = "REJECTED"
)

// ChangeRequest is a teacher-initiated proposal to move one of their
// slots to a different day and time window.
type ChangeRequest struct {
	ID            string             `db:"id" json:"id"`
	TeacherID     string             `db:"teacher_id" json:"teacher_id"`
	GroupID       string             `db:"group_id" json:"group_id"`
	OriginalDay   DayOfWeek          `db:"original_day" json:"original_day"`
	ProposedDay   DayOfWeek          `db:"proposed_day" json:"proposed_day"`
	ProposedStart TimeOfDay          `db:"proposed_start" json:"proposed_start"`
	ProposedEnd   TimeOfDay          `db:"proposed_end" json:"proposed_end"`
	Reason        string             `db:"reason" json:"reason"`
	State         ChangeRequestState `db:"state" json:"state"`
	ResolvedAt    *time.Time         `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// ChangeRequestFilter provides filters for listing change requests.
type ChangeRequestFilter struct {
	TeacherID string
	GroupID   string
	State     ChangeRequestState
	Page      int
	PageSize  int
}
