package dto

// CreateSlotRequest books a weekly slot for a group. Times use "HH:MM".
type CreateSlotRequest struct {
	PeriodID    string `json:"period_id" validate:"required,uuid4"`
	GroupID     string `json:"group_id" validate:"required,uuid4"`
	ClassroomID string `json:"classroom_id" validate:"required,uuid4"`
	TeacherID   string `json:"teacher_id" validate:"required,uuid4"`
	Day         int    `json:"day_of_week" validate:"min=0,max=5"`
	StartTime   string `json:"start_time" validate:"required"`
	EndTime     string `json:"end_time" validate:"required"`
}

// CheckConflictRequest probes a candidate window without writing
// anything. ExcludeSlotID names the slot being edited, if any.
type CheckConflictRequest struct {
	PeriodID      string `json:"period_id" validate:"required,uuid4"`
	ClassroomID   string `json:"classroom_id" validate:"required,uuid4"`
	TeacherID     string `json:"teacher_id" validate:"required,uuid4"`
	Day           int    `json:"day_of_week" validate:"min=0,max=5"`
	StartTime     string `json:"start_time" validate:"required"`
	EndTime       string `json:"end_time" validate:"required"`
	ExcludeSlotID string `json:"exclude_slot_id" validate:"omitempty,uuid4"`
}

// MoveSlotRequest relocates an existing slot to a new day and window.
type MoveSlotRequest struct {
	Day       int    `json:"day_of_week" validate:"min=0,max=5"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}
