package dto

// CreateEnrollmentRequest enrolls a student into a group. The period is
// always the active one; callers never pick it.
type CreateEnrollmentRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid4"`
	GroupID   string `json:"group_id" validate:"required,uuid4"`
}

// ValidateEnrollmentRequest dry-runs the constraint chain for a
// candidate enrollment without writing anything.
type ValidateEnrollmentRequest struct {
	StudentID           string `json:"student_id" validate:"required,uuid4"`
	GroupID             string `json:"group_id" validate:"required,uuid4"`
	ExcludeEnrollmentID string `json:"exclude_enrollment_id" validate:"omitempty,uuid4"`
}

// UpdateEnrollmentRequest moves an active enrollment to another group.
type UpdateEnrollmentRequest struct {
	GroupID string `json:"group_id" validate:"required,uuid4"`
}
