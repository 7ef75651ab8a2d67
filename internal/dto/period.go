package dto

import "time"

// CreatePeriodRequest creates a new academic period. Periods start
// INACTIVE; activation is a separate operation.
type CreatePeriodRequest struct {
	Name      string    `json:"name" validate:"required,max=64"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

// UpdatePeriodRequest updates descriptive fields of a period.
type UpdatePeriodRequest struct {
	Name      string    `json:"name" validate:"required,max=64"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}
