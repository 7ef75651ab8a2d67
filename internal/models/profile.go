package models

import "time"

// Teacher is the teaching profile linked to a user account.
type Teacher struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	EmployeeID string    `db:"employee_id" json:"employee_id"`
	Office     string    `db:"office" json:"office,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Student is the student profile linked to a user account.
type Student struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	StudentNumber string    `db:"student_number" json:"student_number"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
