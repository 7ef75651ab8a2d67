package models

import "time"

// Group is a specific offering of a subject with a bounded capacity.
type Group struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	Semester    int       `db:"semester" json:"semester"`
	MaxCapacity int       `db:"max_capacity" json:"max_capacity"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// GroupDetail enriches Group with its subject for list endpoints.
type GroupDetail struct {
	Group
	SubjectName string `db:"subject_name" json:"subject_name"`
	SubjectCode string `db:"subject_code" json:"subject_code"`
}

// GroupFilter defines filters supported by group listings.
type GroupFilter struct {
	SubjectID string
	Semester  int
	Name      string
	Page      int
	PageSize  int
}
