package models

import "time"

// ClassroomState marks whether a room can be scheduled.
type ClassroomState string

const (
	ClassroomStateAvailable   ClassroomState = "AVAILABLE"
	ClassroomStateUnavailable ClassroomState = "UNAVAILABLE"
)

// Classroom is a physical room identified by building and number.
type Classroom struct {
	ID        string         `db:"id" json:"id"`
	Building  string         `db:"building" json:"building"`
	Number    string         `db:"number" json:"number"`
	Capacity  int            `db:"capacity" json:"capacity"`
	Resources string         `db:"resources" json:"resources,omitempty"`
	State     ClassroomState `db:"state" json:"state"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}
