package models

import "time"

// Subject is a course of study identified by a unique code.
type Subject struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Code      string    `db:"code" json:"code"`
	Credits   int       `db:"credits" json:"credits"`
	Area      string    `db:"area" json:"area"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
