package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/eduplan/eduplan-api/internal/models"
)

// ClassroomRepository handles persistence for classrooms.
type ClassroomRepository struct {
	db *sqlx.DB
}

// NewClassroomRepository instantiates a classroom repository.
func NewClassroomRepository(db *sqlx.DB) *ClassroomRepository {
	return &ClassroomRepository{db: db}
}

func (r *ClassroomRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new classroom record.
func (r *ClassroomRepository) Create(ctx context.Context, classroom *models.Classroom) error {
	if classroom.ID == "" {
		classroom.ID = uuid.NewString()
	}
	if classroom.State == "" {
		classroom.State = models.ClassroomStateAvailable
	}
	now := time.Now().UTC()
	if classroom.CreatedAt.IsZero() {
		classroom.CreatedAt = now
	}
	classroom.UpdatedAt = now

	const query = `INSERT INTO classrooms (id, building, number, capacity, resources, state, created_at, updated_at)
	VALUES (:id, :building, :number, :capacity, :resources, :state, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, classroom); err != nil {
		return fmt.Errorf("create classroom: %w", err)
	}
	return nil
}

// FindByID loads a classroom by identifier.
func (r *ClassroomRepository) FindByID(ctx context.Context, id string) (*models.Classroom, error) {
	const query = `SELECT id, building, number, capacity, resources, state, created_at, updated_at FROM classrooms WHERE id = $1`
	var classroom models.Classroom
	if err := r.db.GetContext(ctx, &classroom, query, id); err != nil {
		return nil, err
	}
	return &classroom, nil
}

// LockByID loads a classroom row under FOR UPDATE. Serializes concurrent
// slot bookings against the same room.
func (r *ClassroomRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Classroom, error) {
	target := r.exec(exec)
	const query = `SELECT id, building, number, capacity, resources, state, created_at, updated_at FROM classrooms WHERE id = $1 FOR UPDATE`
	var classroom models.Classroom
	if err := sqlx.GetContext(ctx, target, &classroom, query, id); err != nil {
		return nil, err
	}
	return &classroom, nil
}

// List returns all classrooms ordered by building and number.
func (r *ClassroomRepository) List(ctx context.Context) ([]models.Classroom, error) {
	const query = `SELECT id, building, number, capacity, resources, state, created_at, updated_at FROM classrooms ORDER BY building ASC, number ASC`
	var classrooms []models.Classroom
	if err := r.db.SelectContext(ctx, &classrooms, query); err != nil {
		return nil, fmt.Errorf("list classrooms: %w", err)
	}
	return classrooms, nil
}

// Update modifies an existing classroom.
func (r *ClassroomRepository) Update(ctx context.Context, classroom *models.Classroom) error {
	classroom.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classrooms SET building = :building, number = :number, capacity = :capacity, resources = :resources, state = :state, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, classroom)
	if err != nil {
		return fmt.Errorf("update classroom: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check classroom update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a classroom permanently.
func (r *ClassroomRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM classrooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete classroom: %w", err)
	}
	return nil
}
