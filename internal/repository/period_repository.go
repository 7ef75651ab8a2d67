package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/eduplan/eduplan-api/internal/models"
)

// PeriodRepository handles persistence for academic periods.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository instantiates a period repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

func (r *PeriodRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new period record.
func (r *PeriodRepository) Create(ctx context.Context, period *models.Period) error {
	if period.ID == "" {
		period.ID = uuid.NewString()
	}
	if period.State == "" {
		period.State = models.PeriodStateInactive
	}
	now := time.Now().UTC()
	if period.CreatedAt.IsZero() {
		period.CreatedAt = now
	}
	period.UpdatedAt = now

	const query = `INSERT INTO periods (id, name, start_date, end_date, state, created_at, updated_at)
	VALUES (:id, :name, :start_date, :end_date, :state, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, period); err != nil {
		return fmt.Errorf("create period: %w", err)
	}
	return nil
}

// FindByID loads a period by identifier.
func (r *PeriodRepository) FindByID(ctx context.Context, id string) (*models.Period, error) {
	const query = `SELECT id, name, start_date, end_date, state, created_at, updated_at FROM periods WHERE id = $1`
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// FindActive returns the currently active period. When more than one row
// is marked active the lowest identifier wins.
func (r *PeriodRepository) FindActive(ctx context.Context) (*models.Period, error) {
	const query = `SELECT id, name, start_date, end_date, state, created_at, updated_at
	FROM periods WHERE state = 'ACTIVE' ORDER BY id ASC LIMIT 1`
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query); err != nil {
		return nil, err
	}
	return &period, nil
}

// List returns periods matching the filter with a total count.
func (r *PeriodRepository) List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, int, error) {
	base := "FROM periods WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, filter.State)
	}
	if filter.Name != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Name+"%")
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT id, name, start_date, end_date, state, created_at, updated_at %s ORDER BY start_date DESC LIMIT %d OFFSET %d", base, size, offset)

	var periods []models.Period
	if err := r.db.SelectContext(ctx, &periods, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list periods: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count periods: %w", err)
	}

	return periods, total, nil
}

// Update modifies an existing period's descriptive fields.
func (r *PeriodRepository) Update(ctx context.Context, period *models.Period) error {
	period.UpdatedAt = time.Now().UTC()
	const query = `UPDATE periods SET name = :name, start_date = :start_date, end_date = :end_date, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, period)
	if err != nil {
		return fmt.Errorf("update period: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check period update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeactivateOthers flips every active period except the given one to
// INACTIVE. Runs inside the caller's transaction.
func (r *PeriodRepository) DeactivateOthers(ctx context.Context, exec sqlx.ExtContext, id string) error {
	target := r.exec(exec)
	const query = `UPDATE periods SET state = 'INACTIVE', updated_at = $1 WHERE state = 'ACTIVE' AND id <> $2`
	if _, err := target.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("deactivate other periods: %w", err)
	}
	return nil
}

// SetState updates the lifecycle state of one period.
func (r *PeriodRepository) SetState(ctx context.Context, exec sqlx.ExtContext, id string, state models.PeriodState) error {
	target := r.exec(exec)
	const query = `UPDATE periods SET state = $1, updated_at = $2 WHERE id = $3`
	result, err := target.ExecContext(ctx, query, state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set period state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check period state rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a period permanently.
func (r *PeriodRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM periods WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete period: %w", err)
	}
	return nil
}

// CountSlots returns the number of slots referencing a period.
func (r *PeriodRepository) CountSlots(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM slots WHERE period_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count period slots: %w", err)
	}
	return count, nil
}

// CountEnrollments returns the number of enrollments referencing a period.
func (r *PeriodRepository) CountEnrollments(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE period_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count period enrollments: %w", err)
	}
	return count, nil
}
