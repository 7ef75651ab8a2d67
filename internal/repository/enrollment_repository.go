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

const enrollmentColumns = `id, student_id, group_id, period_id, state, created_at, updated_at`

// EnrollmentRepository persists enrollments and answers the count and
// existence queries the constraint validator runs.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository instantiates an enrollment repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new enrollment row.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	target := r.exec(exec)
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.State == "" {
		enrollment.State = models.EnrollmentStateActive
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now

	const query = `INSERT INTO enrollments (id, student_id, group_id, period_id, state, created_at, updated_at)
	VALUES (:id, :student_id, :group_id, :period_id, :state, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// FindByID loads an enrollment by identifier.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetail loads an enrollment joined with group and subject identity.
func (r *EnrollmentRepository) FindDetail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.group_id, e.period_id, e.state, e.created_at, e.updated_at,
	       g.subject_id, g.name AS group_name, s.name AS subject_name
	FROM enrollments e
	JOIN groups g ON g.id = e.group_id
	JOIN subjects s ON s.id = g.subject_id
	WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns enrollments matching the filter with a total count.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e JOIN groups g ON g.id = e.group_id JOIN subjects s ON s.id = g.subject_id WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("e.group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.PeriodID != "" {
		conditions = append(conditions, fmt.Sprintf("e.period_id = $%d", len(args)+1))
		args = append(args, filter.PeriodID)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("e.state = $%d", len(args)+1))
		args = append(args, filter.State)
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

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.group_id, e.period_id, e.state, e.created_at, e.updated_at,
	       g.subject_id, g.name AS group_name, s.name AS subject_name %s ORDER BY e.created_at DESC, e.id ASC LIMIT %d OFFSET %d`, base, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	return enrollments, total, nil
}

// ExistsActive reports whether the student already holds an active
// enrollment in the given group and period.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, exec sqlx.ExtContext, studentID, groupID, periodID, excludeID string) (bool, error) {
	target := r.exec(exec)
	base := `SELECT 1 FROM enrollments WHERE student_id = $1 AND group_id = $2 AND period_id = $3 AND state = 'ACTIVE'`
	args := []interface{}{studentID, groupID, periodID}
	if excludeID != "" {
		base += " AND id <> $4"
		args = append(args, excludeID)
	}
	var exists int
	if err := sqlx.GetContext(ctx, target, &exists, base+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check duplicate enrollment: %w", err)
	}
	return true, nil
}

// CountActiveByGroup returns the number of active enrollments in a group
// for a period. Run inside a transaction that holds the group row lock.
func (r *EnrollmentRepository) CountActiveByGroup(ctx context.Context, exec sqlx.ExtContext, groupID, periodID, excludeID string) (int, error) {
	target := r.exec(exec)
	base := `SELECT COUNT(*) FROM enrollments WHERE group_id = $1 AND period_id = $2 AND state = 'ACTIVE'`
	args := []interface{}{groupID, periodID}
	if excludeID != "" {
		base += " AND id <> $3"
		args = append(args, excludeID)
	}
	var count int
	if err := sqlx.GetContext(ctx, target, &count, base, args...); err != nil {
		return 0, fmt.Errorf("count group enrollments: %w", err)
	}
	return count, nil
}

// CountActiveByStudent returns the number of active enrollments a student
// holds in a period.
func (r *EnrollmentRepository) CountActiveByStudent(ctx context.Context, exec sqlx.ExtContext, studentID, periodID, excludeID string) (int, error) {
	target := r.exec(exec)
	base := `SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND period_id = $2 AND state = 'ACTIVE'`
	args := []interface{}{studentID, periodID}
	if excludeID != "" {
		base += " AND id <> $3"
		args = append(args, excludeID)
	}
	var count int
	if err := sqlx.GetContext(ctx, target, &count, base, args...); err != nil {
		return 0, fmt.Errorf("count student enrollments: %w", err)
	}
	return count, nil
}

// FindActiveBySubject returns the first active enrollment of the student
// in any group of the given subject for the period, ordered by group so
// the reported duplicate is stable.
func (r *EnrollmentRepository) FindActiveBySubject(ctx context.Context, exec sqlx.ExtContext, studentID, subjectID, periodID, excludeID string) (*models.EnrollmentDetail, error) {
	target := r.exec(exec)
	base := `SELECT e.id, e.student_id, e.group_id, e.period_id, e.state, e.created_at, e.updated_at,
	       g.subject_id, g.name AS group_name, s.name AS subject_name
	FROM enrollments e
	JOIN groups g ON g.id = e.group_id
	JOIN subjects s ON s.id = g.subject_id
	WHERE e.student_id = $1 AND g.subject_id = $2 AND e.period_id = $3 AND e.state = 'ACTIVE'`
	args := []interface{}{studentID, subjectID, periodID}
	if excludeID != "" {
		base += " AND e.id <> $4"
		args = append(args, excludeID)
	}
	base += " ORDER BY e.group_id ASC, e.id ASC LIMIT 1"

	var detail models.EnrollmentDetail
	if err := sqlx.GetContext(ctx, target, &detail, base, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find enrollment by subject: %w", err)
	}
	return &detail, nil
}

// UpdateGroup moves an enrollment to a different group.
func (r *EnrollmentRepository) UpdateGroup(ctx context.Context, exec sqlx.ExtContext, id, groupID string) error {
	target := r.exec(exec)
	const query = `UPDATE enrollments SET group_id = $1, updated_at = $2 WHERE id = $3 AND state = 'ACTIVE'`
	result, err := target.ExecContext(ctx, query, groupID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update enrollment group: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check enrollment update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Reactivate flips a withdrawn enrollment back to ACTIVE.
func (r *EnrollmentRepository) Reactivate(ctx context.Context, exec sqlx.ExtContext, id string) error {
	target := r.exec(exec)
	const query = `UPDATE enrollments SET state = 'ACTIVE', updated_at = $1 WHERE id = $2 AND state = 'WITHDRAWN'`
	result, err := target.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reactivate enrollment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check reactivate rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListActiveUserIDsByGroup returns the user ids behind every active
// enrollment of a group in a period, for fan-out notifications.
func (r *EnrollmentRepository) ListActiveUserIDsByGroup(ctx context.Context, exec sqlx.ExtContext, groupID, periodID string) ([]string, error) {
	target := r.exec(exec)
	const query = `SELECT s.user_id
	FROM enrollments e
	JOIN students s ON s.id = e.student_id
	WHERE e.group_id = $1 AND e.period_id = $2 AND e.state = 'ACTIVE'
	ORDER BY e.id ASC`
	var userIDs []string
	if err := sqlx.SelectContext(ctx, target, &userIDs, query, groupID, periodID); err != nil {
		return nil, fmt.Errorf("list enrolled user ids: %w", err)
	}
	return userIDs, nil
}

// Withdraw flips an active enrollment to WITHDRAWN.
func (r *EnrollmentRepository) Withdraw(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET state = 'WITHDRAWN', updated_at = $1 WHERE id = $2 AND state = 'ACTIVE'`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("withdraw enrollment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check withdraw rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
