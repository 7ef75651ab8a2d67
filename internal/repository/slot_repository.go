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

const slotColumns = `id, period_id, group_id, classroom_id, teacher_id, day_of_week, start_time, end_time, state, created_at, updated_at`

// SlotRepository persists scheduled slots and answers overlap queries.
type SlotRepository struct {
	db *sqlx.DB
}

// NewSlotRepository instantiates a slot repository.
func NewSlotRepository(db *sqlx.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

func (r *SlotRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new slot row.
func (r *SlotRepository) Create(ctx context.Context, exec sqlx.ExtContext, slot *models.Slot) error {
	target := r.exec(exec)
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.State == "" {
		slot.State = models.SlotStateActive
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now

	const query = `INSERT INTO slots (id, period_id, group_id, classroom_id, teacher_id, day_of_week, start_time, end_time, state, created_at, updated_at)
	VALUES (:id, :period_id, :group_id, :classroom_id, :teacher_id, :day_of_week, :start_time, :end_time, :state, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, slot); err != nil {
		return fmt.Errorf("create slot: %w", err)
	}
	return nil
}

// FindByID loads a slot by identifier.
func (r *SlotRepository) FindByID(ctx context.Context, id string) (*models.Slot, error) {
	query := fmt.Sprintf(`SELECT %s FROM slots WHERE id = $1`, slotColumns)
	var slot models.Slot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// FindByGroupAndDay locates the active slot of a group on a given day
// within one period. A non-empty teacherID narrows the lookup to that
// teacher's slot, so co-taught groups resolve to the right row.
func (r *SlotRepository) FindByGroupAndDay(ctx context.Context, exec sqlx.ExtContext, groupID, teacherID, periodID string, day models.DayOfWeek) (*models.Slot, error) {
	target := r.exec(exec)
	base := fmt.Sprintf(`SELECT %s FROM slots WHERE group_id = $1 AND period_id = $2 AND day_of_week = $3 AND state = 'ACTIVE'`, slotColumns)
	args := []interface{}{groupID, periodID, day}
	if teacherID != "" {
		base += " AND teacher_id = $4"
		args = append(args, teacherID)
	}
	base += " ORDER BY id ASC LIMIT 1"

	var slot models.Slot
	if err := sqlx.GetContext(ctx, target, &slot, base, args...); err != nil {
		return nil, err
	}
	return &slot, nil
}

// List returns slots matching the filter with a total count.
func (r *SlotRepository) List(ctx context.Context, filter models.SlotFilter) ([]models.Slot, int, error) {
	base := "FROM slots WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.PeriodID != "" {
		conditions = append(conditions, fmt.Sprintf("period_id = $%d", len(args)+1))
		args = append(args, filter.PeriodID)
	}
	if filter.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.ClassroomID != "" {
		conditions = append(conditions, fmt.Sprintf("classroom_id = $%d", len(args)+1))
		args = append(args, filter.ClassroomID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Day != nil {
		conditions = append(conditions, fmt.Sprintf("day_of_week = $%d", len(args)+1))
		args = append(args, *filter.Day)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)+1))
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
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY day_of_week ASC, start_time ASC, id ASC LIMIT %d OFFSET %d", slotColumns, base, size, offset)

	var slots []models.Slot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list slots: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count slots: %w", err)
	}

	return slots, total, nil
}

// ListByStudent returns the active slots of every group the student is
// actively enrolled in for the period.
func (r *SlotRepository) ListByStudent(ctx context.Context, studentID, periodID string) ([]models.Slot, error) {
	query := fmt.Sprintf(`SELECT %s FROM slots
	WHERE period_id = $1 AND state = 'ACTIVE'
	  AND group_id IN (
		SELECT group_id FROM enrollments
		WHERE student_id = $2 AND period_id = $1 AND state = 'ACTIVE'
	  )
	ORDER BY day_of_week ASC, start_time ASC, id ASC`, slotColumns)
	var slots []models.Slot
	if err := r.db.SelectContext(ctx, &slots, query, periodID, studentID); err != nil {
		return nil, fmt.Errorf("list student slots: %w", err)
	}
	return slots, nil
}

// FindClassroomOverlap returns the first active slot occupying the same
// classroom on the same day with an intersecting half-open window. The
// deterministic ordering keeps conflict reports stable under retries.
func (r *SlotRepository) FindClassroomOverlap(ctx context.Context, exec sqlx.ExtContext, candidate models.SlotCandidate, excludeSlotID string) (*models.Slot, error) {
	target := r.exec(exec)
	base := fmt.Sprintf(`SELECT %s FROM slots
	WHERE classroom_id = $1 AND period_id = $2 AND day_of_week = $3
	  AND state = 'ACTIVE' AND start_time < $4 AND end_time > $5`, slotColumns)
	args := []interface{}{candidate.ClassroomID, candidate.PeriodID, candidate.Day, candidate.EndTime, candidate.StartTime}
	if excludeSlotID != "" {
		base += " AND id <> $6"
		args = append(args, excludeSlotID)
	}
	base += " ORDER BY id ASC LIMIT 1"

	var slot models.Slot
	if err := sqlx.GetContext(ctx, target, &slot, base, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find classroom overlap: %w", err)
	}
	return &slot, nil
}

// FindTeacherOverlap returns the first active slot taught by the same
// teacher on the same day with an intersecting half-open window.
func (r *SlotRepository) FindTeacherOverlap(ctx context.Context, exec sqlx.ExtContext, candidate models.SlotCandidate, excludeSlotID string) (*models.Slot, error) {
	target := r.exec(exec)
	base := fmt.Sprintf(`SELECT %s FROM slots
	WHERE teacher_id = $1 AND period_id = $2 AND day_of_week = $3
	  AND state = 'ACTIVE' AND start_time < $4 AND end_time > $5`, slotColumns)
	args := []interface{}{candidate.TeacherID, candidate.PeriodID, candidate.Day, candidate.EndTime, candidate.StartTime}
	if excludeSlotID != "" {
		base += " AND id <> $6"
		args = append(args, excludeSlotID)
	}
	base += " ORDER BY id ASC LIMIT 1"

	var slot models.Slot
	if err := sqlx.GetContext(ctx, target, &slot, base, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find teacher overlap: %w", err)
	}
	return &slot, nil
}

// FindStudentOverlap returns the first active slot of the candidate group
// that collides with any slot of the student's active enrollments in the
// same period. The ordering by group then slot id makes the reported
// conflicting group deterministic.
func (r *SlotRepository) FindStudentOverlap(ctx context.Context, exec sqlx.ExtContext, studentID, groupID, periodID, excludeEnrollmentID string) (*models.Slot, error) {
	target := r.exec(exec)
	base := `SELECT existing.id, existing.period_id, existing.group_id, existing.classroom_id, existing.teacher_id,
	       existing.day_of_week, existing.start_time, existing.end_time, existing.state, existing.created_at, existing.updated_at
	FROM slots existing
	WHERE existing.period_id = $1 AND existing.state = 'ACTIVE'
	  AND existing.group_id IN (
	      SELECT e.group_id FROM enrollments e
	      WHERE e.student_id = $2 AND e.period_id = $1 AND e.state = 'ACTIVE'`
	args := []interface{}{periodID, studentID, groupID}
	if excludeEnrollmentID != "" {
		base += " AND e.id <> $4"
		args = append(args, excludeEnrollmentID)
	}
	base += `)
	  AND EXISTS (
	      SELECT 1 FROM slots candidate
	      WHERE candidate.group_id = $3 AND candidate.period_id = $1 AND candidate.state = 'ACTIVE'
	        AND candidate.day_of_week = existing.day_of_week
	        AND candidate.start_time < existing.end_time
	        AND candidate.end_time > existing.start_time)
	ORDER BY existing.group_id ASC, existing.id ASC LIMIT 1`

	var slot models.Slot
	if err := sqlx.GetContext(ctx, target, &slot, base, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find student overlap: %w", err)
	}
	return &slot, nil
}

// UpdateSchedule moves a slot to a new day and window.
func (r *SlotRepository) UpdateSchedule(ctx context.Context, exec sqlx.ExtContext, id string, day models.DayOfWeek, start, end models.TimeOfDay) error {
	target := r.exec(exec)
	const query = `UPDATE slots SET day_of_week = $1, start_time = $2, end_time = $3, updated_at = $4 WHERE id = $5`
	result, err := target.ExecContext(ctx, query, day, start, end, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update slot schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check slot update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetState updates the lifecycle state of one slot.
func (r *SlotRepository) SetState(ctx context.Context, exec sqlx.ExtContext, id string, state models.SlotState) error {
	target := r.exec(exec)
	const query = `UPDATE slots SET state = $1, updated_at = $2 WHERE id = $3`
	result, err := target.ExecContext(ctx, query, state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set slot state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check slot state rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a slot permanently.
func (r *SlotRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM slots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}
