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

// GroupRepository handles persistence for course groups.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository instantiates a group repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new group record.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	const query = `INSERT INTO groups (id, name, subject_id, semester, max_capacity, created_at, updated_at)
	VALUES (:id, :name, :subject_id, :semester, :max_capacity, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// FindByID loads a group by identifier.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*models.Group, error) {
	const query = `SELECT id, name, subject_id, semester, max_capacity, created_at, updated_at FROM groups WHERE id = $1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// FindDetail loads a group joined with its subject identity.
func (r *GroupRepository) FindDetail(ctx context.Context, id string) (*models.GroupDetail, error) {
	const query = `SELECT g.id, g.name, g.subject_id, g.semester, g.max_capacity, g.created_at, g.updated_at,
	       s.name AS subject_name, s.code AS subject_code
	FROM groups g JOIN subjects s ON s.id = g.subject_id WHERE g.id = $1`
	var detail models.GroupDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// LockByID loads a group row under FOR UPDATE so capacity checks and the
// subsequent insert observe a stable enrollment count.
func (r *GroupRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Group, error) {
	target := r.exec(exec)
	const query = `SELECT id, name, subject_id, semester, max_capacity, created_at, updated_at FROM groups WHERE id = $1 FOR UPDATE`
	var group models.Group
	if err := sqlx.GetContext(ctx, target, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// List returns groups matching the filter with a total count.
func (r *GroupRepository) List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error) {
	base := `FROM groups g JOIN subjects s ON s.id = g.subject_id WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("g.subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.Semester > 0 {
		conditions = append(conditions, fmt.Sprintf("g.semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.Name != "" {
		conditions = append(conditions, fmt.Sprintf("g.name ILIKE $%d", len(args)+1))
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

	query := fmt.Sprintf(`SELECT g.id, g.name, g.subject_id, g.semester, g.max_capacity, g.created_at, g.updated_at,
	       s.name AS subject_name, s.code AS subject_code %s ORDER BY s.code ASC, g.name ASC LIMIT %d OFFSET %d`, base, size, offset)

	var groups []models.GroupDetail
	if err := r.db.SelectContext(ctx, &groups, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list groups: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count groups: %w", err)
	}

	return groups, total, nil
}

// Update modifies an existing group.
func (r *GroupRepository) Update(ctx context.Context, group *models.Group) error {
	group.UpdatedAt = time.Now().UTC()
	const query = `UPDATE groups SET name = :name, subject_id = :subject_id, semester = :semester, max_capacity = :max_capacity, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, group)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check group update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a group permanently.
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}
