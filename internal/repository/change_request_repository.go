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

const changeRequestColumns = `id, teacher_id, group_id, original_day, proposed_day, proposed_start, proposed_end, reason, state, resolved_at, created_at, updated_at`

// ChangeRequestRepository persists schedule change requests.
type ChangeRequestRepository struct {
	db *sqlx.DB
}

// NewChangeRequestRepository instantiates a change request repository.
func NewChangeRequestRepository(db *sqlx.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

func (r *ChangeRequestRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new change request in PENDING state.
func (r *ChangeRequestRepository) Create(ctx context.Context, request *models.ChangeRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.State == "" {
		request.State = models.ChangeRequestStatePending
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	const query = `INSERT INTO change_requests
	(id, teacher_id, group_id, original_day, proposed_day, proposed_start, proposed_end, reason, state, resolved_at, created_at, updated_at)
	VALUES (:id, :teacher_id, :group_id, :original_day, :proposed_day, :proposed_start, :proposed_end, :reason, :state, :resolved_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create change request: %w", err)
	}
	return nil
}

// FindByID loads a change request by identifier.
func (r *ChangeRequestRepository) FindByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_requests WHERE id = $1`, changeRequestColumns)
	var request models.ChangeRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// LockByID loads a change request row under FOR UPDATE so that two
// concurrent resolutions cannot both observe PENDING.
func (r *ChangeRequestRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ChangeRequest, error) {
	target := r.exec(exec)
	query := fmt.Sprintf(`SELECT %s FROM change_requests WHERE id = $1 FOR UPDATE`, changeRequestColumns)
	var request models.ChangeRequest
	if err := sqlx.GetContext(ctx, target, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns change requests matching the filter with a total count.
func (r *ChangeRequestRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, int, error) {
	base := "FROM change_requests WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
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
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC, id ASC LIMIT %d OFFSET %d", changeRequestColumns, base, size, offset)

	var requests []models.ChangeRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list change requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count change requests: %w", err)
	}

	return requests, total, nil
}

// Resolve moves a PENDING request to a terminal state. Returns
// sql.ErrNoRows when the request was already resolved.
func (r *ChangeRequestRepository) Resolve(ctx context.Context, exec sqlx.ExtContext, id string, state models.ChangeRequestState, resolvedAt time.Time) error {
	target := r.exec(exec)
	const query = `UPDATE change_requests SET state = $1, resolved_at = $2, updated_at = $2 WHERE id = $3 AND state = 'PENDING'`
	result, err := target.ExecContext(ctx, query, state, resolvedAt, id)
	if err != nil {
		return fmt.Errorf("resolve change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check resolve rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
