package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/eduplan/eduplan-api/internal/dto"
	"github.com/eduplan/eduplan-api/internal/models"
	appErrors "github.com/eduplan/eduplan-api/pkg/errors"
)

// txBeginner starts database transactions for multi-statement writes.
type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type periodStore interface {
	Create(ctx context.Context, period *models.Period) error
	FindByID(ctx context.Context, id string) (*models.Period, error)
	FindActive(ctx context.Context) (*models.Period, error)
	List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, int, error)
	Update(ctx context.Context, period *models.Period) error
	DeactivateOthers(ctx context.Context, exec sqlx.ExtContext, id string) error
	SetState(ctx context.Context, exec sqlx.ExtContext, id string, state models.PeriodState) error
	Delete(ctx context.Context, id string) error
	CountSlots(ctx context.Context, id string) (int, error)
	CountEnrollments(ctx context.Context, id string) (int, error)
}

// PeriodService manages academic periods and the single-active invariant.
type PeriodService struct {
	repo      periodStore
	db        txBeginner
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPeriodService constructs a PeriodService.
func NewPeriodService(repo periodStore, db txBeginner, validate *validator.Validate, logger *zap.Logger) *PeriodService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &PeriodService{repo: repo, db: db, validator: validate, logger: logger}
}

// Create registers a new period in INACTIVE state.
func (s *PeriodService) Create(ctx context.Context, req dto.CreatePeriodRequest) (*models.Period, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid period payload")
	}
	period := &models.Period{
		Name:      req.Name,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		State:     models.PeriodStateInactive,
	}
	if err := s.repo.Create(ctx, period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create period")
	}
	s.logger.Info("period created", zap.String("period_id", period.ID), zap.String("name", period.Name))
	return period, nil
}

// Get loads one period.
func (s *PeriodService) Get(ctx context.Context, id string) (*models.Period, error) {
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	return period, nil
}

// GetActive returns the currently active period.
func (s *PeriodService) GetActive(ctx context.Context) (*models.Period, error) {
	period, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPeriodNotActive, "no active period")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active period")
	}
	return period, nil
}

// List returns periods matching the filter.
func (s *PeriodService) List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, int, error) {
	periods, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list periods")
	}
	return periods, total, nil
}

// Update modifies descriptive fields of a period.
func (s *PeriodService) Update(ctx context.Context, id string, req dto.UpdatePeriodRequest) (*models.Period, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid period payload")
	}
	period, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	period.Name = req.Name
	period.StartDate = req.StartDate
	period.EndDate = req.EndDate
	if err := s.repo.Update(ctx, period); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update period")
	}
	return period, nil
}

// Activate marks the period ACTIVE and deactivates every other period in
// the same transaction, so readers never observe two active periods.
func (s *PeriodService) Activate(ctx context.Context, id string) (*models.Period, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin activation")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.repo.DeactivateOthers(ctx, tx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate periods")
	}
	if err := s.repo.SetState(ctx, tx, id, models.PeriodStateActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate period")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit activation")
	}

	s.logger.Info("period activated", zap.String("period_id", id))
	return s.Get(ctx, id)
}

// Deactivate flips one period to INACTIVE without touching the others.
func (s *PeriodService) Deactivate(ctx context.Context, id string) (*models.Period, error) {
	if err := s.repo.SetState(ctx, nil, id, models.PeriodStateInactive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate period")
	}
	s.logger.Info("period deactivated", zap.String("period_id", id))
	return s.Get(ctx, id)
}

// Delete removes a period that no slot or enrollment references.
func (s *PeriodService) Delete(ctx context.Context, id string) error {
	slots, err := s.repo.CountSlots(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count period slots")
	}
	if slots > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "period has slots and cannot be deleted")
	}
	count, err := s.repo.CountEnrollments(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count period enrollments")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "period has enrollments and cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete period")
	}
	return nil
}
