package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/eduplan/eduplan-api/internal/dto"
	"github.com/eduplan/eduplan-api/internal/models"
	appErrors "github.com/eduplan/eduplan-api/pkg/errors"
)

type slotStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, slot *models.Slot) error
	FindByID(ctx context.Context, id string) (*models.Slot, error)
	FindByGroupAndDay(ctx context.Context, exec sqlx.ExtContext, groupID, teacherID, periodID string, day models.DayOfWeek) (*models.Slot, error)
	List(ctx context.Context, filter models.SlotFilter) ([]models.Slot, int, error)
	ListByStudent(ctx context.Context, studentID, periodID string) ([]models.Slot, error)
	FindClassroomOverlap(ctx context.Context, exec sqlx.ExtContext, candidate models.SlotCandidate, excludeSlotID string) (*models.Slot, error)
	FindTeacherOverlap(ctx context.Context, exec sqlx.ExtContext, candidate models.SlotCandidate, excludeSlotID string) (*models.Slot, error)
	UpdateSchedule(ctx context.Context, exec sqlx.ExtContext, id string, day models.DayOfWeek, start, end models.TimeOfDay) error
	SetState(ctx context.Context, exec sqlx.ExtContext, id string, state models.SlotState) error
	Delete(ctx context.Context, id string) error
}

type classroomLocker interface {
	FindByID(ctx context.Context, id string) (*models.Classroom, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Classroom, error)
}

type teacherLocker interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error)
}

type scheduleGroupStore interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
}

type schedulePeriodStore interface {
	FindByID(ctx context.Context, id string) (*models.Period, error)
}

type timetableCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// ScheduleService books slots, answers conflict probes, and serves
// cached timetables.
type ScheduleService struct {
	slots      slotStore
	classrooms classroomLocker
	teachers   teacherLocker
	groups     scheduleGroupStore
	periods    schedulePeriodStore
	cache      timetableCache
	metrics    *MetricsService
	db         txBeginner
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(slots slotStore, classrooms classroomLocker, teachers teacherLocker, groups scheduleGroupStore, periods schedulePeriodStore, cache timetableCache, metrics *MetricsService, db txBeginner, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ScheduleService{
		slots:      slots,
		classrooms: classrooms,
		teachers:   teachers,
		groups:     groups,
		periods:    periods,
		cache:      cache,
		metrics:    metrics,
		db:         db,
		validator:  validate,
		logger:     logger,
	}
}

func parseWindow(startRaw, endRaw string, day int) (models.TimeOfDay, models.TimeOfDay, models.DayOfWeek, error) {
	start, err := models.ParseTimeOfDay(startRaw)
	if err != nil {
		return 0, 0, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start time")
	}
	end, err := models.ParseTimeOfDay(endRaw)
	if err != nil {
		return 0, 0, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end time")
	}
	if start >= end {
		return 0, 0, 0, appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}
	d := models.DayOfWeek(day)
	if !d.Valid() {
		return 0, 0, 0, appErrors.Clone(appErrors.ErrValidation, "day of week out of range")
	}
	return start, end, d, nil
}

// CheckConflict probes a candidate window against the classroom and
// teacher dimensions without writing anything.
func (s *ScheduleService) CheckConflict(ctx context.Context, req dto.CheckConflictRequest) (*models.SlotConflictResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict check payload")
	}
	start, end, day, err := parseWindow(req.StartTime, req.EndTime, req.Day)
	if err != nil {
		return nil, err
	}
	candidate := models.SlotCandidate{
		PeriodID:    req.PeriodID,
		ClassroomID: req.ClassroomID,
		TeacherID:   req.TeacherID,
		Day:         day,
		StartTime:   start,
		EndTime:     end,
	}
	return s.probe(ctx, nil, candidate, req.ExcludeSlotID)
}

func (s *ScheduleService) probe(ctx context.Context, exec sqlx.ExtContext, candidate models.SlotCandidate, excludeSlotID string) (*models.SlotConflictResult, error) {
	result := &models.SlotConflictResult{}

	classroomHit, err := s.slots.FindClassroomOverlap(ctx, exec, candidate, excludeSlotID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check classroom availability")
	}
	if classroomHit != nil {
		result.ClassroomConflict = classroomHit
		s.metrics.RecordSlotConflict("classroom")
	}

	teacherHit, err := s.slots.FindTeacherOverlap(ctx, exec, candidate, excludeSlotID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check teacher availability")
	}
	if teacherHit != nil {
		result.TeacherConflict = teacherHit
		s.metrics.RecordSlotConflict("teacher")
	}

	return result, nil
}

// CreateSlot books a weekly slot after serializing against concurrent
// bookings for the same classroom and teacher.
func (s *ScheduleService) CreateSlot(ctx context.Context, req dto.CreateSlotRequest) (*models.Slot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	start, end, day, err := parseWindow(req.StartTime, req.EndTime, req.Day)
	if err != nil {
		return nil, err
	}

	if err := s.requireActivePeriod(ctx, req.PeriodID); err != nil {
		return nil, err
	}
	if _, err := s.groups.FindByID(ctx, req.GroupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin booking")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Lock ordering is fixed (classroom, then teacher) so two bookings
	// touching the same pair cannot deadlock.
	classroom, err := s.classrooms.LockByID(ctx, tx, req.ClassroomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "classroom not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock classroom")
	}
	if classroom.State != models.ClassroomStateAvailable {
		return nil, appErrors.Clone(appErrors.ErrConflict, "classroom is not available for scheduling")
	}
	if _, err := s.teachers.LockByID(ctx, tx, req.TeacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock teacher")
	}

	candidate := models.SlotCandidate{
		PeriodID:    req.PeriodID,
		ClassroomID: req.ClassroomID,
		TeacherID:   req.TeacherID,
		Day:         day,
		StartTime:   start,
		EndTime:     end,
	}
	result, err := s.probe(ctx, tx, candidate, "")
	if err != nil {
		return nil, err
	}
	if result.ClassroomConflict != nil {
		return nil, conflictError(appErrors.ErrClassroomConflict, "classroom", result.ClassroomConflict)
	}
	if result.TeacherConflict != nil {
		return nil, conflictError(appErrors.ErrTeacherConflict, "teacher", result.TeacherConflict)
	}

	slot := &models.Slot{
		PeriodID:    req.PeriodID,
		GroupID:     req.GroupID,
		ClassroomID: req.ClassroomID,
		TeacherID:   req.TeacherID,
		Day:         day,
		StartTime:   start,
		EndTime:     end,
		State:       models.SlotStateActive,
	}
	if err := s.slots.Create(ctx, tx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create slot")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit booking")
	}

	s.invalidateTimetables(ctx, slot)
	s.logger.Info("slot booked",
		zap.String("slot_id", slot.ID),
		zap.String("group_id", slot.GroupID),
		zap.String("day", slot.Day.String()),
		zap.String("window", fmt.Sprintf("%s-%s", slot.StartTime, slot.EndTime)))
	return slot, nil
}

// MoveSlot relocates an existing slot. The slot's own row is excluded
// from the overlap checks so it never conflicts with itself.
func (s *ScheduleService) MoveSlot(ctx context.Context, id string, req dto.MoveSlotRequest) (*models.Slot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid move payload")
	}
	start, end, day, err := parseWindow(req.StartTime, req.EndTime, req.Day)
	if err != nil {
		return nil, err
	}

	slot, err := s.slots.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	if slot.State != models.SlotStateActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, "cancelled slots cannot be moved")
	}
	if err := s.requireActivePeriod(ctx, slot.PeriodID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin move")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := s.classrooms.LockByID(ctx, tx, slot.ClassroomID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock classroom")
	}
	if _, err := s.teachers.LockByID(ctx, tx, slot.TeacherID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock teacher")
	}

	candidate := models.SlotCandidate{
		PeriodID:    slot.PeriodID,
		ClassroomID: slot.ClassroomID,
		TeacherID:   slot.TeacherID,
		Day:         day,
		StartTime:   start,
		EndTime:     end,
	}
	result, err := s.probe(ctx, tx, candidate, slot.ID)
	if err != nil {
		return nil, err
	}
	if result.ClassroomConflict != nil {
		return nil, conflictError(appErrors.ErrClassroomConflict, "classroom", result.ClassroomConflict)
	}
	if result.TeacherConflict != nil {
		return nil, conflictError(appErrors.ErrTeacherConflict, "teacher", result.TeacherConflict)
	}

	if err := s.slots.UpdateSchedule(ctx, tx, slot.ID, day, start, end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move slot")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit move")
	}

	slot.Day = day
	slot.StartTime = start
	slot.EndTime = end
	s.invalidateTimetables(ctx, slot)
	s.logger.Info("slot moved", zap.String("slot_id", slot.ID), zap.String("day", day.String()))
	return slot, nil
}

// CancelSlot flips a slot to CANCELLED; cancelled slots no longer count
// in any overlap query.
func (s *ScheduleService) CancelSlot(ctx context.Context, id string) error {
	slot, err := s.slots.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	if err := s.requireActivePeriod(ctx, slot.PeriodID); err != nil {
		return err
	}
	if err := s.slots.SetState(ctx, nil, id, models.SlotStateCancelled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel slot")
	}
	s.invalidateTimetables(ctx, slot)
	return nil
}

// requireActivePeriod rejects mutations of slots whose period is no
// longer ACTIVE.
func (s *ScheduleService) requireActivePeriod(ctx context.Context, periodID string) error {
	period, err := s.periods.FindByID(ctx, periodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	if period.State != models.PeriodStateActive {
		return appErrors.Clone(appErrors.ErrPeriodNotActive, "slots can only be modified in the active period")
	}
	return nil
}

// Get loads one slot.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.Slot, error) {
	slot, err := s.slots.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	return slot, nil
}

// List returns slots matching the filter.
func (s *ScheduleService) List(ctx context.Context, filter models.SlotFilter) ([]models.Slot, int, error) {
	slots, total, err := s.slots.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list slots")
	}
	return slots, total, nil
}

// GroupTimetable returns the active slots of a group, read through the
// cache when enabled.
func (s *ScheduleService) GroupTimetable(ctx context.Context, groupID, periodID string) ([]models.Slot, error) {
	return s.timetable(ctx, fmt.Sprintf("timetable:group:%s:%s", periodID, groupID), models.SlotFilter{
		GroupID:  groupID,
		PeriodID: periodID,
		State:    models.SlotStateActive,
		PageSize: 200,
	})
}

// TeacherTimetable returns the active slots taught by a teacher.
func (s *ScheduleService) TeacherTimetable(ctx context.Context, teacherID, periodID string) ([]models.Slot, error) {
	return s.timetable(ctx, fmt.Sprintf("timetable:teacher:%s:%s", periodID, teacherID), models.SlotFilter{
		TeacherID: teacherID,
		PeriodID:  periodID,
		State:     models.SlotStateActive,
		PageSize:  200,
	})
}

// ClassroomTimetable returns the active slots booked in a classroom.
func (s *ScheduleService) ClassroomTimetable(ctx context.Context, classroomID, periodID string) ([]models.Slot, error) {
	return s.timetable(ctx, fmt.Sprintf("timetable:classroom:%s:%s", periodID, classroomID), models.SlotFilter{
		ClassroomID: classroomID,
		PeriodID:    periodID,
		State:       models.SlotStateActive,
		PageSize:    200,
	})
}

// StudentTimetable returns the active slots of every group the student
// is actively enrolled in.
func (s *ScheduleService) StudentTimetable(ctx context.Context, studentID, periodID string) ([]models.Slot, error) {
	key := fmt.Sprintf("timetable:student:%s:%s", periodID, studentID)
	var cached []models.Slot
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}
	slots, err := s.slots.ListByStudent(ctx, studentID, periodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, slots, 0); err != nil {
			s.logger.Warn("timetable cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return slots, nil
}

func (s *ScheduleService) timetable(ctx context.Context, key string, filter models.SlotFilter) ([]models.Slot, error) {
	var cached []models.Slot
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}
	slots, _, err := s.slots.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, slots, 0); err != nil {
			s.logger.Warn("timetable cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return slots, nil
}

func (s *ScheduleService) invalidateTimetables(ctx context.Context, slot *models.Slot) {
	if s.cache == nil || slot == nil {
		return
	}
	patterns := []string{
		fmt.Sprintf("timetable:group:%s:%s", slot.PeriodID, slot.GroupID),
		fmt.Sprintf("timetable:teacher:%s:%s", slot.PeriodID, slot.TeacherID),
		fmt.Sprintf("timetable:classroom:%s:%s", slot.PeriodID, slot.ClassroomID),
		fmt.Sprintf("timetable:student:%s:*", slot.PeriodID),
	}
	for _, pattern := range patterns {
		if err := s.cache.Invalidate(ctx, pattern); err != nil {
			s.logger.Warn("timetable invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

func conflictError(base *appErrors.Error, dimension string, conflicting *models.Slot) error {
	return appErrors.Wrap(&models.SlotConflictError{
		Dimension: dimension,
		Message:   base.Message,
		Slot:      *conflicting,
	}, base.Code, base.Status, base.Message)
}
