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

type changeRequestStore interface {
	Create(ctx context.Context, request *models.ChangeRequest) error
	FindByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ChangeRequest, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, int, error)
	Resolve(ctx context.Context, exec sqlx.ExtContext, id string, state models.ChangeRequestState, resolvedAt time.Time) error
}

type changeRequestSlotStore interface {
	FindByGroupAndDay(ctx context.Context, exec sqlx.ExtContext, groupID, teacherID, periodID string, day models.DayOfWeek) (*models.Slot, error)
	FindClassroomOverlap(ctx context.Context, exec sqlx.ExtContext, candidate models.SlotCandidate, excludeSlotID string) (*models.Slot, error)
	FindTeacherOverlap(ctx context.Context, exec sqlx.ExtContext, candidate models.SlotCandidate, excludeSlotID string) (*models.Slot, error)
	UpdateSchedule(ctx context.Context, exec sqlx.ExtContext, id string, day models.DayOfWeek, start, end models.TimeOfDay) error
}

type changeRequestTeacherStore interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error)
}

type notificationWriter interface {
	Create(ctx context.Context, exec sqlx.ExtContext, notification *models.Notification) error
}

type enrolledUserLister interface {
	ListActiveUserIDsByGroup(ctx context.Context, exec sqlx.ExtContext, groupID, periodID string) ([]string, error)
}

// ChangeRequestService runs the submit/approve/reject lifecycle for
// schedule change requests. A request is resolved at most once; approval
// re-validates the proposed window before any slot moves.
type ChangeRequestService struct {
	requests      changeRequestStore
	slots         changeRequestSlotStore
	teachers      changeRequestTeacherStore
	classrooms    classroomLocker
	groups        scheduleGroupStore
	periods       activePeriodStore
	enrollments   enrolledUserLister
	notifications notificationWriter
	cache         timetableCache
	metrics       *MetricsService
	db            txBeginner
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewChangeRequestService constructs a ChangeRequestService.
func NewChangeRequestService(requests changeRequestStore, slots changeRequestSlotStore, teachers changeRequestTeacherStore, classrooms classroomLocker, groups scheduleGroupStore, periods activePeriodStore, enrollments enrolledUserLister, notifications notificationWriter, cache timetableCache, metrics *MetricsService, db txBeginner, validate *validator.Validate, logger *zap.Logger) *ChangeRequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ChangeRequestService{
		requests:      requests,
		slots:         slots,
		teachers:      teachers,
		classrooms:    classrooms,
		groups:        groups,
		periods:       periods,
		enrollments:   enrollments,
		notifications: notifications,
		cache:         cache,
		metrics:       metrics,
		db:            db,
		validator:     validate,
		logger:        logger,
	}
}

// Submit files a change request for one of the teacher's own slots.
func (s *ChangeRequestService) Submit(ctx context.Context, teacherID string, req dto.CreateChangeRequestRequest) (*models.ChangeRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change request payload")
	}
	start, end, proposedDay, err := parseWindow(req.ProposedStart, req.ProposedEnd, req.ProposedDay)
	if err != nil {
		return nil, err
	}
	originalDay := models.DayOfWeek(req.OriginalDay)
	if !originalDay.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "original day out of range")
	}

	period, err := s.activePeriod(ctx)
	if err != nil {
		return nil, err
	}

	slot, err := s.slots.FindByGroupAndDay(ctx, nil, req.GroupID, teacherID, period.ID, originalDay)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a foreign slot from a missing one.
			if _, lookupErr := s.slots.FindByGroupAndDay(ctx, nil, req.GroupID, "", period.ID, originalDay); lookupErr == nil {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "slot does not belong to the requesting teacher")
			}
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active slot for the group on that day")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	if proposedDay == slot.Day && start == slot.StartTime && end == slot.EndTime {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proposed schedule matches the current one")
	}

	request := &models.ChangeRequest{
		TeacherID:     teacherID,
		GroupID:       req.GroupID,
		OriginalDay:   originalDay,
		ProposedDay:   proposedDay,
		ProposedStart: start,
		ProposedEnd:   end,
		Reason:        req.Reason,
		State:         models.ChangeRequestStatePending,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create change request")
	}

	s.logger.Info("change request submitted",
		zap.String("request_id", request.ID),
		zap.String("teacher_id", teacherID),
		zap.String("group_id", req.GroupID))
	return request, nil
}

// Approve re-validates the proposed window and, when it is still free,
// moves the slot and resolves the request in one transaction. On a
// conflict the request stays PENDING and the conflict is reported.
func (s *ChangeRequestService) Approve(ctx context.Context, id string) (*models.ChangeRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin approval")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	request, err := s.requests.LockByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock change request")
	}
	if request.State != models.ChangeRequestStatePending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "")
	}

	// Only slots of the active period may be rewritten, so the lookup is
	// scoped to it.
	period, err := s.activePeriod(ctx)
	if err != nil {
		return nil, err
	}

	slot, err := s.slots.FindByGroupAndDay(ctx, tx, request.GroupID, request.TeacherID, period.ID, request.OriginalDay)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "the targeted slot no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}

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
		Day:         request.ProposedDay,
		StartTime:   request.ProposedStart,
		EndTime:     request.ProposedEnd,
	}
	if hit, err := s.slots.FindClassroomOverlap(ctx, tx, candidate, slot.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check classroom availability")
	} else if hit != nil {
		s.metrics.RecordSlotConflict("classroom")
		return nil, conflictError(appErrors.ErrClassroomConflict, "classroom", hit)
	}
	if hit, err := s.slots.FindTeacherOverlap(ctx, tx, candidate, slot.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check teacher availability")
	} else if hit != nil {
		s.metrics.RecordSlotConflict("teacher")
		return nil, conflictError(appErrors.ErrTeacherConflict, "teacher", hit)
	}

	if err := s.slots.UpdateSchedule(ctx, tx, slot.ID, request.ProposedDay, request.ProposedStart, request.ProposedEnd); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move slot")
	}

	now := time.Now().UTC()
	if err := s.requests.Resolve(ctx, tx, request.ID, models.ChangeRequestStateApproved, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve change request")
	}

	group, err := s.groups.FindByID(ctx, request.GroupID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group for notification")
	}

	if err := s.notifyTeacher(ctx, tx, request.TeacherID, models.NotificationKindSuccess,
		fmt.Sprintf("Your schedule change request was approved: %s moves to %s %s-%s",
			group.Name, request.ProposedDay, request.ProposedStart, request.ProposedEnd)); err != nil {
		return nil, err
	}
	if err := s.notifyEnrolledStudents(ctx, tx, slot, request, group.Name); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit approval")
	}

	slot.Day = request.ProposedDay
	slot.StartTime = request.ProposedStart
	slot.EndTime = request.ProposedEnd
	s.invalidateTimetables(ctx, slot)
	s.metrics.RecordResolution("approved")

	request.State = models.ChangeRequestStateApproved
	request.ResolvedAt = &now
	s.logger.Info("change request approved", zap.String("request_id", request.ID))
	return request, nil
}

// Reject resolves a PENDING request without touching the slot.
func (s *ChangeRequestService) Reject(ctx context.Context, id string) (*models.ChangeRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin rejection")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	request, err := s.requests.LockByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock change request")
	}
	if request.State != models.ChangeRequestStatePending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "")
	}

	now := time.Now().UTC()
	if err := s.requests.Resolve(ctx, tx, request.ID, models.ChangeRequestStateRejected, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve change request")
	}

	if err := s.notifyTeacher(ctx, tx, request.TeacherID, models.NotificationKindError,
		"Your schedule change request was rejected"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit rejection")
	}

	s.metrics.RecordResolution("rejected")
	request.State = models.ChangeRequestStateRejected
	request.ResolvedAt = &now
	s.logger.Info("change request rejected", zap.String("request_id", request.ID))
	return request, nil
}

// Get loads one change request.
func (s *ChangeRequestService) Get(ctx context.Context, id string) (*models.ChangeRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	return request, nil
}

// List returns change requests matching the filter.
func (s *ChangeRequestService) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, int, error) {
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change requests")
	}
	return requests, total, nil
}

func (s *ChangeRequestService) notifyTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string, kind models.NotificationKind, message string) error {
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher for notification")
	}
	notification := &models.Notification{
		UserID:  teacher.UserID,
		Message: message,
		Kind:    kind,
	}
	if err := s.notifications.Create(ctx, exec, notification); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	return nil
}

func (s *ChangeRequestService) activePeriod(ctx context.Context) (*models.Period, error) {
	period, err := s.periods.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPeriodNotActive, "schedule changes require an active period")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active period")
	}
	return period, nil
}

func (s *ChangeRequestService) notifyEnrolledStudents(ctx context.Context, exec sqlx.ExtContext, slot *models.Slot, request *models.ChangeRequest, groupName string) error {
	userIDs, err := s.enrollments.ListActiveUserIDsByGroup(ctx, exec, request.GroupID, slot.PeriodID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled students for notification")
	}
	message := fmt.Sprintf("The schedule of your group %s changed to %s %s-%s",
		groupName, request.ProposedDay, request.ProposedStart, request.ProposedEnd)
	for _, userID := range userIDs {
		notification := &models.Notification{
			UserID:  userID,
			Message: message,
			Kind:    models.NotificationKindInfo,
		}
		if err := s.notifications.Create(ctx, exec, notification); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
		}
	}
	return nil
}

func (s *ChangeRequestService) invalidateTimetables(ctx context.Context, slot *models.Slot) {
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
