package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/eduplan/eduplan-api/internal/dto"
	"github.com/eduplan/eduplan-api/internal/models"
	appErrors "github.com/eduplan/eduplan-api/pkg/errors"
)

type enrollmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetail(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	ExistsActive(ctx context.Context, exec sqlx.ExtContext, studentID, groupID, periodID, excludeID string) (bool, error)
	CountActiveByGroup(ctx context.Context, exec sqlx.ExtContext, groupID, periodID, excludeID string) (int, error)
	CountActiveByStudent(ctx context.Context, exec sqlx.ExtContext, studentID, periodID, excludeID string) (int, error)
	FindActiveBySubject(ctx context.Context, exec sqlx.ExtContext, studentID, subjectID, periodID, excludeID string) (*models.EnrollmentDetail, error)
	UpdateGroup(ctx context.Context, exec sqlx.ExtContext, id, groupID string) error
	Withdraw(ctx context.Context, id string) error
	Reactivate(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type enrollmentGroupStore interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Group, error)
}

type activePeriodStore interface {
	FindActive(ctx context.Context) (*models.Period, error)
}

type enrollmentStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type studentOverlapFinder interface {
	FindStudentOverlap(ctx context.Context, exec sqlx.ExtContext, studentID, groupID, periodID, excludeEnrollmentID string) (*models.Slot, error)
	ListByStudent(ctx context.Context, studentID, periodID string) ([]models.Slot, error)
}

// EnrollmentRuleReason values identify which constraint rejected a
// candidate. They mirror the typed error codes.
const (
	ReasonAccepted            = "accepted"
	ReasonDuplicateEnrollment = "DUPLICATE_ENROLLMENT"
	ReasonCapacityExceeded    = "CAPACITY_EXCEEDED"
	ReasonMaxSubjects         = "MAX_SUBJECTS_EXCEEDED"
	ReasonSubjectTaken        = "SUBJECT_ALREADY_TAKEN"
	ReasonScheduleOverlap     = "SCHEDULE_OVERLAP"
)

// EnrollmentService validates and persists enrollments under the
// constraint chain: duplicate, capacity, load, subject uniqueness,
// schedule overlap. Checks run in that order and the first failure wins.
type EnrollmentService struct {
	enrollments     enrollmentStore
	groups          enrollmentGroupStore
	periods         activePeriodStore
	students        enrollmentStudentStore
	slots           studentOverlapFinder
	metrics         *MetricsService
	db              txBeginner
	validator       *validator.Validate
	logger          *zap.Logger
	maxActiveLoad   int
}

// NewEnrollmentService constructs an EnrollmentService. maxActiveLoad
// bounds the number of active enrollments per student per period.
func NewEnrollmentService(enrollments enrollmentStore, groups enrollmentGroupStore, periods activePeriodStore, students enrollmentStudentStore, slots studentOverlapFinder, metrics *MetricsService, db txBeginner, validate *validator.Validate, logger *zap.Logger, maxActiveLoad int) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if maxActiveLoad <= 0 {
		maxActiveLoad = 6
	}
	return &EnrollmentService{
		enrollments:   enrollments,
		groups:        groups,
		periods:       periods,
		students:      students,
		slots:         slots,
		metrics:       metrics,
		db:            db,
		validator:     validate,
		logger:        logger,
		maxActiveLoad: maxActiveLoad,
	}
}

// Validate dry-runs the constraint chain for a candidate. A nil rule
// error means the enrollment would be accepted.
func (s *EnrollmentService) Validate(ctx context.Context, req dto.ValidateEnrollmentRequest) (*models.EnrollmentRuleError, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validation payload")
	}

	period, err := s.activePeriod(ctx)
	if err != nil {
		return nil, err
	}
	group, err := s.loadGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	candidate := models.EnrollmentCandidate{
		StudentID: req.StudentID,
		GroupID:   req.GroupID,
		PeriodID:  period.ID,
	}
	ruleErr, err := s.runChecks(ctx, nil, candidate, group, req.ExcludeEnrollmentID)
	if err != nil {
		return nil, err
	}
	if ruleErr != nil {
		s.metrics.RecordValidation(ruleErr.Reason)
	} else {
		s.metrics.RecordValidation(ReasonAccepted)
	}
	return ruleErr, nil
}

// Enroll creates an enrollment after re-running the chain inside a
// transaction that holds the group row lock, so the capacity count
// cannot be raced past its maximum.
func (s *EnrollmentService) Enroll(ctx context.Context, req dto.CreateEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	period, err := s.activePeriod(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin enrollment")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	group, err := s.groups.LockByID(ctx, tx, req.GroupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock group")
	}

	candidate := models.EnrollmentCandidate{
		StudentID: req.StudentID,
		GroupID:   req.GroupID,
		PeriodID:  period.ID,
	}
	ruleErr, err := s.runChecks(ctx, tx, candidate, group, "")
	if err != nil {
		return nil, err
	}
	if ruleErr != nil {
		s.metrics.RecordValidation(ruleErr.Reason)
		return nil, s.ruleToError(ruleErr)
	}

	enrollment := &models.Enrollment{
		StudentID: req.StudentID,
		GroupID:   req.GroupID,
		PeriodID:  period.ID,
		State:     models.EnrollmentStateActive,
	}
	if err := s.enrollments.Create(ctx, tx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit enrollment")
	}

	s.metrics.RecordValidation(ReasonAccepted)
	s.logger.Info("student enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("group_id", enrollment.GroupID))
	return s.GetDetail(ctx, enrollment.ID)
}

// ChangeGroup moves an active enrollment to another group. The chain is
// re-run excluding the enrollment itself, so moving within the same
// subject or to a touching window is allowed where a fresh enrollment
// would not be.
func (s *EnrollmentService) ChangeGroup(ctx context.Context, id string, req dto.UpdateEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	current, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if current.State != models.EnrollmentStateActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, "withdrawn enrollments cannot be changed")
	}

	period, err := s.activePeriod(ctx)
	if err != nil {
		return nil, err
	}
	if current.PeriodID != period.ID {
		return nil, appErrors.Clone(appErrors.ErrPeriodNotActive, "enrollment belongs to an inactive period")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin group change")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	group, err := s.groups.LockByID(ctx, tx, req.GroupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock group")
	}

	candidate := models.EnrollmentCandidate{
		StudentID: current.StudentID,
		GroupID:   req.GroupID,
		PeriodID:  period.ID,
	}
	ruleErr, err := s.runChecks(ctx, tx, candidate, group, current.ID)
	if err != nil {
		return nil, err
	}
	if ruleErr != nil {
		s.metrics.RecordValidation(ruleErr.Reason)
		return nil, s.ruleToError(ruleErr)
	}

	if err := s.enrollments.UpdateGroup(ctx, tx, current.ID, req.GroupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to change group")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit group change")
	}

	s.metrics.RecordValidation(ReasonAccepted)
	return s.GetDetail(ctx, current.ID)
}

// Reactivate returns a withdrawn enrollment to ACTIVE. The full chain is
// re-run first: the seat may have been taken while the student was out.
func (s *EnrollmentService) Reactivate(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	current, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if current.State != models.EnrollmentStateWithdrawn {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only withdrawn enrollments can be reactivated")
	}

	period, err := s.activePeriod(ctx)
	if err != nil {
		return nil, err
	}
	if current.PeriodID != period.ID {
		return nil, appErrors.Clone(appErrors.ErrPeriodNotActive, "enrollment belongs to an inactive period")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin reactivation")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	group, err := s.groups.LockByID(ctx, tx, current.GroupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock group")
	}

	candidate := models.EnrollmentCandidate{
		StudentID: current.StudentID,
		GroupID:   current.GroupID,
		PeriodID:  period.ID,
	}
	ruleErr, err := s.runChecks(ctx, tx, candidate, group, current.ID)
	if err != nil {
		return nil, err
	}
	if ruleErr != nil {
		s.metrics.RecordValidation(ruleErr.Reason)
		return nil, s.ruleToError(ruleErr)
	}

	if err := s.enrollments.Reactivate(ctx, tx, current.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "withdrawn enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reactivate enrollment")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reactivation")
	}

	s.metrics.RecordValidation(ReasonAccepted)
	s.logger.Info("enrollment reactivated", zap.String("enrollment_id", id))
	return s.GetDetail(ctx, id)
}

// Withdraw flips an active enrollment to WITHDRAWN, freeing its seat.
func (s *EnrollmentService) Withdraw(ctx context.Context, id string) error {
	if err := s.enrollments.Withdraw(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "active enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw enrollment")
	}
	s.logger.Info("enrollment withdrawn", zap.String("enrollment_id", id))
	return nil
}

// GetDetail loads one enrollment with group and subject identity.
func (s *EnrollmentService) GetDetail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.enrollments.FindDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// List returns enrollments matching the filter.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, total, nil
}

// StudentLoad returns a student's active enrollments for the active
// period together with the slots of their groups.
func (s *EnrollmentService) StudentLoad(ctx context.Context, studentID string) (*models.StudentLoad, error) {
	period, err := s.activePeriod(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	enrollments, _, err := s.enrollments.List(ctx, models.EnrollmentFilter{
		StudentID: studentID,
		PeriodID:  period.ID,
		State:     models.EnrollmentStateActive,
		PageSize:  200,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	slots, err := s.slots.ListByStudent(ctx, studentID, period.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student schedule")
	}

	return &models.StudentLoad{
		PeriodID:    period.ID,
		Enrollments: enrollments,
		Slots:       slots,
	}, nil
}

func (s *EnrollmentService) activePeriod(ctx context.Context) (*models.Period, error) {
	period, err := s.periods.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPeriodNotActive, "no active period; enrollment operations are closed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active period")
	}
	return period, nil
}

func (s *EnrollmentService) loadGroup(ctx context.Context, id string) (*models.Group, error) {
	group, err := s.groups.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	return group, nil
}

// runChecks walks the constraint chain in its fixed order and returns
// the first failed rule, or nil when the candidate is acceptable.
func (s *EnrollmentService) runChecks(ctx context.Context, exec sqlx.ExtContext, candidate models.EnrollmentCandidate, group *models.Group, excludeID string) (*models.EnrollmentRuleError, error) {
	duplicate, err := s.enrollments.ExistsActive(ctx, exec, candidate.StudentID, candidate.GroupID, candidate.PeriodID, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check duplicate enrollment")
	}
	if duplicate {
		return &models.EnrollmentRuleError{
			Reason:             ReasonDuplicateEnrollment,
			Message:            "student already enrolled in this group for the period",
			ConflictingGroupID: candidate.GroupID,
		}, nil
	}

	counted, err := s.enrollments.CountActiveByGroup(ctx, exec, candidate.GroupID, candidate.PeriodID, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count group enrollments")
	}
	if counted >= group.MaxCapacity {
		return &models.EnrollmentRuleError{
			Reason:  ReasonCapacityExceeded,
			Message: fmt.Sprintf("group %s is full (%d/%d)", group.Name, counted, group.MaxCapacity),
			Counted: counted,
			Max:     group.MaxCapacity,
		}, nil
	}

	load, err := s.enrollments.CountActiveByStudent(ctx, exec, candidate.StudentID, candidate.PeriodID, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count student enrollments")
	}
	if load >= s.maxActiveLoad {
		return &models.EnrollmentRuleError{
			Reason:  ReasonMaxSubjects,
			Message: fmt.Sprintf("student already holds %d active enrollments; maximum is %d", load, s.maxActiveLoad),
			Counted: load,
			Max:     s.maxActiveLoad,
		}, nil
	}

	sameSubject, err := s.enrollments.FindActiveBySubject(ctx, exec, candidate.StudentID, group.SubjectID, candidate.PeriodID, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject uniqueness")
	}
	if sameSubject != nil {
		return &models.EnrollmentRuleError{
			Reason:             ReasonSubjectTaken,
			Message:            fmt.Sprintf("student already takes %s in group %s", sameSubject.SubjectName, sameSubject.GroupName),
			ConflictingGroupID: sameSubject.GroupID,
		}, nil
	}

	overlap, err := s.slots.FindStudentOverlap(ctx, exec, candidate.StudentID, candidate.GroupID, candidate.PeriodID, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check schedule overlap")
	}
	if overlap != nil {
		return &models.EnrollmentRuleError{
			Reason:             ReasonScheduleOverlap,
			Message:            fmt.Sprintf("group schedule overlaps %s %s-%s of an enrolled group", overlap.Day, overlap.StartTime, overlap.EndTime),
			ConflictingGroupID: overlap.GroupID,
			ConflictingSlotID:  overlap.ID,
		}, nil
	}

	return nil, nil
}

func (s *EnrollmentService) ruleToError(ruleErr *models.EnrollmentRuleError) error {
	base := appErrors.ErrConflict
	switch ruleErr.Reason {
	case ReasonDuplicateEnrollment:
		base = appErrors.ErrDuplicateEnrollment
	case ReasonCapacityExceeded:
		base = appErrors.ErrCapacityExceeded
	case ReasonMaxSubjects:
		base = appErrors.ErrMaxSubjectsExceeded
	case ReasonSubjectTaken:
		base = appErrors.ErrSubjectAlreadyTaken
	case ReasonScheduleOverlap:
		base = appErrors.ErrScheduleOverlap
	}
	return appErrors.Wrap(ruleErr, base.Code, base.Status, ruleErr.Message)
}
