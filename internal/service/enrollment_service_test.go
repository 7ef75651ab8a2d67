package service

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/eduplan/eduplan-api/internal/dto"
	"github.com/eduplan/eduplan-api/internal/models"
	appErrors "github.com/eduplan/eduplan-api/pkg/errors"
)

type txBeginnerMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxBeginnerMock(t *testing.T) (*txBeginnerMock, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txBeginnerMock{db: sqlxdb, mock: mock}, mock
}

func (m *txBeginnerMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, opts)
}

type enrollmentStoreStub struct {
	duplicate    bool
	groupCount   int
	studentCount int
	sameSubject  *models.EnrollmentDetail
	created      *models.Enrollment
	enrollments  map[string]*models.Enrollment
	excludeSeen  string
}

func newEnrollmentStoreStub() *enrollmentStoreStub {
	return &enrollmentStoreStub{enrollments: make(map[string]*models.Enrollment)}
}

func (e *enrollmentStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = "enr-new"
	}
	e.created = enrollment
	e.enrollments[enrollment.ID] = enrollment
	return nil
}

func (e *enrollmentStoreStub) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if enr, ok := e.enrollments[id]; ok {
		copy := *enr
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (e *enrollmentStoreStub) FindDetail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enr, ok := e.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.EnrollmentDetail{Enrollment: *enr, SubjectID: "subject-1", GroupName: "A", SubjectName: "Algebra"}, nil
}

func (e *enrollmentStoreStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (e *enrollmentStoreStub) ExistsActive(ctx context.Context, exec sqlx.ExtContext, studentID, groupID, periodID, excludeID string) (bool, error) {
	e.excludeSeen = excludeID
	return e.duplicate, nil
}

func (e *enrollmentStoreStub) CountActiveByGroup(ctx context.Context, exec sqlx.ExtContext, groupID, periodID, excludeID string) (int, error) {
	return e.groupCount, nil
}

func (e *enrollmentStoreStub) CountActiveByStudent(ctx context.Context, exec sqlx.ExtContext, studentID, periodID, excludeID string) (int, error) {
	return e.studentCount, nil
}

func (e *enrollmentStoreStub) FindActiveBySubject(ctx context.Context, exec sqlx.ExtContext, studentID, subjectID, periodID, excludeID string) (*models.EnrollmentDetail, error) {
	return e.sameSubject, nil
}

func (e *enrollmentStoreStub) UpdateGroup(ctx context.Context, exec sqlx.ExtContext, id, groupID string) error {
	enr, ok := e.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	enr.GroupID = groupID
	return nil
}

func (e *enrollmentStoreStub) Withdraw(ctx context.Context, id string) error {
	enr, ok := e.enrollments[id]
	if !ok || enr.State != models.EnrollmentStateActive {
		return sql.ErrNoRows
	}
	enr.State = models.EnrollmentStateWithdrawn
	return nil
}

func (e *enrollmentStoreStub) Reactivate(ctx context.Context, exec sqlx.ExtContext, id string) error {
	enr, ok := e.enrollments[id]
	if !ok || enr.State != models.EnrollmentStateWithdrawn {
		return sql.ErrNoRows
	}
	enr.State = models.EnrollmentStateActive
	return nil
}

type groupLockerStub struct {
	group *models.Group
}

func (g *groupLockerStub) FindByID(ctx context.Context, id string) (*models.Group, error) {
	if g.group == nil {
		return nil, sql.ErrNoRows
	}
	return g.group, nil
}

func (g *groupLockerStub) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Group, error) {
	return g.FindByID(ctx, id)
}

type activePeriodStub struct {
	period *models.Period
}

func (p *activePeriodStub) FindActive(ctx context.Context) (*models.Period, error) {
	if p.period == nil {
		return nil, sql.ErrNoRows
	}
	return p.period, nil
}

type studentStoreStub struct{}

func (studentStoreStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	return &models.Student{ID: id, UserID: "user-" + id, StudentNumber: "S-001"}, nil
}

type overlapFinderStub struct {
	overlap      *models.Slot
	studentSlots []models.Slot
}

func (o *overlapFinderStub) FindStudentOverlap(ctx context.Context, exec sqlx.ExtContext, studentID, groupID, periodID, excludeEnrollmentID string) (*models.Slot, error) {
	return o.overlap, nil
}

func (o *overlapFinderStub) ListByStudent(ctx context.Context, studentID, periodID string) ([]models.Slot, error) {
	return o.studentSlots, nil
}

const (
	testStudentID = "6b9f2c1e-6f0a-4a3e-9a3f-0d3c1f2a4b5c"
	testGroupID   = "2f7a8b9c-1d2e-4f3a-8b7c-6d5e4f3a2b1c"
)

func newEnrollmentFixture(t *testing.T) (*EnrollmentService, *enrollmentStoreStub, *groupLockerStub, *activePeriodStub, *overlapFinderStub, sqlmock.Sqlmock) {
	store := newEnrollmentStoreStub()
	groups := &groupLockerStub{group: &models.Group{ID: testGroupID, Name: "A", SubjectID: "subject-1", MaxCapacity: 30}}
	periods := &activePeriodStub{period: &models.Period{ID: "period-1", State: models.PeriodStateActive}}
	slots := &overlapFinderStub{}
	db, mock := newTxBeginnerMock(t)
	svc := NewEnrollmentService(store, groups, periods, studentStoreStub{}, slots, nil, db, nil, nil, 6)
	return svc, store, groups, periods, slots, mock
}

func TestEnrollmentServiceValidateAccepted(t *testing.T) {
	svc, _, _, _, _, _ := newEnrollmentFixture(t)

	ruleErr, err := svc.Validate(context.Background(), dto.ValidateEnrollmentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
	})
	require.NoError(t, err)
	require.Nil(t, ruleErr)
}

func TestEnrollmentServiceValidateNoActivePeriod(t *testing.T) {
	svc, _, _, periods, _, _ := newEnrollmentFixture(t)
	periods.period = nil

	_, err := svc.Validate(context.Background(), dto.ValidateEnrollmentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPeriodNotActive.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceValidateDuplicate(t *testing.T) {
	svc, store, _, _, _, _ := newEnrollmentFixture(t)
	store.duplicate = true

	ruleErr, err := svc.Validate(context.Background(), dto.ValidateEnrollmentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
	})
	require.NoError(t, err)
	require.NotNil(t, ruleErr)
	require.Equal(t, ReasonDuplicateEnrollment, ruleErr.Reason)
}

func TestEnrollmentServiceValidateCapacity(t *testing.T) {
	svc, store, _, _, _, _ := newEnrollmentFixture(t)
	store.groupCount = 30

	ruleErr, err := svc.Validate(context.Background(), dto.ValidateEnrollmentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
	})
	require.NoError(t, err)
	require.NotNil(t, ruleErr)
	require.Equal(t, ReasonCapacityExceeded, ruleErr.Reason)
	require.Equal(t, 30, ruleErr.Counted)
	require.Equal(t, 30, ruleErr.Max)
}

func TestEnrollmentServiceValidateMaxLoad(t *testing.T) {
	svc, store, _, _, _, _ := newEnrollmentFixture(t)
	store.studentCount = 6

	ruleErr, err := svc.Validate(context.Background(), dto.ValidateEnrollmentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
	})
	require.NoError(t, err)
	require.NotNil(t, ruleErr)
	require.Equal(t, ReasonMaxSubjects, ruleErr.Reason)
	require.Equal(t, 6, ruleErr.Max)
}

func TestEnrollmentServiceValidateSubjectTaken(t *testing.T) {
	svc, store, _, _, _, _ := newEnrollmentFixture(t)
	store.sameSubject = &models.EnrollmentDetail{
		Enrollment:  models.Enrollment{ID: "enr-1", GroupID: "group-other"},
		SubjectID:   "subject-1",
		GroupName:   "B",
		SubjectName: "Algebra",
	}

	ruleErr, err := svc.Validate(context.Background(), dto.ValidateEnrollmentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
	})
	require.NoError(t, err)
	require.NotNil(t, ruleErr)
	require.Equal(t, ReasonSubjectTaken, ruleErr.Reason)
	require.Equal(t, "group-other", ruleErr.ConflictingGroupID)
}

func TestEnrollmentServiceValidateScheduleOverlap(t *testing.T) {
	svc, _, _, _, slots, _ := newEnrollmentFixture(t)
	slots.overlap = &models.Slot{
		ID:        "slot-9",
		GroupID:   "group-clash",
		Day:       models.DayMonday,
		StartTime: models.TimeOfDay(8 * 60),
		EndTime:   models.TimeOfDay(10 * 60),
	}

	ruleErr, err := svc.Validate(context.Background(), dto.ValidateEnrollmentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
	})
	require.NoError(t, err)
	require.NotNil(t, ruleErr)
	require.Equal(t, ReasonScheduleOverlap, ruleErr.Reason)
	require.Equal(t, "group-clash", ruleErr.ConflictingGroupID)
	require.Equal(t, "slot-9", ruleErr.ConflictingSlotID)
}

func TestEnrollmentServiceValidatePassesExclusion(t *testing.T) {
	svc, store, _, _, _, _ := newEnrollmentFixture(t)

	_, err := svc.Validate(context.Background(), dto.ValidateEnrollmentRequest{
		StudentID:           testStudentID,
		GroupID:             testGroupID,
		ExcludeEnrollmentID: "9c8b7a6d-5e4f-4a3b-8c1d-0e9f8a7b6c5d",
	})
	require.NoError(t, err)
	require.Equal(t, "9c8b7a6d-5e4f-4a3b-8c1d-0e9f8a7b6c5d", store.excludeSeen)
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	svc, store, _, _, _, mock := newEnrollmentFixture(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	detail, err := svc.Enroll(context.Background(), dto.CreateEnrollmentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
	})
	require.NoError(t, err)
	require.NotNil(t, store.created)
	require.Equal(t, models.EnrollmentStateActive, detail.State)
	require.Equal(t, "period-1", detail.PeriodID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceEnrollCapacityFull(t *testing.T) {
	svc, store, _, _, _, mock := newEnrollmentFixture(t)
	store.groupCount = 30
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Enroll(context.Background(), dto.CreateEnrollmentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrCapacityExceeded.Code, appErrors.FromError(err).Code)
	require.Nil(t, store.created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceReactivate(t *testing.T) {
	svc, store, _, _, _, mock := newEnrollmentFixture(t)
	store.enrollments["enr-1"] = &models.Enrollment{
		ID:        "enr-1",
		StudentID: testStudentID,
		GroupID:   testGroupID,
		PeriodID:  "period-1",
		State:     models.EnrollmentStateWithdrawn,
	}
	mock.ExpectBegin()
	mock.ExpectCommit()

	detail, err := svc.Reactivate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStateActive, detail.State)
	require.Equal(t, "enr-1", store.excludeSeen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceReactivateActiveEnrollment(t *testing.T) {
	svc, store, _, _, _, _ := newEnrollmentFixture(t)
	store.enrollments["enr-1"] = &models.Enrollment{
		ID:       "enr-1",
		PeriodID: "period-1",
		State:    models.EnrollmentStateActive,
	}

	_, err := svc.Reactivate(context.Background(), "enr-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceReactivateSeatTaken(t *testing.T) {
	svc, store, _, _, _, mock := newEnrollmentFixture(t)
	store.enrollments["enr-1"] = &models.Enrollment{
		ID:        "enr-1",
		StudentID: testStudentID,
		GroupID:   testGroupID,
		PeriodID:  "period-1",
		State:     models.EnrollmentStateWithdrawn,
	}
	store.groupCount = 30
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Reactivate(context.Background(), "enr-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrCapacityExceeded.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.EnrollmentStateWithdrawn, store.enrollments["enr-1"].State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceStudentLoad(t *testing.T) {
	svc, _, _, _, slots, _ := newEnrollmentFixture(t)
	slots.studentSlots = []models.Slot{
		{ID: "slot-1", GroupID: testGroupID, Day: models.DayMonday},
	}

	load, err := svc.StudentLoad(context.Background(), testStudentID)
	require.NoError(t, err)
	require.Equal(t, "period-1", load.PeriodID)
	require.Len(t, load.Slots, 1)
}

func TestEnrollmentServiceWithdraw(t *testing.T) {
	svc, store, _, _, _, _ := newEnrollmentFixture(t)
	store.enrollments["enr-1"] = &models.Enrollment{ID: "enr-1", State: models.EnrollmentStateActive}

	require.NoError(t, svc.Withdraw(context.Background(), "enr-1"))
	require.Equal(t, models.EnrollmentStateWithdrawn, store.enrollments["enr-1"].State)

	err := svc.Withdraw(context.Background(), "enr-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
