package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/eduplan/eduplan-api/internal/dto"
	"github.com/eduplan/eduplan-api/internal/models"
	appErrors "github.com/eduplan/eduplan-api/pkg/errors"
)

type changeRequestStoreStub struct {
	requests map[string]*models.ChangeRequest
	resolved bool
}

func newChangeRequestStoreStub() *changeRequestStoreStub {
	return &changeRequestStoreStub{requests: make(map[string]*models.ChangeRequest)}
}

func (s *changeRequestStoreStub) Create(ctx context.Context, request *models.ChangeRequest) error {
	if request.ID == "" {
		request.ID = "req-new"
	}
	s.requests[request.ID] = request
	return nil
}

func (s *changeRequestStoreStub) FindByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	if request, ok := s.requests[id]; ok {
		copy := *request
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *changeRequestStoreStub) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ChangeRequest, error) {
	return s.FindByID(ctx, id)
}

func (s *changeRequestStoreStub) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, int, error) {
	var result []models.ChangeRequest
	for _, request := range s.requests {
		result = append(result, *request)
	}
	return result, len(result), nil
}

func (s *changeRequestStoreStub) Resolve(ctx context.Context, exec sqlx.ExtContext, id string, state models.ChangeRequestState, resolvedAt time.Time) error {
	request, ok := s.requests[id]
	if !ok || request.State != models.ChangeRequestStatePending {
		return sql.ErrNoRows
	}
	request.State = state
	request.ResolvedAt = &resolvedAt
	s.resolved = true
	return nil
}

type notificationWriterStub struct {
	created []*models.Notification
}

func (n *notificationWriterStub) Create(ctx context.Context, exec sqlx.ExtContext, notification *models.Notification) error {
	n.created = append(n.created, notification)
	return nil
}

type enrolledListerStub struct {
	userIDs []string
}

func (e *enrolledListerStub) ListActiveUserIDsByGroup(ctx context.Context, exec sqlx.ExtContext, groupID, periodID string) ([]string, error) {
	return e.userIDs, nil
}

func pendingChangeRequest() *models.ChangeRequest {
	return &models.ChangeRequest{
		ID:            "req-1",
		TeacherID:     testTeacherID,
		GroupID:       testGroupID,
		OriginalDay:   models.DayMonday,
		ProposedDay:   models.DayWednesday,
		ProposedStart: models.TimeOfDay(11 * 60),
		ProposedEnd:   models.TimeOfDay(13 * 60),
		Reason:        "room renovation",
		State:         models.ChangeRequestStatePending,
	}
}

func mondaySlot() *models.Slot {
	return &models.Slot{
		ID:          "slot-1",
		PeriodID:    testPeriodID,
		GroupID:     testGroupID,
		ClassroomID: testClassroomID,
		TeacherID:   testTeacherID,
		Day:         models.DayMonday,
		StartTime:   models.TimeOfDay(8 * 60),
		EndTime:     models.TimeOfDay(10 * 60),
		State:       models.SlotStateActive,
	}
}

func newChangeRequestFixture(t *testing.T) (*ChangeRequestService, *changeRequestStoreStub, *slotStoreStub, *notificationWriterStub, *cacheStub, sqlmock.Sqlmock) {
	requests := newChangeRequestStoreStub()
	slots := newSlotStoreStub()
	teachers := &teacherStoreStub{teacher: &models.Teacher{ID: testTeacherID, UserID: "user-teacher"}}
	classrooms := &classroomStoreStub{classroom: &models.Classroom{ID: testClassroomID, State: models.ClassroomStateAvailable}}
	groups := &groupLockerStub{group: &models.Group{ID: testGroupID, Name: "Algebra A", SubjectID: "subject-1", MaxCapacity: 30}}
	periods := &activePeriodStub{period: &models.Period{ID: testPeriodID, State: models.PeriodStateActive}}
	enrollments := &enrolledListerStub{userIDs: []string{"user-student"}}
	notifications := &notificationWriterStub{}
	cache := newCacheStub()
	db, mock := newTxBeginnerMock(t)
	svc := NewChangeRequestService(requests, slots, teachers, classrooms, groups, periods, enrollments, notifications, cache, nil, db, nil, nil)
	return svc, requests, slots, notifications, cache, mock
}

func validSubmitRequest() dto.CreateChangeRequestRequest {
	return dto.CreateChangeRequestRequest{
		GroupID:       testGroupID,
		OriginalDay:   0,
		ProposedDay:   2,
		ProposedStart: "11:00",
		ProposedEnd:   "13:00",
		Reason:        "room renovation",
	}
}

func TestChangeRequestServiceSubmit(t *testing.T) {
	svc, requests, slots, _, _, _ := newChangeRequestFixture(t)
	slots.slots["slot-1"] = mondaySlot()

	request, err := svc.Submit(context.Background(), testTeacherID, validSubmitRequest())
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatePending, request.State)
	require.Equal(t, models.DayWednesday, request.ProposedDay)
	require.Equal(t, models.TimeOfDay(11*60), request.ProposedStart)
	require.Contains(t, requests.requests, request.ID)
}

func TestChangeRequestServiceSubmitForeignSlot(t *testing.T) {
	svc, _, slots, _, _, _ := newChangeRequestFixture(t)
	slot := mondaySlot()
	slot.TeacherID = "3c4d5e6f-7a8b-4c9d-8e0f-2a3b4c5d6e7f"
	slots.slots["slot-1"] = slot

	_, err := svc.Submit(context.Background(), testTeacherID, validSubmitRequest())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestChangeRequestServiceSubmitCoTaughtGroup(t *testing.T) {
	svc, requests, slots, _, _, _ := newChangeRequestFixture(t)
	other := mondaySlot()
	other.ID = "slot-0"
	other.TeacherID = "3c4d5e6f-7a8b-4c9d-8e0f-2a3b4c5d6e7f"
	slots.slots["slot-0"] = other
	slots.slots["slot-1"] = mondaySlot()

	request, err := svc.Submit(context.Background(), testTeacherID, validSubmitRequest())
	require.NoError(t, err)
	require.Contains(t, requests.requests, request.ID)
}

func TestChangeRequestServiceSubmitStalePeriodSlot(t *testing.T) {
	svc, _, slots, _, _, _ := newChangeRequestFixture(t)
	stale := mondaySlot()
	stale.PeriodID = "7d8e9f0a-1b2c-4d3e-8f4a-5b6c7d8e9f0a"
	slots.slots["slot-1"] = stale

	_, err := svc.Submit(context.Background(), testTeacherID, validSubmitRequest())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestChangeRequestServiceSubmitNoOpProposal(t *testing.T) {
	svc, _, slots, _, _, _ := newChangeRequestFixture(t)
	slots.slots["slot-1"] = mondaySlot()

	req := validSubmitRequest()
	req.ProposedDay = 0
	req.ProposedStart = "08:00"
	req.ProposedEnd = "10:00"

	_, err := svc.Submit(context.Background(), testTeacherID, req)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestChangeRequestServiceSubmitNoSlot(t *testing.T) {
	svc, _, _, _, _, _ := newChangeRequestFixture(t)

	_, err := svc.Submit(context.Background(), testTeacherID, validSubmitRequest())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestChangeRequestServiceApprove(t *testing.T) {
	svc, requests, slots, notifications, cache, mock := newChangeRequestFixture(t)
	requests.requests["req-1"] = pendingChangeRequest()
	slots.slots["slot-1"] = mondaySlot()
	mock.ExpectBegin()
	mock.ExpectCommit()

	request, err := svc.Approve(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStateApproved, request.State)
	require.NotNil(t, request.ResolvedAt)

	require.Equal(t, models.DayWednesday, slots.movedDay)
	require.Equal(t, models.TimeOfDay(11*60), slots.movedStart)
	require.Equal(t, models.TimeOfDay(13*60), slots.movedEnd)
	require.Equal(t, "slot-1", slots.excludeSeen)

	require.Len(t, notifications.created, 2)
	require.Equal(t, "user-teacher", notifications.created[0].UserID)
	require.Equal(t, models.NotificationKindSuccess, notifications.created[0].Kind)
	require.Contains(t, notifications.created[0].Message, "Algebra A")
	require.Equal(t, "user-student", notifications.created[1].UserID)
	require.Equal(t, models.NotificationKindInfo, notifications.created[1].Kind)
	require.Contains(t, notifications.created[1].Message, "Algebra A")

	require.Len(t, cache.invalidated, 4)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestServiceApproveNoActivePeriod(t *testing.T) {
	svc, requests, slots, notifications, _, mock := newChangeRequestFixture(t)
	requests.requests["req-1"] = pendingChangeRequest()
	slot := mondaySlot()
	slot.PeriodID = "period-inactive"
	slots.slots["slot-1"] = slot
	svc.periods = &activePeriodStub{}
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Approve(context.Background(), "req-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPeriodNotActive.Code, appErrors.FromError(err).Code)

	require.Equal(t, models.ChangeRequestStatePending, requests.requests["req-1"].State)
	require.False(t, requests.resolved)
	require.Empty(t, notifications.created)
	require.Equal(t, models.DayMonday, slots.slots["slot-1"].Day)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestServiceApproveCoTaughtGroup(t *testing.T) {
	svc, requests, slots, _, _, mock := newChangeRequestFixture(t)
	requests.requests["req-1"] = pendingChangeRequest()
	other := mondaySlot()
	other.ID = "slot-0"
	other.TeacherID = "3c4d5e6f-7a8b-4c9d-8e0f-2a3b4c5d6e7f"
	slots.slots["slot-0"] = other
	slots.slots["slot-1"] = mondaySlot()
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err := svc.Approve(context.Background(), "req-1")
	require.NoError(t, err)

	require.Equal(t, "slot-1", slots.excludeSeen)
	require.Equal(t, models.DayWednesday, slots.slots["slot-1"].Day)
	require.Equal(t, models.DayMonday, slots.slots["slot-0"].Day)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestServiceApproveAlreadyResolved(t *testing.T) {
	svc, requests, slots, _, _, mock := newChangeRequestFixture(t)
	resolved := pendingChangeRequest()
	resolved.State = models.ChangeRequestStateRejected
	requests.requests["req-1"] = resolved
	slots.slots["slot-1"] = mondaySlot()
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Approve(context.Background(), "req-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrAlreadyResolved.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestServiceApproveConflictLeavesPending(t *testing.T) {
	svc, requests, slots, notifications, _, mock := newChangeRequestFixture(t)
	requests.requests["req-1"] = pendingChangeRequest()
	slots.slots["slot-1"] = mondaySlot()
	slots.classroomHit = &models.Slot{ID: "slot-other", ClassroomID: testClassroomID}
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Approve(context.Background(), "req-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrClassroomConflict.Code, appErrors.FromError(err).Code)

	require.Equal(t, models.ChangeRequestStatePending, requests.requests["req-1"].State)
	require.False(t, requests.resolved)
	require.Empty(t, notifications.created)
	require.Equal(t, models.DayMonday, slots.slots["slot-1"].Day)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestServiceReject(t *testing.T) {
	svc, requests, slots, notifications, _, mock := newChangeRequestFixture(t)
	requests.requests["req-1"] = pendingChangeRequest()
	slots.slots["slot-1"] = mondaySlot()
	mock.ExpectBegin()
	mock.ExpectCommit()

	request, err := svc.Reject(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStateRejected, request.State)
	require.NotNil(t, request.ResolvedAt)

	require.Equal(t, models.DayMonday, slots.slots["slot-1"].Day)
	require.Len(t, notifications.created, 1)
	require.Equal(t, models.NotificationKindError, notifications.created[0].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}
