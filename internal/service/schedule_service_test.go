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

type slotStoreStub struct {
	slots        map[string]*models.Slot
	studentSlots []models.Slot
	classroomHit *models.Slot
	teacherHit   *models.Slot
	created      *models.Slot
	excludeSeen  string
	movedDay     models.DayOfWeek
	movedStart   models.TimeOfDay
	movedEnd     models.TimeOfDay
}

func newSlotStoreStub() *slotStoreStub {
	return &slotStoreStub{slots: make(map[string]*models.Slot)}
}

func (s *slotStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, slot *models.Slot) error {
	if slot.ID == "" {
		slot.ID = "slot-new"
	}
	s.created = slot
	s.slots[slot.ID] = slot
	return nil
}

func (s *slotStoreStub) FindByID(ctx context.Context, id string) (*models.Slot, error) {
	if slot, ok := s.slots[id]; ok {
		copy := *slot
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *slotStoreStub) FindByGroupAndDay(ctx context.Context, exec sqlx.ExtContext, groupID, teacherID, periodID string, day models.DayOfWeek) (*models.Slot, error) {
	for _, slot := range s.slots {
		if slot.GroupID == groupID && slot.Day == day && slot.State == models.SlotStateActive &&
			slot.PeriodID == periodID && (teacherID == "" || slot.TeacherID == teacherID) {
			copy := *slot
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *slotStoreStub) List(ctx context.Context, filter models.SlotFilter) ([]models.Slot, int, error) {
	var result []models.Slot
	for _, slot := range s.slots {
		result = append(result, *slot)
	}
	return result, len(result), nil
}

func (s *slotStoreStub) ListByStudent(ctx context.Context, studentID, periodID string) ([]models.Slot, error) {
	return s.studentSlots, nil
}

func (s *slotStoreStub) FindClassroomOverlap(ctx context.Context, exec sqlx.ExtContext, candidate models.SlotCandidate, excludeSlotID string) (*models.Slot, error) {
	s.excludeSeen = excludeSlotID
	return s.classroomHit, nil
}

func (s *slotStoreStub) FindTeacherOverlap(ctx context.Context, exec sqlx.ExtContext, candidate models.SlotCandidate, excludeSlotID string) (*models.Slot, error) {
	return s.teacherHit, nil
}

func (s *slotStoreStub) UpdateSchedule(ctx context.Context, exec sqlx.ExtContext, id string, day models.DayOfWeek, start, end models.TimeOfDay) error {
	slot, ok := s.slots[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.movedDay, s.movedStart, s.movedEnd = day, start, end
	slot.Day, slot.StartTime, slot.EndTime = day, start, end
	return nil
}

func (s *slotStoreStub) SetState(ctx context.Context, exec sqlx.ExtContext, id string, state models.SlotState) error {
	slot, ok := s.slots[id]
	if !ok {
		return sql.ErrNoRows
	}
	slot.State = state
	return nil
}

func (s *slotStoreStub) Delete(ctx context.Context, id string) error {
	delete(s.slots, id)
	return nil
}

type classroomStoreStub struct {
	classroom *models.Classroom
}

func (c *classroomStoreStub) FindByID(ctx context.Context, id string) (*models.Classroom, error) {
	if c.classroom == nil {
		return nil, sql.ErrNoRows
	}
	return c.classroom, nil
}

func (c *classroomStoreStub) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Classroom, error) {
	return c.FindByID(ctx, id)
}

type teacherStoreStub struct {
	teacher *models.Teacher
}

func (s *teacherStoreStub) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if s.teacher == nil {
		return nil, sql.ErrNoRows
	}
	return s.teacher, nil
}

func (s *teacherStoreStub) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error) {
	return s.FindByID(ctx, id)
}

type periodByIDStub struct {
	period *models.Period
}

func (p *periodByIDStub) FindByID(ctx context.Context, id string) (*models.Period, error) {
	if p.period == nil {
		return nil, sql.ErrNoRows
	}
	return p.period, nil
}

type cacheStub struct {
	invalidated []string
	sets        map[string]interface{}
}

func newCacheStub() *cacheStub {
	return &cacheStub{sets: make(map[string]interface{})}
}

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return false, nil
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.sets[key] = value
	return nil
}

func (c *cacheStub) Invalidate(ctx context.Context, pattern string) error {
	c.invalidated = append(c.invalidated, pattern)
	return nil
}

const (
	testPeriodID    = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	testClassroomID = "1b2c3d4e-5f6a-4b7c-8d9e-0f1a2b3c4d5e"
	testTeacherID   = "2c3d4e5f-6a7b-4c8d-9e0f-1a2b3c4d5e6f"
)

func newScheduleFixture(t *testing.T) (*ScheduleService, *slotStoreStub, *classroomStoreStub, *cacheStub, sqlmock.Sqlmock) {
	slots := newSlotStoreStub()
	classrooms := &classroomStoreStub{classroom: &models.Classroom{ID: testClassroomID, State: models.ClassroomStateAvailable}}
	teachers := &teacherStoreStub{teacher: &models.Teacher{ID: testTeacherID, UserID: "user-teacher"}}
	groups := &groupLockerStub{group: &models.Group{ID: testGroupID, Name: "A", SubjectID: "subject-1", MaxCapacity: 30}}
	periods := &periodByIDStub{period: &models.Period{ID: testPeriodID, State: models.PeriodStateActive}}
	cache := newCacheStub()
	db, mock := newTxBeginnerMock(t)
	svc := NewScheduleService(slots, classrooms, teachers, groups, periods, cache, nil, db, nil, nil)
	return svc, slots, classrooms, cache, mock
}

func validCheckRequest() dto.CheckConflictRequest {
	return dto.CheckConflictRequest{
		PeriodID:    testPeriodID,
		ClassroomID: testClassroomID,
		TeacherID:   testTeacherID,
		Day:         0,
		StartTime:   "08:00",
		EndTime:     "10:00",
	}
}

func TestScheduleServiceCheckConflictClear(t *testing.T) {
	svc, _, _, _, _ := newScheduleFixture(t)

	result, err := svc.CheckConflict(context.Background(), validCheckRequest())
	require.NoError(t, err)
	require.False(t, result.HasConflict())
}

func TestScheduleServiceCheckConflictBothDimensions(t *testing.T) {
	svc, slots, _, _, _ := newScheduleFixture(t)
	slots.classroomHit = &models.Slot{ID: "slot-a", ClassroomID: testClassroomID}
	slots.teacherHit = &models.Slot{ID: "slot-b", TeacherID: testTeacherID}

	result, err := svc.CheckConflict(context.Background(), validCheckRequest())
	require.NoError(t, err)
	require.True(t, result.HasConflict())
	require.Equal(t, "slot-a", result.ClassroomConflict.ID)
	require.Equal(t, "slot-b", result.TeacherConflict.ID)
}

func TestScheduleServiceCheckConflictRejectsBadWindow(t *testing.T) {
	svc, _, _, _, _ := newScheduleFixture(t)

	req := validCheckRequest()
	req.StartTime = "10:00"
	req.EndTime = "10:00"
	_, err := svc.CheckConflict(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestScheduleServiceCheckConflictPassesExclusion(t *testing.T) {
	svc, slots, _, _, _ := newScheduleFixture(t)

	req := validCheckRequest()
	req.ExcludeSlotID = "3d4e5f6a-7b8c-4d9e-8f0a-1b2c3d4e5f6a"
	_, err := svc.CheckConflict(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "3d4e5f6a-7b8c-4d9e-8f0a-1b2c3d4e5f6a", slots.excludeSeen)
}

func TestScheduleServiceCreateSlot(t *testing.T) {
	svc, slots, _, cache, mock := newScheduleFixture(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	slot, err := svc.CreateSlot(context.Background(), dto.CreateSlotRequest{
		PeriodID:    testPeriodID,
		GroupID:     testGroupID,
		ClassroomID: testClassroomID,
		TeacherID:   testTeacherID,
		Day:         2,
		StartTime:   "08:00",
		EndTime:     "10:00",
	})
	require.NoError(t, err)
	require.NotNil(t, slots.created)
	require.Equal(t, models.DayWednesday, slot.Day)
	require.Equal(t, models.SlotStateActive, slot.State)
	require.Len(t, cache.invalidated, 4)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleServiceCreateSlotInactivePeriod(t *testing.T) {
	svc, slots, _, _, _ := newScheduleFixture(t)
	svc.periods = &periodByIDStub{period: &models.Period{ID: testPeriodID, State: models.PeriodStateInactive}}

	_, err := svc.CreateSlot(context.Background(), dto.CreateSlotRequest{
		PeriodID:    testPeriodID,
		GroupID:     testGroupID,
		ClassroomID: testClassroomID,
		TeacherID:   testTeacherID,
		Day:         0,
		StartTime:   "08:00",
		EndTime:     "10:00",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPeriodNotActive.Code, appErrors.FromError(err).Code)
	require.Nil(t, slots.created)
}

func TestScheduleServiceCreateSlotClassroomConflict(t *testing.T) {
	svc, slots, _, _, mock := newScheduleFixture(t)
	slots.classroomHit = &models.Slot{ID: "slot-a", ClassroomID: testClassroomID}
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.CreateSlot(context.Background(), dto.CreateSlotRequest{
		PeriodID:    testPeriodID,
		GroupID:     testGroupID,
		ClassroomID: testClassroomID,
		TeacherID:   testTeacherID,
		Day:         0,
		StartTime:   "08:00",
		EndTime:     "10:00",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrClassroomConflict.Code, appErrors.FromError(err).Code)
	require.Nil(t, slots.created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleServiceCreateSlotUnavailableClassroom(t *testing.T) {
	svc, _, classrooms, _, mock := newScheduleFixture(t)
	classrooms.classroom.State = models.ClassroomStateUnavailable
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.CreateSlot(context.Background(), dto.CreateSlotRequest{
		PeriodID:    testPeriodID,
		GroupID:     testGroupID,
		ClassroomID: testClassroomID,
		TeacherID:   testTeacherID,
		Day:         0,
		StartTime:   "08:00",
		EndTime:     "10:00",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestScheduleServiceMoveSlotExcludesItself(t *testing.T) {
	svc, slots, _, cache, mock := newScheduleFixture(t)
	slots.slots["slot-1"] = &models.Slot{
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
	mock.ExpectBegin()
	mock.ExpectCommit()

	moved, err := svc.MoveSlot(context.Background(), "slot-1", dto.MoveSlotRequest{
		Day:       3,
		StartTime: "11:00",
		EndTime:   "13:00",
	})
	require.NoError(t, err)
	require.Equal(t, "slot-1", slots.excludeSeen)
	require.Equal(t, models.DayThursday, moved.Day)
	require.Equal(t, models.TimeOfDay(11*60), moved.StartTime)
	require.Len(t, cache.invalidated, 4)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleServiceMoveSlotInactivePeriod(t *testing.T) {
	svc, slots, _, _, _ := newScheduleFixture(t)
	svc.periods = &periodByIDStub{period: &models.Period{ID: testPeriodID, State: models.PeriodStateInactive}}
	slots.slots["slot-1"] = &models.Slot{
		ID:       "slot-1",
		PeriodID: testPeriodID,
		GroupID:  testGroupID,
		Day:      models.DayMonday,
		State:    models.SlotStateActive,
	}

	_, err := svc.MoveSlot(context.Background(), "slot-1", dto.MoveSlotRequest{
		Day:       3,
		StartTime: "11:00",
		EndTime:   "13:00",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPeriodNotActive.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.DayMonday, slots.slots["slot-1"].Day)
}

func TestScheduleServiceCancelSlotInactivePeriod(t *testing.T) {
	svc, slots, _, _, _ := newScheduleFixture(t)
	svc.periods = &periodByIDStub{period: &models.Period{ID: testPeriodID, State: models.PeriodStateInactive}}
	slots.slots["slot-1"] = &models.Slot{
		ID:       "slot-1",
		PeriodID: testPeriodID,
		GroupID:  testGroupID,
		State:    models.SlotStateActive,
	}

	err := svc.CancelSlot(context.Background(), "slot-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPeriodNotActive.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.SlotStateActive, slots.slots["slot-1"].State)
}

func TestScheduleServiceCancelSlot(t *testing.T) {
	svc, slots, _, cache, _ := newScheduleFixture(t)
	slots.slots["slot-1"] = &models.Slot{
		ID:       "slot-1",
		PeriodID: testPeriodID,
		GroupID:  testGroupID,
		State:    models.SlotStateActive,
	}

	require.NoError(t, svc.CancelSlot(context.Background(), "slot-1"))
	require.Equal(t, models.SlotStateCancelled, slots.slots["slot-1"].State)
	require.NotEmpty(t, cache.invalidated)
}

func TestScheduleServiceStudentTimetableCachesResult(t *testing.T) {
	svc, slots, _, cache, _ := newScheduleFixture(t)
	slots.studentSlots = []models.Slot{{ID: "slot-1", PeriodID: testPeriodID, GroupID: testGroupID}}

	timetable, err := svc.StudentTimetable(context.Background(), "student-1", testPeriodID)
	require.NoError(t, err)
	require.Len(t, timetable, 1)
	require.Contains(t, cache.sets, "timetable:student:"+testPeriodID+":student-1")
}
