package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/eduplan/eduplan-api/internal/models"
)

func newSlotRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func slotRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "period_id", "group_id", "classroom_id", "teacher_id", "day_of_week", "start_time", "end_time", "state", "created_at", "updated_at"})
}

func TestSlotRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newSlotRepoMock(t)
	defer cleanup()

	repo := NewSlotRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO slots")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	slot := &models.Slot{
		PeriodID:    "period-1",
		GroupID:     "group-1",
		ClassroomID: "room-1",
		TeacherID:   "teacher-1",
		Day:         models.DayMonday,
		StartTime:   models.TimeOfDay(8 * 60),
		EndTime:     models.TimeOfDay(10 * 60),
	}
	require.NoError(t, repo.Create(context.Background(), nil, slot))
	require.NotEmpty(t, slot.ID)
	require.Equal(t, models.SlotStateActive, slot.State)

	rows := slotRows().
		AddRow(slot.ID, "period-1", "group-1", "room-1", "teacher-1", 0, "08:00:00", "10:00:00", "ACTIVE", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, period_id, group_id")).
		WithArgs(slot.ID).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), slot.ID)
	require.NoError(t, err)
	require.Equal(t, models.TimeOfDay(8*60), found.StartTime)
	require.Equal(t, models.TimeOfDay(10*60), found.EndTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepositoryFindClassroomOverlap(t *testing.T) {
	db, mock, cleanup := newSlotRepoMock(t)
	defer cleanup()

	repo := NewSlotRepository(db)
	rows := slotRows().
		AddRow("slot-2", "period-1", "group-2", "room-1", "teacher-2", 0, "09:00:00", "11:00:00", "ACTIVE", time.Now(), time.Now())
	mock.ExpectQuery("SELECT .* FROM slots").
		WillReturnRows(rows)

	candidate := models.SlotCandidate{
		PeriodID:    "period-1",
		ClassroomID: "room-1",
		TeacherID:   "teacher-1",
		Day:         models.DayMonday,
		StartTime:   models.TimeOfDay(8 * 60),
		EndTime:     models.TimeOfDay(10 * 60),
	}
	conflict, err := repo.FindClassroomOverlap(context.Background(), nil, candidate, "")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	require.Equal(t, "slot-2", conflict.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepositoryFindClassroomOverlapNone(t *testing.T) {
	db, mock, cleanup := newSlotRepoMock(t)
	defer cleanup()

	repo := NewSlotRepository(db)
	mock.ExpectQuery("SELECT .* FROM slots").
		WillReturnRows(slotRows())

	conflict, err := repo.FindClassroomOverlap(context.Background(), nil, models.SlotCandidate{
		PeriodID:    "period-1",
		ClassroomID: "room-1",
		Day:         models.DayTuesday,
		StartTime:   models.TimeOfDay(8 * 60),
		EndTime:     models.TimeOfDay(10 * 60),
	}, "slot-1")
	require.NoError(t, err)
	require.Nil(t, conflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepositoryUpdateScheduleMissing(t *testing.T) {
	db, mock, cleanup := newSlotRepoMock(t)
	defer cleanup()

	repo := NewSlotRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE slots SET day_of_week")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSchedule(context.Background(), nil, "slot-404", models.DayWednesday, models.TimeOfDay(7*60), models.TimeOfDay(9*60))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
