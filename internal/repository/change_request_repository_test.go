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

func newChangeRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestChangeRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO change_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := &models.ChangeRequest{
		TeacherID:     "teacher-1",
		GroupID:       "group-1",
		OriginalDay:   models.DayMonday,
		ProposedDay:   models.DayWednesday,
		ProposedStart: models.TimeOfDay(10 * 60),
		ProposedEnd:   models.TimeOfDay(12 * 60),
		Reason:        "room renovation",
	}
	require.NoError(t, repo.Create(context.Background(), request))
	require.Equal(t, models.ChangeRequestStatePending, request.State)

	rows := sqlmock.NewRows([]string{"id", "teacher_id", "group_id", "original_day", "proposed_day", "proposed_start", "proposed_end", "reason", "state", "resolved_at", "created_at", "updated_at"}).
		AddRow(request.ID, "teacher-1", "group-1", 0, 2, "10:00:00", "12:00:00", "room renovation", "PENDING", nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, teacher_id, group_id")).
		WithArgs(request.ID).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, models.DayWednesday, found.ProposedDay)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryResolve(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Resolve(context.Background(), nil, "req-1", models.ChangeRequestStateApproved, now))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Resolve(context.Background(), nil, "req-1", models.ChangeRequestStateRejected, now)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
