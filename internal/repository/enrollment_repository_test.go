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

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{
		StudentID: "student-1",
		GroupID:   "group-1",
		PeriodID:  "period-1",
	}
	require.NoError(t, repo.Create(context.Background(), nil, enrollment))
	require.NotEmpty(t, enrollment.ID)
	require.Equal(t, models.EnrollmentStateActive, enrollment.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsActive(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("student-1", "group-1", "period-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsActive(context.Background(), nil, "student-1", "group-1", "period-1", "")
	require.NoError(t, err)
	require.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("student-1", "group-2", "period-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err = repo.ExistsActive(context.Background(), nil, "student-1", "group-2", "period-1", "")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCounts(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE group_id")).
		WithArgs("group-1", "period-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(29))

	count, err := repo.CountActiveByGroup(context.Background(), nil, "group-1", "period-1", "")
	require.NoError(t, err)
	require.Equal(t, 29, count)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE student_id")).
		WithArgs("student-1", "period-1", "enr-9").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	count, err = repo.CountActiveByStudent(context.Background(), nil, "student-1", "period-1", "enr-9")
	require.NoError(t, err)
	require.Equal(t, 5, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindActiveBySubject(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	rows := sqlmock.NewRows([]string{"id", "student_id", "group_id", "period_id", "state", "created_at", "updated_at", "subject_id", "group_name", "subject_name"}).
		AddRow("enr-1", "student-1", "group-1", "period-1", "ACTIVE", time.Now(), time.Now(), "subject-1", "Group A", "Algebra")
	mock.ExpectQuery("SELECT e.id, e.student_id").
		WithArgs("student-1", "subject-1", "period-1").
		WillReturnRows(rows)

	detail, err := repo.FindActiveBySubject(context.Background(), nil, "student-1", "subject-1", "period-1", "")
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.Equal(t, "group-1", detail.GroupID)

	mock.ExpectQuery("SELECT e.id, e.student_id").
		WithArgs("student-1", "subject-2", "period-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	detail, err = repo.FindActiveBySubject(context.Background(), nil, "student-1", "subject-2", "period-1", "")
	require.NoError(t, err)
	require.Nil(t, detail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryWithdrawMissing(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET state = 'WITHDRAWN'")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.Error(t, repo.Withdraw(context.Background(), "enr-404"))
	require.NoError(t, mock.ExpectationsWereMet())
}
