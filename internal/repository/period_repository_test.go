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

func newPeriodRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPeriodRepositoryCreateDefaultsInactive(t *testing.T) {
	db, mock, cleanup := newPeriodRepoMock(t)
	defer cleanup()

	repo := NewPeriodRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO periods")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	period := &models.Period{
		Name:      "2026-1",
		StartDate: time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 6, 12, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Create(context.Background(), period))
	require.Equal(t, models.PeriodStateInactive, period.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newPeriodRepoMock(t)
	defer cleanup()

	repo := NewPeriodRepository(db)
	rows := sqlmock.NewRows([]string{"id", "name", "start_date", "end_date", "state", "created_at", "updated_at"}).
		AddRow("period-1", "2026-1", time.Now(), time.Now(), "ACTIVE", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, start_date")).
		WillReturnRows(rows)

	active, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	require.Equal(t, "period-1", active.ID)
	require.Equal(t, models.PeriodStateActive, active.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryDeactivateOthersAndSetState(t *testing.T) {
	db, mock, cleanup := newPeriodRepoMock(t)
	defer cleanup()

	repo := NewPeriodRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE periods SET state = 'INACTIVE'")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.DeactivateOthers(context.Background(), nil, "period-1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE periods SET state = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetState(context.Background(), nil, "period-1", models.PeriodStateActive))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE periods SET state = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.Error(t, repo.SetState(context.Background(), nil, "period-404", models.PeriodStateActive))
	require.NoError(t, mock.ExpectationsWereMet())
}
