package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newMockedRepository wires a Repository to a sqlmock-backed connection so
// the exact SQL a repository method issues can be asserted, without a real
// database file — the same technique the reference catalog's scanner tests
// use against a mocked driver connection.
func newMockedRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	dialector := sqlite.Dialector{Conn: sqlDB}
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return &Repository{db: gormDB}, mock
}

func TestUpdateMedia_IssuesExpectedUpdate(t *testing.T) {
	repo, mock := newMockedRepository(t)

	mock.ExpectExec(`UPDATE "media" SET .*"title".* WHERE id = ?`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateMedia(context.Background(), "media-1", map[string]interface{}{"title": "Renamed"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMedia_IssuesExpectedSelect(t *testing.T) {
	repo, mock := newMockedRepository(t)

	rows := sqlmock.NewRows([]string{"id", "title"}).AddRow("media-1", "Example")
	mock.ExpectQuery(`SELECT \* FROM "media" WHERE id = ?`).WillReturnRows(rows)

	media, err := repo.GetMedia(context.Background(), "media-1")
	require.NoError(t, err)
	require.Equal(t, "Example", media.Title)
	require.NoError(t, mock.ExpectationsWereMet())
}
