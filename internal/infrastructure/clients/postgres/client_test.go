package postgres

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewClientFromDB(db), mock
}

func TestMigrate_SkipsRecordedVersions(t *testing.T) {
	client, mock := newMockClient(t)
	fsys := fstest.MapFS{
		"0002_widgets.sql": {Data: []byte("CREATE TABLE widgets (id TEXT)")},
		"0001_base.sql":    {Data: []byte("CREATE TABLE base (id TEXT)")},
		"README.md":        {Data: []byte("not a migration")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_base.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0002_widgets.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE widgets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_widgets.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := client.Migrate(context.Background(), fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_widgets.sql"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_RollsBackFailedFile(t *testing.T) {
	client, mock := newMockClient(t)
	fsys := fstest.MapFS{
		"0001_base.sql": {Data: []byte("CREATE TABLE base (id TEXT)")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_base.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE base").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := client.Migrate(context.Background(), fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_base.sql")
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
