package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ruteri/safe-forge/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, dialect Dialect) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"forge_admins", "forge_templates", "forge_events"} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	s, err := NewSQLStore(context.Background(), db, dialect, testLogger())
	require.NoError(t, err)
	return s, mock
}

func TestSQLStore_MigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS forge_admins")).
		WillReturnError(errors.New("permission denied"))

	_, err = NewSQLStore(context.Background(), db, DialectPostgres, testLogger())
	assert.ErrorContains(t, err, "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresPlaceholders(t *testing.T) {
	s, mock := newMockStore(t, DialectPostgres)

	admin := interfaces.Admin{Principal: principal(1), AddedAt: time.Unix(0, 42), Seq: 1}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO forge_admins (principal, added_by, added_at, seq) VALUES ($1, $2, $3, $4)")).
		WithArgs(admin.Principal.Bytes(), admin.AddedBy.Bytes(), int64(42), int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.InsertAdmin(context.Background(), admin))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AppendEventFailure(t *testing.T) {
	s, mock := newMockStore(t, DialectSQLite)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO forge_events")).
		WillReturnError(errors.New("UNIQUE constraint failed: forge_events.event_id"))

	err := s.AppendEvent(context.Background(), interfaces.GenerationEvent{EventID: 7, TemplateName: "t"})
	assert.ErrorContains(t, err, "append event 7")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ApproveNoRows(t *testing.T) {
	s, mock := newMockStore(t, DialectSQLite)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE forge_templates SET status = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ApproveTemplate(context.Background(), "missing", principal(1), 5, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadQueryFailure(t *testing.T) {
	s, mock := newMockStore(t, DialectSQLite)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT principal, added_by, added_at, seq FROM forge_admins")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}
