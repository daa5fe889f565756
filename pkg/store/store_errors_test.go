package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Driver-level failures must surface as errors, never as silent state loss.
func TestStore_PropagatesDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := New(db)
	require.NoError(t, err)

	boom := errors.New("disk I/O error")
	mock.ExpectQuery("SELECT request_id").WillReturnError(boom)

	_, err = s.Get(context.Background(), "0x01")
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrack_PropagatesInsertErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := New(db)
	require.NoError(t, err)

	boom := errors.New("database is locked")
	mock.ExpectExec("INSERT INTO requests").WillReturnError(boom)

	err = s.Track(context.Background(), testRequest("0x01"))
	assert.ErrorIs(t, err, boom)
}
