package sqlstore

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, kv := range [][2]string{
		{"vc.1.s2", "b"}, {"vc.1.s1", "a"}, {"vc.1.|nextOrdinal", "3"}, {"vc.10.s1", "z"}, {"vom.rc.o+v10/1", "1"},
	} {
		require.NoError(t, s.Set(ctx, kv[0], kv[1]))
	}
	require.NoError(t, s.Set(ctx, "vc.1.s1", "aa"))

	v, ok, err := s.Get(ctx, "vc.1.s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "aa", v)

	var keys []string
	for k, err := range kvstore.ScanKeys(ctx, s, "vc.1.") {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"vc.1.s1", "vc.1.s2", "vc.1.|nextOrdinal"}, keys)

	require.NoError(t, s.Delete(ctx, "vc.1.s1"))
	require.NoError(t, s.Delete(ctx, "vc.1.s1"))
	next, ok, err := s.GetNextKey(ctx, "vc.1.")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "vc.1.s2", next)

	_, ok, err = s.GetNextKey(ctx, "vom.rc.o+v10/1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_CustomTable(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:", WithTable("vat_7"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Set(ctx, "k", "v"))

	_, err = OpenSQLite(ctx, ":memory:", WithTable("bad; DROP"))
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS kv (key TEXT COLLATE "C" PRIMARY KEY, value TEXT NOT NULL)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := New(ctx, db, Postgres)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = excluded.value")).
		WithArgs("vom.rc.o-1", "2").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Set(ctx, "vom.rc.o-1", "2"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv WHERE key = $1")).
		WithArgs("vom.rc.o-1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("2"))
	v, ok, err := s.Get(ctx, "vom.rc.o-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv WHERE key = $1")).
		WithArgs("vom.rc.o-2").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	_, ok, err = s.Get(ctx, "vom.rc.o-2")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key FROM kv WHERE key > $1 ORDER BY key LIMIT 1")).
		WithArgs("vom.rc.").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("vom.rc.o-1"))
	k, ok, err := s.GetNextKey(ctx, "vom.rc.")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "vom.rc.o-1", k)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kv WHERE key = $1")).
		WithArgs("vom.rc.o-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, "vom.rc.o-1"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv WHERE key = $1")).
		WithArgs("boom").
		WillReturnError(sqlmock.ErrCancelled)
	_, _, err = s.Get(ctx, "boom")
	assert.ErrorIs(t, err, sqlmock.ErrCancelled)

	assert.NoError(t, mock.ExpectationsWereMet())
}
