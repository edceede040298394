package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-regcode-api/internal/models"
)

func TestInsertIfAbsentInserted(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectExec("INSERT INTO registration_codes").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.InsertIfAbsent(context.Background(), &models.RegistrationCode{
		Code:      "SMA-AAAA2222",
		GroupName: "kelas-10a",
		CreatedBy: "u1",
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectExec("INSERT INTO registration_codes").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.InsertIfAbsent(context.Background(), &models.RegistrationCode{
		Code:      "SMA-AAAA2222",
		CreatedBy: "u1",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectExec("INSERT INTO registration_codes").
		WillReturnResult(sqlmock.NewResult(0, 1))

	code := &models.RegistrationCode{Code: "SMA-BBBB3333", CreatedBy: "u1"}
	_, err := repo.InsertIfAbsent(context.Background(), code)
	require.NoError(t, err)
	assert.NotEmpty(t, code.ID)
	assert.Equal(t, models.CodeStatusActive, code.Status)
	assert.False(t, code.CreatedAt.IsZero())
}

func TestFilterExisting(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	rows := sqlmock.NewRows([]string{"code"}).AddRow("SMA-AAAA2222")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code FROM registration_codes WHERE code IN ($1,$2)")).
		WithArgs("SMA-AAAA2222", "SMA-BBBB3333").
		WillReturnRows(rows)

	existing, err := repo.FilterExisting(context.Background(), []string{"SMA-AAAA2222", "SMA-BBBB3333"})
	require.NoError(t, err)
	assert.True(t, existing["SMA-AAAA2222"])
	assert.False(t, existing["SMA-BBBB3333"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertChunkCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO registration_codes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO registration_codes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.BulkInsertChunk(context.Background(), []models.RegistrationCode{
		{Code: "SMA-AAAA2222", CreatedBy: "u1"},
		{Code: "SMA-BBBB3333", CreatedBy: "u1"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertChunkRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO registration_codes").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.BulkInsertChunk(context.Background(), []models.RegistrationCode{
		{Code: "SMA-AAAA2222", CreatedBy: "u1"},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemTransitionsActiveCode(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	usedAt := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_codes SET status = $2, used_by = $3, used_at = $4")).
		WithArgs("SMA-AAAA2222", models.CodeStatusUsed, "student-1", usedAt, models.CodeStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	redeemed, err := repo.Redeem(context.Background(), "SMA-AAAA2222", "student-1", usedAt)
	require.NoError(t, err)
	assert.True(t, redeemed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemNoRowMeansUsedOrMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectExec("UPDATE registration_codes SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	redeemed, err := repo.Redeem(context.Background(), "SMA-AAAA2222", "student-1", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, redeemed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCodesWithFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "code", "group_name", "created_by", "created_at", "status", "used_by", "used_at"}).
		AddRow("1", "SMA-AAAA2222", "kelas-10a", "u1", now, string(models.CodeStatusActive), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM registration_codes WHERE group_name = $1 AND status = $2 ORDER BY created_at DESC, code ASC LIMIT 20 OFFSET 0")).
		WithArgs("kelas-10a", models.CodeStatusActive).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM registration_codes WHERE group_name = $1 AND status = $2")).
		WithArgs("kelas-10a", models.CodeStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	codes, total, err := repo.List(context.Background(), models.CodeFilter{GroupName: "kelas-10a", Status: models.CodeStatusActive})
	require.NoError(t, err)
	assert.Len(t, codes, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCodesSecondPageOffset(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM registration_codes ORDER BY created_at DESC, code ASC LIMIT 10 OFFSET 10")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "group_name", "created_by", "created_at", "status", "used_by", "used_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM registration_codes")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))

	codes, total, err := repo.List(context.Background(), models.CodeFilter{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, codes)
	assert.Equal(t, 25, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCodesScopedToCreator(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM registration_codes WHERE created_by = $1")).
		WithArgs("teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "group_name", "created_by", "created_at", "status", "used_by", "used_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM registration_codes WHERE created_by = $1")).
		WithArgs("teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	codes, total, err := repo.List(context.Background(), models.CodeFilter{CreatedBy: "teacher-1"})
	require.NoError(t, err)
	assert.Empty(t, codes)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListGroups(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	rows := sqlmock.NewRows([]string{"group_name"}).AddRow("kelas-10a").AddRow("kelas-10b")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT group_name FROM registration_codes WHERE group_name <> '' ORDER BY group_name ASC")).
		WillReturnRows(rows)

	groups, err := repo.ListGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"kelas-10a", "kelas-10b"}, groups)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGroupReturnsCount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registration_codes WHERE group_name = $1")).
		WithArgs("kelas-10a").
		WillReturnResult(sqlmock.NewResult(0, 40))

	deleted, err := repo.DeleteGroup(context.Background(), "kelas-10a")
	require.NoError(t, err)
	assert.Equal(t, 40, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGroupUnknownLabel(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectExec("DELETE FROM registration_codes").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.DeleteGroup(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCodeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM registration_codes WHERE code = $1")).
		WithArgs("SMA-KNOWN001").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM registration_codes WHERE code = $1")).
		WithArgs("SMA-MISSING1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	found, err := repo.Exists(context.Background(), "SMA-KNOWN001")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = repo.Exists(context.Background(), "SMA-MISSING1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}
