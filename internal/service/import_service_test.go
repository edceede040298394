package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-regcode-api/internal/models"
	"github.com/noah-isme/sma-regcode-api/internal/repository"
	appErrors "github.com/noah-isme/sma-regcode-api/pkg/errors"
	"github.com/noah-isme/sma-regcode-api/pkg/jobs"
	"github.com/noah-isme/sma-regcode-api/pkg/storage"
)

type importCodeStoreStub struct {
	existing map[string]bool
	inserted []models.RegistrationCode
	chunkErr error
	chunks   int
}

func newImportCodeStoreStub() *importCodeStoreStub {
	return &importCodeStoreStub{existing: map[string]bool{}}
}

func (s *importCodeStoreStub) FilterExisting(ctx context.Context, codes []string) (map[string]bool, error) {
	found := map[string]bool{}
	for _, code := range codes {
		if s.existing[code] {
			found[code] = true
		}
	}
	return found, nil
}

func (s *importCodeStoreStub) BulkInsertChunk(ctx context.Context, codes []models.RegistrationCode) error {
	if s.chunkErr != nil {
		return s.chunkErr
	}
	s.chunks++
	for _, code := range codes {
		s.existing[code.Code] = true
	}
	s.inserted = append(s.inserted, codes...)
	return nil
}

type importLogStoreStub struct {
	logs map[string]*models.ImportLog
	seq  int
}

func newImportLogStoreStub() *importLogStoreStub {
	return &importLogStoreStub{logs: map[string]*models.ImportLog{}}
}

func (s *importLogStoreStub) Create(ctx context.Context, log *models.ImportLog) error {
	s.seq++
	if log.ID == "" {
		log.ID = fmt.Sprintf("log-%d", s.seq)
	}
	s.logs[log.ID] = log
	return nil
}

func (s *importLogStoreStub) GetByID(ctx context.Context, id string) (*models.ImportLog, error) {
	log, ok := s.logs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return log, nil
}

func (s *importLogStoreStub) Update(ctx context.Context, id string, params repository.UpdateImportLogParams) error {
	log, ok := s.logs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		log.Status = *params.Status
	}
	if params.Total != nil {
		log.Total = *params.Total
	}
	if params.Imported != nil {
		log.Imported = *params.Imported
	}
	if params.Skipped != nil {
		log.Skipped = *params.Skipped
	}
	if params.SkipSamples != nil {
		log.SkipSamples = *params.SkipSamples
	}
	if params.CompletedAt != nil {
		log.CompletedAt = params.CompletedAt
	}
	if params.ErrorMessage != nil {
		log.ErrorMessage = params.ErrorMessage
	}
	return nil
}

func (s *importLogStoreStub) List(ctx context.Context, userID string, limit int) ([]models.ImportLog, error) {
	var result []models.ImportLog
	for _, log := range s.logs {
		if userID != "" && log.UserID != userID {
			continue
		}
		result = append(result, *log)
	}
	return result, nil
}

type dispatcherStub struct {
	jobs []jobs.Job
	err  error
}

func (s *dispatcherStub) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func newImportFixture(t *testing.T, codes *importCodeStoreStub, logs *importLogStoreStub, cfg ImportServiceConfig) (*ImportService, *dispatcherStub) {
	t.Helper()
	spool, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewImportService(codes, logs, spool, nil, nil, cfg)
	dispatcher := &dispatcherStub{}
	svc.AttachQueue(dispatcher)
	return svc, dispatcher
}

// runImport drives StartImport and then executes the queued job the way
// a queue worker would.
func runImport(t *testing.T, svc *ImportService, dispatcher *dispatcherStub, csvBody string) *ImportAccepted {
	t.Helper()
	accepted, err := svc.StartImport(context.Background(), strings.NewReader(csvBody), "kelas-10a", teacherClaims())
	require.NoError(t, err)
	require.Len(t, dispatcher.jobs, 1)
	require.NoError(t, svc.ProcessJob(context.Background(), dispatcher.jobs[0]))
	return accepted
}

func TestImportPipelineHappyPath(t *testing.T) {
	codes := newImportCodeStoreStub()
	logs := newImportLogStoreStub()
	svc, dispatcher := newImportFixture(t, codes, logs, ImportServiceConfig{})

	csvBody := "code,group\nSMA-AAAA2222,\nSMA-BBBB3333,kelas-11b\nSMA-CCCC4444,\n"
	accepted := runImport(t, svc, dispatcher, csvBody)
	assert.Equal(t, 3, accepted.Total)

	log, err := svc.GetStatus(context.Background(), accepted.ImportLogID, teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, log.Status)
	assert.Equal(t, 3, log.Imported)
	assert.Equal(t, 0, log.Skipped)
	assert.NotNil(t, log.CompletedAt)

	require.Len(t, codes.inserted, 3)
	assert.Equal(t, "kelas-10a", codes.inserted[0].GroupName)
	assert.Equal(t, "kelas-11b", codes.inserted[1].GroupName)
	assert.Equal(t, "teacher-1", codes.inserted[0].CreatedBy)
}

func TestImportSkipsDuplicatesAndExisting(t *testing.T) {
	codes := newImportCodeStoreStub()
	codes.existing["SMA-OLD11111"] = true
	logs := newImportLogStoreStub()
	svc, dispatcher := newImportFixture(t, codes, logs, ImportServiceConfig{})

	csvBody := "code,group\nSMA-AAAA2222,\nSMA-AAAA2222,\n,kelas-10a\nSMA-OLD11111,\nSMA-BBBB3333,\n"
	accepted := runImport(t, svc, dispatcher, csvBody)

	log, err := svc.GetStatus(context.Background(), accepted.ImportLogID, teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, log.Status)
	assert.Equal(t, 2, log.Imported)
	assert.Equal(t, 3, log.Skipped)

	// Samples point at the offending source rows (header is row 1).
	rows := map[string]int{}
	for _, sample := range log.SkipSamples {
		rows[sample.Reason] = sample.Row
	}
	assert.Equal(t, 3, rows[skipReasonDuplicateFile])
	assert.Equal(t, 4, rows[skipReasonEmptyCode])
	assert.Equal(t, 5, rows[skipReasonAlreadyStored])
}

func TestImportReimportIsIdempotent(t *testing.T) {
	codes := newImportCodeStoreStub()
	logs := newImportLogStoreStub()
	svc, dispatcher := newImportFixture(t, codes, logs, ImportServiceConfig{})

	csvBody := "code\nSMA-AAAA2222\nSMA-BBBB3333\n"
	first := runImport(t, svc, dispatcher, csvBody)
	firstLog, err := svc.GetStatus(context.Background(), first.ImportLogID, teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, 2, firstLog.Imported)

	dispatcher.jobs = nil
	second := runImport(t, svc, dispatcher, csvBody)
	secondLog, err := svc.GetStatus(context.Background(), second.ImportLogID, teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, 0, secondLog.Imported)
	assert.Equal(t, 2, secondLog.Skipped)
	assert.Len(t, codes.inserted, 2)
}

func TestImportChunksCommitSeparately(t *testing.T) {
	codes := newImportCodeStoreStub()
	logs := newImportLogStoreStub()
	svc, dispatcher := newImportFixture(t, codes, logs, ImportServiceConfig{ChunkSize: 2})

	var sb strings.Builder
	sb.WriteString("code\n")
	for _, code := range []string{"SMA-A1", "SMA-A2", "SMA-A3", "SMA-A4", "SMA-A5"} {
		sb.WriteString(code + "\n")
	}
	accepted := runImport(t, svc, dispatcher, sb.String())

	log, err := svc.GetStatus(context.Background(), accepted.ImportLogID, teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, 5, log.Imported)
	assert.Equal(t, 3, codes.chunks)
}

func TestImportChunkFailureMarksFailed(t *testing.T) {
	codes := newImportCodeStoreStub()
	codes.chunkErr = assert.AnError
	logs := newImportLogStoreStub()
	svc, dispatcher := newImportFixture(t, codes, logs, ImportServiceConfig{})

	accepted := runImport(t, svc, dispatcher, "code\nSMA-AAAA2222\n")

	log, err := svc.GetStatus(context.Background(), accepted.ImportLogID, teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusFailed, log.Status)
	require.NotNil(t, log.ErrorMessage)
	assert.Contains(t, *log.ErrorMessage, "import chunk failed")
	assert.NotNil(t, log.CompletedAt)
}

func TestImportRejectsEmptyCSV(t *testing.T) {
	svc, _ := newImportFixture(t, newImportCodeStoreStub(), newImportLogStoreStub(), ImportServiceConfig{})

	_, err := svc.StartImport(context.Background(), strings.NewReader("code\n"), "", teacherClaims())
	require.Error(t, err)

	_, err = svc.StartImport(context.Background(), strings.NewReader(""), "", teacherClaims())
	require.Error(t, err)
}

func TestImportStatusOwnership(t *testing.T) {
	logs := newImportLogStoreStub()
	svc, dispatcher := newImportFixture(t, newImportCodeStoreStub(), logs, ImportServiceConfig{})

	accepted := runImport(t, svc, dispatcher, "code\nSMA-AAAA2222\n")

	other := &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	_, err := svc.GetStatus(context.Background(), accepted.ImportLogID, other)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	// Admins can read any log.
	_, err = svc.GetStatus(context.Background(), accepted.ImportLogID, adminClaims())
	require.NoError(t, err)
}

func TestImportListScopedToTeacher(t *testing.T) {
	logs := newImportLogStoreStub()
	logs.logs["log-1"] = &models.ImportLog{ID: "log-1", UserID: "teacher-1"}
	logs.logs["log-2"] = &models.ImportLog{ID: "log-2", UserID: "admin-1"}
	svc, _ := newImportFixture(t, newImportCodeStoreStub(), logs, ImportServiceConfig{})

	mine, err := svc.List(context.Background(), teacherClaims(), 20)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "teacher-1", mine[0].UserID)

	all, err := svc.List(context.Background(), adminClaims(), 20)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

type importCacheStub struct {
	patterns []string
}

func (s *importCacheStub) DeleteByPattern(_ context.Context, pattern string) error {
	s.patterns = append(s.patterns, pattern)
	return nil
}

func TestImportInvalidatesGroupCache(t *testing.T) {
	svc, dispatcher := newImportFixture(t, newImportCodeStoreStub(), newImportLogStoreStub(), ImportServiceConfig{})
	cache := &importCacheStub{}
	svc.AttachGroupCache(cache)

	runImport(t, svc, dispatcher, "code,group\nSMA-CACHE001,\n")
	require.Len(t, cache.patterns, 1)
	assert.Equal(t, groupCachePrefix+"*", cache.patterns[0])

	// A run that lands nothing leaves the cache alone.
	dispatcher.jobs = nil
	runImport(t, svc, dispatcher, "code,group\nSMA-CACHE001,\n")
	assert.Len(t, cache.patterns, 1)
}
