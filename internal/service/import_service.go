package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-regcode-api/internal/models"
	"github.com/noah-isme/sma-regcode-api/internal/repository"
	appErrors "github.com/noah-isme/sma-regcode-api/pkg/errors"
	"github.com/noah-isme/sma-regcode-api/pkg/jobs"
)

const (
	skipReasonEmptyCode     = "empty code"
	skipReasonDuplicateFile = "duplicate in file"
	skipReasonAlreadyStored = "code already exists"
)

type importCodeStore interface {
	FilterExisting(ctx context.Context, codes []string) (map[string]bool, error)
	BulkInsertChunk(ctx context.Context, codes []models.RegistrationCode) error
}

type importLogStore interface {
	Create(ctx context.Context, log *models.ImportLog) error
	GetByID(ctx context.Context, id string) (*models.ImportLog, error)
	Update(ctx context.Context, id string, params repository.UpdateImportLogParams) error
	List(ctx context.Context, userID string, limit int) ([]models.ImportLog, error)
}

type spoolStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type importDispatcher interface {
	Enqueue(job jobs.Job) error
}

type importGroupCache interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

type importMetrics interface {
	AddImportRows(result string, n int)
	IncImportJob(status string)
}

type importJobPayload struct {
	LogID        string
	Filename     string
	DefaultGroup string
	UserID       string
}

// pendingRow pairs a parsed code with its source row number so skip
// samples can point at the offending line.
type pendingRow struct {
	row  int
	code models.RegistrationCode
}

// ImportAccepted acknowledges an accepted import job. Clients poll the
// import log for progress.
type ImportAccepted struct {
	ImportLogID string `json:"import_log_id"`
	Total       int    `json:"total"`
}

// ImportServiceConfig tunes the chunked pipeline.
type ImportServiceConfig struct {
	ChunkSize        int
	MemoryLimitBytes uint64
	MemoryCheckEvery int
	SkipSampleLimit  int
}

// ImportService streams CSV sources into the code store in transactional
// chunks, tracking progress on a persisted import log. The pipeline runs
// on the job queue; a synchronous HTTP request only spools the source
// and opens the log.
type ImportService struct {
	codes   importCodeStore
	logs    importLogStore
	spool   spoolStorage
	queue   importDispatcher
	cache   importGroupCache
	metrics importMetrics
	logger  *zap.Logger
	cfg     ImportServiceConfig
}

// NewImportService constructs ImportService. The dispatcher is attached
// after construction because the queue's handler is this service.
func NewImportService(codes importCodeStore, logs importLogStore, spool spoolStorage, metrics importMetrics, logger *zap.Logger, cfg ImportServiceConfig) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 25
	}
	if cfg.MemoryLimitBytes == 0 {
		cfg.MemoryLimitBytes = 256 * 1024 * 1024
	}
	if cfg.MemoryCheckEvery <= 0 {
		cfg.MemoryCheckEvery = 8
	}
	if cfg.SkipSampleLimit <= 0 {
		cfg.SkipSampleLimit = 10
	}
	return &ImportService{codes: codes, logs: logs, spool: spool, metrics: metrics, logger: logger, cfg: cfg}
}

// AttachQueue wires the dispatcher used to hand pipeline runs to workers.
func (s *ImportService) AttachQueue(queue importDispatcher) {
	s.queue = queue
}

// AttachGroupCache wires the cache whose group listings go stale when an
// import lands codes under new labels.
func (s *ImportService) AttachGroupCache(cache importGroupCache) {
	s.cache = cache
}

// StartImport spools the CSV source, opens an import log in PROCESSING
// state, and enqueues the pipeline run. An unreadable or empty source
// fails immediately without creating a log.
func (s *ImportService) StartImport(ctx context.Context, src io.Reader, defaultGroup string, actor *models.JWTClaims) (*ImportAccepted, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if src == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "missing csv upload")
	}

	filename := fmt.Sprintf("%s.csv", uuid.NewString())
	if _, err := s.spool.SaveStream(filename, src); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to spool upload")
	}

	total, err := s.countDataRows(filename)
	if err != nil {
		_ = s.spool.Delete(filename)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable csv upload")
	}
	if total == 0 {
		_ = s.spool.Delete(filename)
		return nil, appErrors.Clone(appErrors.ErrValidation, "csv upload has no data rows")
	}

	log := &models.ImportLog{
		GroupName: defaultGroup,
		UserID:    actor.UserID,
		Status:    models.ImportStatusProcessing,
		Total:     total,
	}
	if err := s.logs.Create(ctx, log); err != nil {
		_ = s.spool.Delete(filename)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create import log")
	}

	payload := importJobPayload{LogID: log.ID, Filename: filename, DefaultGroup: defaultGroup, UserID: actor.UserID}
	if err := s.queue.Enqueue(jobs.Job{ID: log.ID, Type: "code-import", Payload: payload}); err != nil {
		s.failLog(ctx, log.ID, "failed to enqueue import job")
		_ = s.spool.Delete(filename)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue import job")
	}

	return &ImportAccepted{ImportLogID: log.ID, Total: total}, nil
}

// ProcessJob is the queue handler for spooled import jobs. Pipeline
// failures are terminal and recorded on the log, so the handler never
// asks the queue for a retry.
func (s *ImportService) ProcessJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(importJobPayload)
	if !ok {
		s.logger.Error("unexpected import job payload", zap.String("job_id", job.ID))
		return nil
	}
	s.run(ctx, payload)
	return nil
}

// GetStatus exposes log progress, enforcing ownership for teachers.
func (s *ImportService) GetStatus(ctx context.Context, id string, actor *models.JWTClaims) (*models.ImportLog, error) {
	log, err := s.logs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load import log")
	}
	if actor != nil && actor.Role == models.RoleTeacher && log.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return log, nil
}

// List returns recent import logs scoped to the actor.
func (s *ImportService) List(ctx context.Context, actor *models.JWTClaims, limit int) ([]models.ImportLog, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	userID := ""
	if actor.Role == models.RoleTeacher {
		userID = actor.UserID
	}
	logs, err := s.logs.List(ctx, userID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list import logs")
	}
	return logs, nil
}

// run executes the chunked pipeline for one spooled source. Rows are
// processed in source order; each non-empty chunk commits in its own
// transaction, so earlier chunks stand when a later one fails.
func (s *ImportService) run(ctx context.Context, payload importJobPayload) {
	file, err := s.spool.Open(payload.Filename)
	if err != nil {
		s.failLog(ctx, payload.LogID, "spooled import source disappeared")
		return
	}
	defer func() {
		file.Close()
		if err := s.spool.Delete(payload.Filename); err != nil {
			s.logger.Warn("failed to remove spool file", zap.String("file", payload.Filename), zap.Error(err))
		}
	}()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	// Header row is positional: column 0 = code, column 1 = optional
	// group override. Column names are not validated.
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			s.completeLog(ctx, payload.LogID, 0, 0, nil)
			return
		}
		s.failLog(ctx, payload.LogID, fmt.Sprintf("read csv header: %v", err))
		return
	}

	var (
		imported int
		skipped  int
		samples  models.SkipSamples
		seen     = make(map[string]bool)
		rowNum   = 1
		chunks   = 0
		done     = false
	)

	addSample := func(row int, code, reason string) {
		if len(samples) < s.cfg.SkipSampleLimit {
			samples = append(samples, models.SkipSample{Row: row, Code: code, Reason: reason})
		}
	}

	for !done {
		if err := ctx.Err(); err != nil {
			s.failLog(ctx, payload.LogID, "import canceled")
			return
		}

		batch := make([]pendingRow, 0, s.cfg.ChunkSize)
		for len(batch) < s.cfg.ChunkSize {
			record, err := reader.Read()
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				s.failLog(ctx, payload.LogID, fmt.Sprintf("read csv row: %v", err))
				return
			}
			rowNum++

			code := ""
			if len(record) > 0 {
				code = strings.TrimSpace(record[0])
			}
			if code == "" {
				skipped++
				addSample(rowNum, "", skipReasonEmptyCode)
				continue
			}
			if seen[code] {
				skipped++
				addSample(rowNum, code, skipReasonDuplicateFile)
				continue
			}
			seen[code] = true

			group := payload.DefaultGroup
			if len(record) > 1 && strings.TrimSpace(record[1]) != "" {
				group = strings.TrimSpace(record[1])
			}
			batch = append(batch, pendingRow{row: rowNum, code: models.RegistrationCode{Code: code, GroupName: group, CreatedBy: payload.UserID}})
		}

		if len(batch) > 0 {
			inserted, skippedExisting, err := s.insertChunk(ctx, batch, &samples)
			if err != nil {
				s.failLog(ctx, payload.LogID, fmt.Sprintf("import chunk failed: %v", err))
				return
			}
			imported += inserted
			skipped += skippedExisting
		}

		s.updateProgress(ctx, payload.LogID, imported, skipped, samples)

		chunks++
		if chunks%s.cfg.MemoryCheckEvery == 0 && s.memoryExceeded() {
			s.failLog(ctx, payload.LogID, "memory ceiling exceeded, import aborted")
			return
		}
	}

	s.completeLog(ctx, payload.LogID, imported, skipped, samples)
}

// insertChunk drops rows whose code is already stored, then commits the
// remainder in a single transaction.
func (s *ImportService) insertChunk(ctx context.Context, batch []pendingRow, samples *models.SkipSamples) (int, int, error) {
	codes := make([]string, len(batch))
	for i, rec := range batch {
		codes[i] = rec.code.Code
	}
	existing, err := s.codes.FilterExisting(ctx, codes)
	if err != nil {
		return 0, 0, err
	}

	toInsert := make([]models.RegistrationCode, 0, len(batch))
	skippedExisting := 0
	for _, rec := range batch {
		if existing[rec.code.Code] {
			skippedExisting++
			if len(*samples) < s.cfg.SkipSampleLimit {
				*samples = append(*samples, models.SkipSample{Row: rec.row, Code: rec.code.Code, Reason: skipReasonAlreadyStored})
			}
			continue
		}
		toInsert = append(toInsert, rec.code)
	}

	if len(toInsert) > 0 {
		if err := s.codes.BulkInsertChunk(ctx, toInsert); err != nil {
			return 0, skippedExisting, err
		}
	}
	return len(toInsert), skippedExisting, nil
}

func (s *ImportService) updateProgress(ctx context.Context, logID string, imported, skipped int, samples models.SkipSamples) {
	params := repository.UpdateImportLogParams{Imported: &imported, Skipped: &skipped, SkipSamples: &samples}
	if err := s.logs.Update(ctx, logID, params); err != nil {
		s.logger.Warn("failed to update import progress", zap.String("import_log_id", logID), zap.Error(err))
	}
}

func (s *ImportService) completeLog(ctx context.Context, logID string, imported, skipped int, samples models.SkipSamples) {
	now := time.Now().UTC()
	status := models.ImportStatusCompleted
	params := repository.UpdateImportLogParams{
		Status:      &status,
		Imported:    &imported,
		Skipped:     &skipped,
		CompletedAt: &now,
	}
	if samples != nil {
		params.SkipSamples = &samples
	}
	if err := s.logs.Update(ctx, logID, params); err != nil {
		s.logger.Error("failed to finalise import log", zap.String("import_log_id", logID), zap.Error(err))
	}
	if imported > 0 && s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, groupCachePrefix+"*"); err != nil {
			s.logger.Warn("failed to invalidate group cache", zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.AddImportRows("imported", imported)
		s.metrics.AddImportRows("skipped", skipped)
		s.metrics.IncImportJob("completed")
	}
	s.logger.Info("import completed", zap.String("import_log_id", logID), zap.Int("imported", imported), zap.Int("skipped", skipped))
}

func (s *ImportService) failLog(ctx context.Context, logID, message string) {
	status := models.ImportStatusFailed
	now := time.Now().UTC()
	params := repository.UpdateImportLogParams{Status: &status, CompletedAt: &now, ErrorMessage: &message}
	if err := s.logs.Update(ctx, logID, params); err != nil {
		s.logger.Error("failed to mark import failed", zap.String("import_log_id", logID), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.IncImportJob("failed")
	}
	s.logger.Warn("import failed", zap.String("import_log_id", logID), zap.String("reason", message))
}

func (s *ImportService) memoryExceeded() bool {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc > s.cfg.MemoryLimitBytes
}

// countDataRows counts CSV records excluding the header.
func (s *ImportService) countDataRows(filename string) (int, error) {
	file, err := s.spool.Open(filename)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	count := 0
	for {
		if _, err := reader.Read(); err != nil {
			if err == io.EOF {
				break
			}
			return 0, err
		}
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return count - 1, nil
}
