package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-regcode-api/internal/models"
	appErrors "github.com/noah-isme/sma-regcode-api/pkg/errors"
)

// suffixCharset avoids ambiguous characters like O/0, I/1, l.
const suffixCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const groupCachePrefix = "codes:groups:"

type codeRepository interface {
	InsertIfAbsent(ctx context.Context, code *models.RegistrationCode) (bool, error)
	List(ctx context.Context, filter models.CodeFilter) ([]models.RegistrationCode, int, error)
	ListGroups(ctx context.Context) ([]string, error)
	ListGroupsFor(ctx context.Context, creatorID string) ([]string, error)
	DeleteGroup(ctx context.Context, groupName string) (int, error)
}

type groupCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type codeMetrics interface {
	AddCodesGenerated(n int)
}

// GenerateCodesRequest describes a batch generation request.
type GenerateCodesRequest struct {
	Count     int    `json:"count" validate:"required,min=1"`
	GroupName string `json:"group_name" validate:"max=190"`
}

// GenerateCodesResult reports how much of the requested batch landed.
// Generated can be lower than Requested when the generator gives up on
// repeated collisions; callers must compare the two.
type GenerateCodesResult struct {
	Codes     []string `json:"codes"`
	Requested int      `json:"requested"`
	Generated int      `json:"generated"`
}

// CodeServiceConfig governs token shape and batch limits.
type CodeServiceConfig struct {
	Prefix        string
	SuffixLength  int
	MaxBatch      int
	MaxAttempts   int
	GroupCacheTTL time.Duration
}

// CodeService issues registration codes and serves the role-scoped
// query surface over them.
type CodeService struct {
	repo      codeRepository
	cache     groupCache
	metrics   codeMetrics
	validator *validator.Validate
	logger    *zap.Logger
	cfg       CodeServiceConfig
}

// NewCodeService constructs CodeService.
func NewCodeService(repo codeRepository, cache groupCache, metrics codeMetrics, validate *validator.Validate, logger *zap.Logger, cfg CodeServiceConfig) *CodeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "SMA-"
	}
	if cfg.SuffixLength <= 0 {
		cfg.SuffixLength = 8
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 500
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.GroupCacheTTL <= 0 {
		cfg.GroupCacheTTL = 5 * time.Minute
	}
	return &CodeService{repo: repo, cache: cache, metrics: metrics, validator: validate, logger: logger, cfg: cfg}
}

// Generate issues up to req.Count unique codes for the actor. The count
// is clamped to MaxBatch to bound generator retry cost. Each code is
// reserved through a conditional insert, so concurrent batches can never
// issue the same token twice.
func (s *CodeService) Generate(ctx context.Context, req GenerateCodesRequest, actor *models.JWTClaims) (*GenerateCodesResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generate payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	count := req.Count
	if count > s.cfg.MaxBatch {
		count = s.cfg.MaxBatch
	}

	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := s.reserveOne(ctx, req.GroupName, actor.UserID)
		if err != nil {
			if len(codes) == 0 {
				return nil, err
			}
			// Partial batch: report what landed, the caller compares counts.
			s.logger.Warn("code generation stopped early",
				zap.Int("requested", req.Count), zap.Int("generated", len(codes)), zap.Error(err))
			break
		}
		codes = append(codes, code)
	}

	s.invalidateGroupCache(ctx)
	if s.metrics != nil {
		s.metrics.AddCodesGenerated(len(codes))
	}
	return &GenerateCodesResult{Codes: codes, Requested: req.Count, Generated: len(codes)}, nil
}

// reserveOne retries fresh suffixes until a conditional insert wins or
// MaxAttempts is exhausted.
func (s *CodeService) reserveOne(ctx context.Context, groupName, creatorID string) (string, error) {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		suffix, err := randomSuffix(s.cfg.SuffixLength)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code suffix")
		}
		candidate := s.cfg.Prefix + suffix
		record := &models.RegistrationCode{
			Code:      candidate,
			GroupName: groupName,
			CreatedBy: creatorID,
			Status:    models.CodeStatusActive,
		}
		inserted, err := s.repo.InsertIfAbsent(ctx, record)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve code")
		}
		if inserted {
			return candidate, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrCapacityExceeded, "could not find a free code after repeated collisions")
}

// List returns codes visible to the actor with pagination metadata.
// Teacher-role actors are restricted to their own codes.
func (s *CodeService) List(ctx context.Context, filter models.CodeFilter, actor *models.JWTClaims) ([]models.RegistrationCode, *models.Pagination, error) {
	filter = scopeFilter(filter, actor)
	codes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list codes")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return codes, pagination, nil
}

// ListGroups returns the distinct group labels visible to the actor,
// served from cache when warm. The second return reports a cache hit.
func (s *CodeService) ListGroups(ctx context.Context, actor *models.JWTClaims) ([]string, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	key := groupCachePrefix + "all"
	scoped := actor.Role == models.RoleTeacher
	if scoped {
		key = groupCachePrefix + actor.UserID
	}

	if s.cache != nil {
		var cached []string
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, true, nil
		}
	}

	var groups []string
	var err error
	if scoped {
		groups, err = s.repo.ListGroupsFor(ctx, actor.UserID)
	} else {
		groups, err = s.repo.ListGroups(ctx)
	}
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	if groups == nil {
		groups = []string{}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, groups, s.cfg.GroupCacheTTL); err != nil {
			s.logger.Warn("failed to cache group listing", zap.Error(err))
		}
	}
	return groups, false, nil
}

// DeleteGroup removes every code sharing the label and reports the count.
func (s *CodeService) DeleteGroup(ctx context.Context, groupName string) (int, error) {
	if groupName == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "group name is required")
	}
	deleted, err := s.repo.DeleteGroup(ctx, groupName)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete group")
	}
	s.invalidateGroupCache(ctx)
	return deleted, nil
}

func (s *CodeService) invalidateGroupCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, groupCachePrefix+"*"); err != nil {
		s.logger.Warn("failed to invalidate group cache", zap.Error(err))
	}
}

// scopeFilter forces teacher-role actors onto their own records. The
// scope travels inside the filter so repositories never consult ambient
// user state.
func scopeFilter(filter models.CodeFilter, actor *models.JWTClaims) models.CodeFilter {
	if actor != nil && actor.Role == models.RoleTeacher {
		filter.CreatedBy = actor.UserID
	}
	return filter
}

func randomSuffix(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, buffer); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := 0; i < length; i++ {
		buffer[i] = suffixCharset[int(buffer[i])%len(suffixCharset)]
	}
	return string(buffer), nil
}
