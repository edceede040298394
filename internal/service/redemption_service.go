package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-regcode-api/internal/models"
	appErrors "github.com/noah-isme/sma-regcode-api/pkg/errors"
)

type redemptionRepository interface {
	FindByCode(ctx context.Context, code string) (*models.RegistrationCode, error)
	Redeem(ctx context.Context, code, redeemerID string, usedAt time.Time) (bool, error)
}

type redemptionMetrics interface {
	IncRedemption(result string)
}

// ValidateCodeRequest carries a candidate code.
type ValidateCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

// ValidateCodeResult reports whether a code can still be redeemed.
type ValidateCodeResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// RedemptionService decides code validity and performs the atomic
// active-to-used transition.
type RedemptionService struct {
	repo      redemptionRepository
	metrics   redemptionMetrics
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRedemptionService constructs RedemptionService.
func NewRedemptionService(repo redemptionRepository, metrics redemptionMetrics, validate *validator.Validate, logger *zap.Logger) *RedemptionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedemptionService{repo: repo, metrics: metrics, validator: validate, logger: logger}
}

// Validate checks a code without consuming it.
func (s *RedemptionService) Validate(ctx context.Context, req ValidateCodeRequest) (*ValidateCodeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validate payload")
	}
	record, err := s.repo.FindByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ValidateCodeResult{Valid: false, Reason: appErrors.ErrNotFound.Code}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load code")
	}
	if record.Status == models.CodeStatusUsed {
		return &ValidateCodeResult{Valid: false, Reason: appErrors.ErrAlreadyUsed.Code}, nil
	}
	return &ValidateCodeResult{Valid: true}, nil
}

// Redeem consumes an active code for the redeemer. The transition is a
// conditional update guarded on status, so two concurrent attempts on
// the same code yield exactly one success; the loser gets ALREADY_USED.
func (s *RedemptionService) Redeem(ctx context.Context, code, redeemerID string) (*models.RegistrationCode, error) {
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "code is required")
	}
	if redeemerID == "" {
		return nil, appErrors.ErrUnauthorized
	}

	redeemed, err := s.repo.Redeem(ctx, code, redeemerID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to redeem code")
	}
	if !redeemed {
		// Zero rows changed: either unknown code or a lost race.
		if _, err := s.repo.FindByCode(ctx, code); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.count("not_found")
				return nil, appErrors.Clone(appErrors.ErrNotFound, "code not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load code")
		}
		s.count("already_used")
		return nil, appErrors.ErrAlreadyUsed
	}

	record, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load redeemed code")
	}
	s.count("success")
	s.logger.Info("code redeemed", zap.String("code", code), zap.String("redeemer", redeemerID))
	return record, nil
}

func (s *RedemptionService) count(result string) {
	if s.metrics != nil {
		s.metrics.IncRedemption(result)
	}
}
