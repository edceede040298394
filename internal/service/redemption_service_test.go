package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-regcode-api/internal/models"
	appErrors "github.com/noah-isme/sma-regcode-api/pkg/errors"
)

type redemptionRepoStub struct {
	records map[string]*models.RegistrationCode
}

func newRedemptionRepoStub() *redemptionRepoStub {
	return &redemptionRepoStub{records: map[string]*models.RegistrationCode{}}
}

func (s *redemptionRepoStub) FindByCode(ctx context.Context, code string) (*models.RegistrationCode, error) {
	record, ok := s.records[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *record
	return &copy, nil
}

func (s *redemptionRepoStub) Redeem(ctx context.Context, code, redeemerID string, usedAt time.Time) (bool, error) {
	record, ok := s.records[code]
	if !ok || record.Status != models.CodeStatusActive {
		return false, nil
	}
	record.Status = models.CodeStatusUsed
	record.UsedBy = &redeemerID
	record.UsedAt = &usedAt
	return true, nil
}

type redemptionMetricsStub struct {
	results map[string]int
}

func (s *redemptionMetricsStub) IncRedemption(result string) {
	if s.results == nil {
		s.results = map[string]int{}
	}
	s.results[result]++
}

func TestValidateActiveCode(t *testing.T) {
	repo := newRedemptionRepoStub()
	repo.records["SMA-AAAA2222"] = &models.RegistrationCode{Code: "SMA-AAAA2222", Status: models.CodeStatusActive}
	svc := NewRedemptionService(repo, nil, nil, nil)

	result, err := svc.Validate(context.Background(), ValidateCodeRequest{Code: "SMA-AAAA2222"})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Reason)
}

func TestValidateUnknownCode(t *testing.T) {
	svc := NewRedemptionService(newRedemptionRepoStub(), nil, nil, nil)

	result, err := svc.Validate(context.Background(), ValidateCodeRequest{Code: "SMA-MISSING1"})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, appErrors.ErrNotFound.Code, result.Reason)
}

func TestValidateUsedCode(t *testing.T) {
	repo := newRedemptionRepoStub()
	repo.records["SMA-AAAA2222"] = &models.RegistrationCode{Code: "SMA-AAAA2222", Status: models.CodeStatusUsed}
	svc := NewRedemptionService(repo, nil, nil, nil)

	result, err := svc.Validate(context.Background(), ValidateCodeRequest{Code: "SMA-AAAA2222"})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, appErrors.ErrAlreadyUsed.Code, result.Reason)
}

func TestValidateEmptyPayload(t *testing.T) {
	svc := NewRedemptionService(newRedemptionRepoStub(), nil, nil, nil)

	_, err := svc.Validate(context.Background(), ValidateCodeRequest{})
	require.Error(t, err)
}

func TestRedeemActiveCode(t *testing.T) {
	repo := newRedemptionRepoStub()
	repo.records["SMA-AAAA2222"] = &models.RegistrationCode{Code: "SMA-AAAA2222", Status: models.CodeStatusActive}
	metrics := &redemptionMetricsStub{}
	svc := NewRedemptionService(repo, metrics, nil, nil)

	record, err := svc.Redeem(context.Background(), "SMA-AAAA2222", "student-1")
	require.NoError(t, err)
	assert.Equal(t, models.CodeStatusUsed, record.Status)
	require.NotNil(t, record.UsedBy)
	assert.Equal(t, "student-1", *record.UsedBy)
	assert.NotNil(t, record.UsedAt)
	assert.Equal(t, 1, metrics.results["success"])
}

func TestRedeemExactlyOnce(t *testing.T) {
	repo := newRedemptionRepoStub()
	repo.records["SMA-AAAA2222"] = &models.RegistrationCode{Code: "SMA-AAAA2222", Status: models.CodeStatusActive}
	metrics := &redemptionMetricsStub{}
	svc := NewRedemptionService(repo, metrics, nil, nil)

	_, err := svc.Redeem(context.Background(), "SMA-AAAA2222", "student-1")
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), "SMA-AAAA2222", "student-2")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrAlreadyUsed.Code, appErr.Code)

	// The first redeemer keeps the code.
	record := repo.records["SMA-AAAA2222"]
	assert.Equal(t, "student-1", *record.UsedBy)
	assert.Equal(t, 1, metrics.results["success"])
	assert.Equal(t, 1, metrics.results["already_used"])
}

func TestRedeemUnknownCode(t *testing.T) {
	metrics := &redemptionMetricsStub{}
	svc := NewRedemptionService(newRedemptionRepoStub(), metrics, nil, nil)

	_, err := svc.Redeem(context.Background(), "SMA-MISSING1", "student-1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Equal(t, 1, metrics.results["not_found"])
}

func TestRedeemRequiresRedeemer(t *testing.T) {
	svc := NewRedemptionService(newRedemptionRepoStub(), nil, nil, nil)

	_, err := svc.Redeem(context.Background(), "SMA-AAAA2222", "")
	require.Error(t, err)
}
