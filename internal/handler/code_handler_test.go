package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-regcode-api/internal/middleware"
	"github.com/noah-isme/sma-regcode-api/internal/models"
)

func TestCodeHandlerGenerateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCodeHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/codes/generate", bytes.NewReader([]byte(`invalid`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.Generate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCodeHandlerGenerateUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCodeHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/codes/generate", bytes.NewReader([]byte(`{"count":5}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Generate(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCodeHandlerListRejectsBadStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCodeHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/codes?status=EXPIRED", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCodeHandlerDeleteGroupRequiresName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCodeHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodDelete, "/codes/groups/", nil)
	c.Request = req

	handler.DeleteGroup(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCodeHandlerExportRejectsUnknownFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCodeHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/codes/export?format=xlsx", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.Export(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCodeFilterFromQueryDefaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/codes?group=kelas-10a&status=active&page=3&limit=50", nil)
	c.Request = req

	filter, err := codeFilterFromQuery(c)
	require.NoError(t, err)
	assert.Equal(t, "kelas-10a", filter.GroupName)
	assert.Equal(t, models.CodeStatusActive, filter.Status)
	assert.Equal(t, 3, filter.Page)
	assert.Equal(t, 50, filter.PageSize)
}
