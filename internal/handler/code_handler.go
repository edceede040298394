package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-regcode-api/internal/middleware"
	"github.com/noah-isme/sma-regcode-api/internal/models"
	"github.com/noah-isme/sma-regcode-api/internal/service"
	appErrors "github.com/noah-isme/sma-regcode-api/pkg/errors"
	"github.com/noah-isme/sma-regcode-api/pkg/response"
)

// CodeHandler exposes registration code endpoints.
type CodeHandler struct {
	codes  *service.CodeService
	export *service.ExportService
}

// NewCodeHandler constructs handler.
func NewCodeHandler(codes *service.CodeService, export *service.ExportService) *CodeHandler {
	return &CodeHandler{codes: codes, export: export}
}

// Generate godoc
// @Summary Generate registration codes
// @Description Generate a batch of unique registration codes
// @Tags Codes
// @Accept json
// @Produce json
// @Param payload body service.GenerateCodesRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /codes/generate [post]
func (h *CodeHandler) Generate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.GenerateCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generation payload"))
		return
	}

	result, err := h.codes.Generate(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusCreated, result, nil)
}

// List godoc
// @Summary List registration codes
// @Description List codes with filtering and pagination
// @Tags Codes
// @Produce json
// @Param group query string false "Group name filter"
// @Param status query string false "Status filter (ACTIVE or USED)"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /codes [get]
func (h *CodeHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter, err := codeFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	items, pagination, err := h.codes.List(c.Request.Context(), filter, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, pagination)
}

// ListGroups godoc
// @Summary List code groups
// @Description List distinct group names visible to the caller
// @Tags Codes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /codes/groups [get]
func (h *CodeHandler) ListGroups(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	groups, cacheHit, err := h.codes.ListGroups(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, groups, nil, middleware.ExtractMeta(c))
}

// DeleteGroup godoc
// @Summary Delete a code group
// @Description Delete every code belonging to the named group
// @Tags Codes
// @Produce json
// @Param name path string true "Group name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /codes/groups/{name} [delete]
func (h *CodeHandler) DeleteGroup(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "group name is required"))
		return
	}

	deleted, err := h.codes.DeleteGroup(c.Request.Context(), name)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"deleted": deleted}, nil)
}

// Export godoc
// @Summary Export registration codes
// @Description Export codes matching the filter as CSV or PDF
// @Tags Codes
// @Produce octet-stream
// @Param format query string false "Export format (csv or pdf)"
// @Param group query string false "Group name filter"
// @Param status query string false "Status filter"
// @Success 200 {file} binary
// @Router /codes/export [get]
func (h *CodeHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	if format != service.ExportFormatCSV && format != service.ExportFormatPDF {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
		return
	}

	filter, err := codeFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.export.Export(c.Request.Context(), filter, claims, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("registration-codes-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func codeFilterFromQuery(c *gin.Context) (models.CodeFilter, error) {
	filter := models.CodeFilter{
		GroupName: strings.TrimSpace(c.Query("group")),
		Page:      1,
		PageSize:  20,
	}

	if status := strings.ToUpper(strings.TrimSpace(c.Query("status"))); status != "" {
		if status != string(models.CodeStatusActive) && status != string(models.CodeStatusUsed) {
			return filter, appErrors.Clone(appErrors.ErrValidation, "status must be ACTIVE or USED")
		}
		filter.Status = models.CodeStatus(status)
	}

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && page > 0 {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && size > 0 {
		filter.PageSize = size
	}

	return filter, nil
}
