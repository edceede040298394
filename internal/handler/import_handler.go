package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-regcode-api/internal/service"
	appErrors "github.com/noah-isme/sma-regcode-api/pkg/errors"
	"github.com/noah-isme/sma-regcode-api/pkg/response"
)

// ImportHandler exposes bulk CSV import endpoints.
type ImportHandler struct {
	service *service.ImportService
}

// NewImportHandler constructs handler.
func NewImportHandler(svc *service.ImportService) *ImportHandler {
	return &ImportHandler{service: svc}
}

// Start godoc
// @Summary Start a CSV code import
// @Description Upload a CSV of codes and start a background import
// @Tags Imports
// @Accept multipart/form-data
// @Produce json
// @Param group formData string false "Default group for imported codes"
// @Param file formData file true "CSV file"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /codes/imports [post]
func (h *ImportHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	group := strings.TrimSpace(c.PostForm("group"))

	accepted, err := h.service.StartImport(c.Request.Context(), src, group, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, accepted, nil)
}

// Status godoc
// @Summary Get import status
// @Description Poll the progress of a running or finished import
// @Tags Imports
// @Produce json
// @Param id path string true "Import ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /codes/imports/{id} [get]
func (h *ImportHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	log, err := h.service.GetStatus(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, log, nil)
}

// List godoc
// @Summary List imports
// @Description List recent imports visible to the caller, newest first
// @Tags Imports
// @Produce json
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /codes/imports [get]
func (h *ImportHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	limit := 20
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && v > 0 {
		limit = v
	}

	logs, err := h.service.List(c.Request.Context(), claims, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, logs, nil)
}
