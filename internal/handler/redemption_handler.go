package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-regcode-api/internal/service"
	appErrors "github.com/noah-isme/sma-regcode-api/pkg/errors"
	"github.com/noah-isme/sma-regcode-api/pkg/response"
)

// RedemptionHandler exposes code validation and redemption endpoints.
type RedemptionHandler struct {
	service *service.RedemptionService
}

// NewRedemptionHandler constructs handler.
func NewRedemptionHandler(svc *service.RedemptionService) *RedemptionHandler {
	return &RedemptionHandler{service: svc}
}

// Validate godoc
// @Summary Validate a registration code
// @Description Check whether a code exists and is still redeemable
// @Tags Redemption
// @Accept json
// @Produce json
// @Param payload body service.ValidateCodeRequest true "Code to validate"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /codes/validate [post]
func (h *RedemptionHandler) Validate(c *gin.Context) {
	var req service.ValidateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid validation payload"))
		return
	}

	result, err := h.service.Validate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// Redeem godoc
// @Summary Redeem a registration code
// @Description Atomically consume a code for the authenticated user
// @Tags Redemption
// @Accept json
// @Produce json
// @Param payload body service.ValidateCodeRequest true "Code to redeem"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /codes/redeem [post]
func (h *RedemptionHandler) Redeem(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ValidateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid redemption payload"))
		return
	}

	code, err := h.service.Redeem(c.Request.Context(), req.Code, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, code, nil)
}
