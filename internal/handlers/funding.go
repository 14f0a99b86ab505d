package handlers

import (
	"errors"

	"sika/internal/middleware"
	"sika/internal/models"
	"sika/internal/repositories"
	"sika/internal/services/verifier"
	"sika/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type FundingHandler struct {
	verifierService *verifier.Service
}

func NewFundingHandler(verifierService *verifier.Service) *FundingHandler {
	return &FundingHandler{verifierService: verifierService}
}

// GetFundingStatus reports the current state of a funding intent. Terminal
// states are final; a pending intent may still settle.
func (h *FundingHandler) GetFundingStatus(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)
	reference := c.Params("reference")
	if reference == "" {
		return response.BadRequest(c, "Funding reference is required")
	}

	intent, err := h.verifierService.Status(reference)
	if err != nil {
		if errors.Is(err, repositories.ErrIntentNotFound) {
			return response.NotFound(c, "Funding intent not found")
		}
		return response.ServerError(c, "Failed to fetch funding intent")
	}
	if intent.OwnerID != claims.UserID {
		return response.NotFound(c, "Funding intent not found")
	}

	return response.Success(c, "Funding intent retrieved", fiber.Map{
		"reference":      intent.Reference,
		"rail":           intent.Rail,
		"amount":         intent.Amount,
		"fee":            intent.Fee,
		"currency":       intent.Currency,
		"status":         intent.Status,
		"external_tx_id": intent.ExternalTxID,
		"failure_reason": intent.FailureReason,
		"created_at":     intent.CreatedAt,
	})
}
