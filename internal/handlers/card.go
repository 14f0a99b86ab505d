package handlers

import (
	"errors"

	"sika/internal/middleware"
	"sika/internal/models"
	"sika/internal/services/cardgen"
	"sika/internal/services/cards"
	"sika/internal/services/fees"
	"sika/internal/services/issuance"
	"sika/internal/services/keyderive"
	"sika/internal/services/ledger"
	"sika/internal/services/rail"
	"sika/internal/services/vault"
	"sika/internal/services/verifier"
	"sika/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type CardHandler struct {
	issuanceService *issuance.Service
	cardService     *cards.Service
	keyService      *keyderive.Service
}

func NewCardHandler(issuanceService *issuance.Service, cardService *cards.Service, keyService *keyderive.Service) *CardHandler {
	return &CardHandler{
		issuanceService: issuanceService,
		cardService:     cardService,
		keyService:      keyService,
	}
}

type issueCardRequest struct {
	Amount        int64  `json:"amount"` // minor units
	Currency      string `json:"currency"`
	Rail          string `json:"rail"`
	Reference     string `json:"reference"`
	Payer         string `json:"payer"`
	Brand         string `json:"brand"`
	SpendingLimit int64  `json:"spending_limit"`
}

// IssueCard requests issuance of a new card off a funding payment.
func (h *CardHandler) IssueCard(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)
	challenge := c.Locals(middleware.ChallengeLocal).(string)

	var req issueCardRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	key, err := h.keyService.SessionOrDerive(claims.UserID, claims.SessionID, challenge)
	if err != nil {
		return response.Unauthorized(c)
	}

	result, err := h.issuanceService.IssueCard(c.Context(), issuance.IssueCardInput{
		OwnerID:       claims.UserID,
		Amount:        req.Amount,
		Currency:      currencyOrDefault(req.Currency),
		Rail:          req.Rail,
		Reference:     req.Reference,
		Payer:         req.Payer,
		BrandHint:     cardgen.BrandHint(req.Brand),
		SpendingLimit: req.SpendingLimit,
		VaultKey:      key,
	})
	if err != nil {
		if errors.Is(err, issuance.ErrMirrorFailed) {
			return response.DegradedSuccess(c, "Card issued but external mirror failed; card deactivated pending reconciliation", result)
		}
		return h.issuanceError(c, err)
	}

	if result.Existing {
		return response.Success(c, "Card already issued for this funding reference", result)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Card issued",
		"data":    result,
	})
}

// GetCards lists the caller's cards as safe views.
func (h *CardHandler) GetCards(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)

	views, err := h.cardService.ListCards(c.Context(), claims.UserID)
	if err != nil {
		return response.ServerError(c, "Failed to fetch cards")
	}
	return response.Success(c, "Cards retrieved", views)
}

// GetCard returns the safe view of one card.
func (h *CardHandler) GetCard(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)
	cardID, err := c.ParamsInt("id")
	if err != nil {
		return response.BadRequest(c, "Invalid card ID")
	}

	view, err := h.cardService.GetCard(c.Context(), uint(cardID), claims.UserID)
	if err != nil {
		if errors.Is(err, cards.ErrCardNotFound) {
			return response.NotFound(c, "Card not found")
		}
		return response.ServerError(c, "Failed to fetch card")
	}
	return response.Success(c, "Card retrieved", view)
}

// RevealCard returns the decrypted number and CVC to the owning identity.
func (h *CardHandler) RevealCard(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)
	challenge := c.Locals(middleware.ChallengeLocal).(string)
	cardID, err := c.ParamsInt("id")
	if err != nil {
		return response.BadRequest(c, "Invalid card ID")
	}

	key, err := h.keyService.SessionOrDerive(claims.UserID, claims.SessionID, challenge)
	if err != nil {
		return response.Unauthorized(c)
	}

	revealed, err := h.cardService.Reveal(c.Context(), uint(cardID), claims.UserID, key)
	if err != nil {
		switch {
		case errors.Is(err, cards.ErrCardNotFound):
			return response.NotFound(c, "Card not found")
		case errors.Is(err, vault.ErrDecryptionFailed):
			return response.Unauthorized(c)
		default:
			return response.ServerError(c, "Failed to reveal card")
		}
	}
	return response.Success(c, "Card revealed", revealed)
}

type fundCardRequest struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Rail      string `json:"rail"`
	Reference string `json:"reference"`
	Payer     string `json:"payer"`
}

// FundCard tops up an existing card from a verified funding payment.
func (h *CardHandler) FundCard(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)
	cardID, err := c.ParamsInt("id")
	if err != nil {
		return response.BadRequest(c, "Invalid card ID")
	}

	var req fundCardRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	view, err := h.issuanceService.FundCard(c.Context(), issuance.FundCardInput{
		CardID:    uint(cardID),
		OwnerID:   claims.UserID,
		Amount:    req.Amount,
		Currency:  currencyOrDefault(req.Currency),
		Rail:      req.Rail,
		Reference: req.Reference,
		Payer:     req.Payer,
	})
	if err != nil {
		return h.issuanceError(c, err)
	}
	return response.Success(c, "Card funded", view)
}

type spendRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// SpendCard debits the card balance.
func (h *CardHandler) SpendCard(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)
	cardID, err := c.ParamsInt("id")
	if err != nil {
		return response.BadRequest(c, "Invalid card ID")
	}

	var req spendRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	view, err := h.cardService.Spend(c.Context(), uint(cardID), claims.UserID, req.Amount, req.Reference)
	if err != nil {
		switch {
		case errors.Is(err, cards.ErrCardNotFound):
			return response.NotFound(c, "Card not found")
		case errors.Is(err, ledger.ErrInsufficientBalance):
			return response.UnprocessableEntity(c, "Insufficient balance")
		case errors.Is(err, ledger.ErrSpendingLimitExceeded):
			return response.UnprocessableEntity(c, "Spending limit exceeded")
		case errors.Is(err, ledger.ErrCardInactive):
			return response.UnprocessableEntity(c, "Card is not active")
		case errors.Is(err, ledger.ErrInvalidAmount):
			return response.BadRequest(c, "Amount must be positive")
		default:
			return response.ServerError(c, "Failed to process spend")
		}
	}
	return response.Success(c, "Spend recorded", view)
}

// RefundCard credits a spent amount back to the card.
func (h *CardHandler) RefundCard(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)
	cardID, err := c.ParamsInt("id")
	if err != nil {
		return response.BadRequest(c, "Invalid card ID")
	}

	var req spendRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	view, err := h.cardService.Refund(c.Context(), uint(cardID), claims.UserID, req.Amount, req.Reference)
	if err != nil {
		if errors.Is(err, cards.ErrCardNotFound) {
			return response.NotFound(c, "Card not found")
		}
		return response.ServerError(c, "Failed to process refund")
	}
	return response.Success(c, "Refund recorded", view)
}

// DeactivateCard soft-deletes a card.
func (h *CardHandler) DeactivateCard(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)
	cardID, err := c.ParamsInt("id")
	if err != nil {
		return response.BadRequest(c, "Invalid card ID")
	}

	if err := h.cardService.Deactivate(c.Context(), uint(cardID), claims.UserID); err != nil {
		if errors.Is(err, cards.ErrCardNotFound) {
			return response.NotFound(c, "Card not found")
		}
		return response.ServerError(c, "Failed to deactivate card")
	}
	return response.Success(c, "Card deactivated", nil)
}

// GetCardTransactions lists a card's transaction history.
func (h *CardHandler) GetCardTransactions(c *fiber.Ctx) error {
	claims := c.Locals(middleware.ClaimsLocal).(*models.UserClaims)
	cardID, err := c.ParamsInt("id")
	if err != nil {
		return response.BadRequest(c, "Invalid card ID")
	}

	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	txs, err := h.cardService.Transactions(c.Context(), uint(cardID), claims.UserID, limit, offset)
	if err != nil {
		if errors.Is(err, cards.ErrCardNotFound) {
			return response.NotFound(c, "Card not found")
		}
		return response.ServerError(c, "Failed to fetch transactions")
	}
	return response.Success(c, "Transactions retrieved", txs)
}

func (h *CardHandler) issuanceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, fees.ErrInvalidAmount),
		errors.Is(err, fees.ErrAmountBelowMinimum),
		errors.Is(err, fees.ErrAmountAboveMaximum):
		return response.BadRequest(c, err.Error())
	case errors.Is(err, rail.ErrUnsupportedRail):
		return response.BadRequest(c, "Unsupported funding rail")
	case errors.Is(err, issuance.ErrPaymentNotConfirmed):
		return response.PaymentRequired(c, "Payment not confirmed")
	case errors.Is(err, issuance.ErrCardNotFound):
		return response.NotFound(c, "Card not found")
	case errors.Is(err, verifier.ErrVerificationCancelled):
		return response.Error(c, fiber.StatusRequestTimeout, "Verification cancelled; retry by reference")
	default:
		return response.ServerError(c, "Issuance failed")
	}
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return "GHS"
	}
	return currency
}
