package handlers

import (
	"rcn-ledger/internal/adapters/http/middleware"
	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/core/services"
	"rcn-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerHandler handles writes to the event log
type LedgerHandler struct {
	ledger *services.LedgerService
	logger *zap.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledger *services.LedgerService, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logger,
	}
}

// EarnRequest represents an earn request from a shop terminal
type EarnRequest struct {
	CustomerAddress string           `json:"customerAddress"`
	ShopID          string           `json:"shopId"`
	Amount          decimal.Decimal  `json:"amount" swaggertype:"string" example:"60"`
	Kind            domain.EventKind `json:"kind" example:"EARN"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

// MintRequest represents a mint-to-wallet request
type MintRequest struct {
	CustomerAddress string          `json:"customerAddress"`
	Amount          decimal.Decimal `json:"amount" swaggertype:"string" example:"25"`
	TxReference     string          `json:"txReference"`
}

// Earn handles crediting a customer
// @Summary Record earning
// @Description Appends an EARN, REFERRAL or BONUS event. A qualifying EARN also issues the tier bonus from the shop pool when it can cover it. Send Idempotency-Key to make retries safe.
// @Tags Ledger
// @Accept json
// @Produce json
// @Param X-Shop-ID header string true "Shop ID"
// @Param X-API-Key header string true "Shop API key"
// @Param Idempotency-Key header string false "Client idempotency key"
// @Param body body EarnRequest true "Earn request"
// @Success 201 {object} response.Response{data=services.EarnResult}
// @Success 200 {object} response.Response{data=services.EarnResult}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /earn [post]
func (h *LedgerHandler) Earn(c *fiber.Ctx) error {
	var req EarnRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	shopID := middleware.CallerShopID(c)
	if req.ShopID != "" && req.ShopID != shopID {
		return response.Forbidden(c, "Shop ID does not match credentials")
	}
	if req.Kind == "" {
		req.Kind = domain.EventEarn
	}

	result, err := h.ledger.Earn(c.UserContext(), &services.EarnInput{
		CustomerAddress: req.CustomerAddress,
		ShopID:          shopID,
		Amount:          req.Amount,
		Kind:            req.Kind,
		Metadata:        req.Metadata,
		IdempotencyKey:  c.Get("Idempotency-Key"),
	})
	if err != nil {
		return writeError(c, h.logger, err, "Failed to record earning")
	}

	if result.Replayed {
		return response.Success(c, "Earning already recorded", result)
	}
	return response.Created(c, "Earning recorded", result)
}

// Mint handles moving balance to the customer's wallet
// @Summary Mint to wallet
// @Description Records that part of the customer's balance was minted on-chain. Repeating a txReference is a no-op.
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body MintRequest true "Mint request"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /wallet/mint [post]
func (h *LedgerHandler) Mint(c *fiber.Ctx) error {
	var req MintRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	event, balance, err := h.ledger.MintToWallet(c.UserContext(), &services.MintInput{
		CustomerAddress: req.CustomerAddress,
		Amount:          req.Amount,
		TxReference:     req.TxReference,
	})
	if err != nil {
		return writeError(c, h.logger, err, "Failed to mint to wallet")
	}

	return response.Created(c, "Minted to wallet", fiber.Map{
		"event":   event,
		"balance": balance,
	})
}
