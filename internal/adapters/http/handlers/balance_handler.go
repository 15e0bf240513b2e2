package handlers

import (
	"rcn-ledger/internal/adapters/http/middleware"
	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/core/services"
	"rcn-ledger/internal/pkg/pagination"
	"rcn-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceHandler serves balance and history reads
type BalanceHandler struct {
	aggregator *services.BalanceAggregator
	sessions   *services.SessionManager
	ledger     *services.LedgerService
	logger     *zap.Logger
}

// NewBalanceHandler creates a new balance handler
func NewBalanceHandler(
	aggregator *services.BalanceAggregator,
	sessions *services.SessionManager,
	ledger *services.LedgerService,
	logger *zap.Logger,
) *BalanceHandler {
	return &BalanceHandler{
		aggregator: aggregator,
		sessions:   sessions,
		ledger:     ledger,
		logger:     logger,
	}
}

// BalanceResponse is the balance payload, with the redeemable amount at a
// shop when one is requested
type BalanceResponse struct {
	*domain.Balance
	ShopID        string           `json:"shopId,omitempty"`
	MaxRedeemable *decimal.Decimal `json:"maxRedeemable,omitempty"`
}

// canRead reports whether the caller may read the customer's ledger
func canRead(c *fiber.Ctx, address string) bool {
	if middleware.IsPrivileged(c) {
		return true
	}
	return middleware.CallerAddress(c) == domain.NormalizeAddress(address)
}

// GetBalance handles the balance read
// @Summary Get customer balance
// @Description Available balance, lifetime earnings, redeemed, minted, pending hold and tier. Pass shopId to include the redeemable amount at that shop.
// @Tags Balance
// @Produce json
// @Security BearerAuth
// @Param address path string true "Customer wallet address"
// @Param shopId query string false "Shop to compute the redeemable amount for"
// @Success 200 {object} response.Response{data=BalanceResponse}
// @Failure 401 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /balance/{address} [get]
func (h *BalanceHandler) GetBalance(c *fiber.Ctx) error {
	address := c.Params("address")
	if !canRead(c, address) {
		return response.Forbidden(c, "You can only read your own balance")
	}

	balance, err := h.aggregator.Balance(c.UserContext(), address)
	if err != nil {
		return writeError(c, h.logger, err, "Failed to get balance")
	}

	result := BalanceResponse{Balance: balance}
	if shopID := c.Query("shopId"); shopID != "" {
		redeemable, err := h.sessions.MaxRedeemableAt(c.UserContext(), address, shopID)
		if err != nil {
			return writeError(c, h.logger, err, "Failed to get redeemable amount")
		}
		result.ShopID = shopID
		result.MaxRedeemable = &redeemable
	}

	return response.Success(c, "Balance retrieved successfully", result)
}

// GetHistory handles the customer's event listing
// @Summary List ledger events
// @Description Paginated ledger events of a customer, newest first
// @Tags Balance
// @Produce json
// @Security BearerAuth
// @Param address path string true "Customer wallet address"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Success 200 {object} response.Response{data=pagination.Response}
// @Failure 401 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /customers/{address}/events [get]
func (h *BalanceHandler) GetHistory(c *fiber.Ctx) error {
	address := c.Params("address")
	if !canRead(c, address) {
		return response.Forbidden(c, "You can only read your own history")
	}

	page, err := h.ledger.History(c.UserContext(), address, pagination.GetParams(c))
	if err != nil {
		return writeError(c, h.logger, err, "Failed to list events")
	}

	return response.Success(c, "Events retrieved successfully", page)
}
