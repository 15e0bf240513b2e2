package handlers

import (
	"rcn-ledger/internal/core/services"
	"rcn-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AdminHandler handles customer and shop administration (Admin only)
type AdminHandler struct {
	ledger *services.LedgerService
	logger *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(ledger *services.LedgerService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		ledger: ledger,
		logger: logger,
	}
}

// RegisterCustomerRequest represents customer registration request body
type RegisterCustomerRequest struct {
	Address    string `json:"address" example:"0x5aeda56215b167893e80b4fe645ba6d5bab767de"`
	HomeShopID string `json:"homeShopId" example:"shop-1"`
}

// RegisterShopRequest represents shop registration request body
type RegisterShopRequest struct {
	ShopID      string          `json:"shopId" example:"shop-1"`
	Name        string          `json:"name"`
	InitialPool decimal.Decimal `json:"initialPool" swaggertype:"string" example:"1000"`
}

// PurchaseRequest represents a pool top-up
type PurchaseRequest struct {
	Amount decimal.Decimal `json:"amount" swaggertype:"string" example:"500"`
}

// RegisterCustomer handles customer registration
// @Summary Register customer
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body RegisterCustomerRequest true "Customer"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /admin/customers [post]
func (h *AdminHandler) RegisterCustomer(c *fiber.Ctx) error {
	var req RegisterCustomerRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	customer, err := h.ledger.RegisterCustomer(c.UserContext(), &services.RegisterCustomerInput{
		Address:    req.Address,
		HomeShopID: req.HomeShopID,
	})
	if err != nil {
		return writeError(c, h.logger, err, "Failed to register customer")
	}

	return response.Created(c, "Customer registered", customer)
}

// GetCustomer handles reading a customer
// @Summary Get customer
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param address path string true "Customer wallet address"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /admin/customers/{address} [get]
func (h *AdminHandler) GetCustomer(c *fiber.Ctx) error {
	customer, err := h.ledger.GetCustomer(c.UserContext(), c.Params("address"))
	if err != nil {
		return writeError(c, h.logger, err, "Failed to get customer")
	}
	return response.Success(c, "Customer retrieved successfully", customer)
}

// RegisterShop handles shop registration. The API key is only returned here.
// @Summary Register shop
// @Description Creates the shop ledger and returns its terminal API key once
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body RegisterShopRequest true "Shop"
// @Success 201 {object} response.Response{data=services.RegisteredShop}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /admin/shops [post]
func (h *AdminHandler) RegisterShop(c *fiber.Ctx) error {
	var req RegisterShopRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	registered, err := h.ledger.RegisterShop(c.UserContext(), &services.RegisterShopInput{
		ShopID:      req.ShopID,
		Name:        req.Name,
		InitialPool: req.InitialPool,
	})
	if err != nil {
		return writeError(c, h.logger, err, "Failed to register shop")
	}

	return response.Created(c, "Shop registered", registered)
}

// GetShop handles reading a shop ledger
// @Summary Get shop
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Shop ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /admin/shops/{id} [get]
func (h *AdminHandler) GetShop(c *fiber.Ctx) error {
	shop, err := h.ledger.GetShop(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err, "Failed to get shop")
	}
	return response.Success(c, "Shop retrieved successfully", shop)
}

// PurchaseRCN handles a shop topping up its RCN pool
// @Summary Purchase RCN
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Shop ID"
// @Param body body PurchaseRequest true "Amount"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /admin/shops/{id}/purchases [post]
func (h *AdminHandler) PurchaseRCN(c *fiber.Ctx) error {
	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	shop, err := h.ledger.PurchaseRCN(c.UserContext(), c.Params("id"), req.Amount)
	if err != nil {
		return writeError(c, h.logger, err, "Failed to purchase RCN")
	}
	return response.Success(c, "RCN purchased", shop)
}
