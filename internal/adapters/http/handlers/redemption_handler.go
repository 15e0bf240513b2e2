package handlers

import (
	"strings"
	"time"

	"rcn-ledger/internal/adapters/http/middleware"
	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/core/services"
	"rcn-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RedemptionHandler handles the redemption session lifecycle
type RedemptionHandler struct {
	sessions *services.SessionManager
	logger   *zap.Logger
}

// NewRedemptionHandler creates a new redemption handler
func NewRedemptionHandler(sessions *services.SessionManager, logger *zap.Logger) *RedemptionHandler {
	return &RedemptionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// CreateSessionRequest represents a shop terminal's redemption request
type CreateSessionRequest struct {
	CustomerAddress string          `json:"customerAddress"`
	ShopID          string          `json:"shopId"`
	Amount          decimal.Decimal `json:"amount" swaggertype:"string" example:"15"`
}

// CreateSessionResponse is returned when a session is opened
type CreateSessionResponse struct {
	SessionID       string               `json:"sessionId"`
	Status          domain.SessionStatus `json:"status"`
	ExpiresAt       time.Time            `json:"expiresAt"`
	ApprovalMessage string               `json:"approvalMessage"`
}

// SessionResponse is a session with the message the customer must sign
type SessionResponse struct {
	*domain.RedemptionSession
	ApprovalMessage string `json:"approvalMessage"`
}

// SessionActionRequest identifies the session a customer or shop acts on
type SessionActionRequest struct {
	SessionID string `json:"sessionId"`
	Signature string `json:"signature,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func newSessionResponse(session *domain.RedemptionSession) SessionResponse {
	return SessionResponse{
		RedemptionSession: session,
		ApprovalMessage:   session.ApprovalMessage(),
	}
}

// Create handles opening a redemption session
// @Summary Create redemption session
// @Description Shop terminal opens a PENDING session that holds the amount until the customer approves, rejects, or it expires
// @Tags Redemption
// @Accept json
// @Produce json
// @Param X-Shop-ID header string true "Shop ID"
// @Param X-API-Key header string true "Shop API key"
// @Param body body CreateSessionRequest true "Redemption request"
// @Success 201 {object} response.Response{data=CreateSessionResponse}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /redemption/create [post]
func (h *RedemptionHandler) Create(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	shopID := middleware.CallerShopID(c)
	if req.ShopID != "" && req.ShopID != shopID {
		return response.Forbidden(c, "Shop ID does not match credentials")
	}

	session, err := h.sessions.Create(c.UserContext(), &services.CreateSessionInput{
		CustomerAddress: req.CustomerAddress,
		ShopID:          shopID,
		Amount:          req.Amount,
	})
	if err != nil {
		return writeError(c, h.logger, err, "Failed to create redemption session")
	}

	return response.Created(c, "Redemption session created", CreateSessionResponse{
		SessionID:       session.ID,
		Status:          session.Status,
		ExpiresAt:       session.ExpiresAt,
		ApprovalMessage: session.ApprovalMessage(),
	})
}

// Status handles reading a session
// @Summary Get redemption session
// @Description Current state of a session. Customers see their own sessions, shops see sessions they opened.
// @Tags Redemption
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Response{data=SessionResponse}
// @Failure 401 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /redemption/status/{id} [get]
func (h *RedemptionHandler) Status(c *fiber.Ctx) error {
	session, err := h.sessions.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err, "Failed to get redemption session")
	}
	if !canSeeSession(c, session) {
		return response.NotFound(c, domain.ErrNotFound.Error())
	}

	return response.Success(c, "Redemption session retrieved", newSessionResponse(session))
}

// Approve handles the customer's signed approval
// @Summary Approve redemption session
// @Description Customer approves a PENDING session with a wallet signature over the approval message. Settlement starts in the background.
// @Tags Redemption
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body SessionActionRequest true "Session ID and signature"
// @Success 200 {object} response.Response{data=SessionResponse}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 410 {object} response.Response
// @Router /redemption/approve [post]
func (h *RedemptionHandler) Approve(c *fiber.Ctx) error {
	var req SessionActionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.SessionID == "" || strings.TrimSpace(req.Signature) == "" {
		return response.BadRequest(c, "sessionId and signature are required")
	}
	if ok, err := h.ownSession(c, req.SessionID); !ok {
		return err
	}

	session, err := h.sessions.Approve(c.UserContext(), req.SessionID, req.Signature)
	if err != nil {
		return writeError(c, h.logger, err, "Failed to approve redemption session")
	}

	return response.Success(c, "Redemption session approved", newSessionResponse(session))
}

// Reject handles the customer's refusal
// @Summary Reject redemption session
// @Description Customer rejects a PENDING session and the hold is released
// @Tags Redemption
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body SessionActionRequest true "Session ID and optional reason"
// @Success 200 {object} response.Response{data=SessionResponse}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 410 {object} response.Response
// @Router /redemption/reject [post]
func (h *RedemptionHandler) Reject(c *fiber.Ctx) error {
	var req SessionActionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.SessionID == "" {
		return response.BadRequest(c, "sessionId is required")
	}
	if ok, err := h.ownSession(c, req.SessionID); !ok {
		return err
	}

	session, err := h.sessions.Reject(c.UserContext(), req.SessionID, req.Reason)
	if err != nil {
		return writeError(c, h.logger, err, "Failed to reject redemption session")
	}

	return response.Success(c, "Redemption session rejected", newSessionResponse(session))
}

// Cancel handles the shop withdrawing a session
// @Summary Cancel redemption session
// @Description Shop cancels a PENDING session, or an APPROVED one whose settlement has not started
// @Tags Redemption
// @Accept json
// @Produce json
// @Param X-Shop-ID header string true "Shop ID"
// @Param X-API-Key header string true "Shop API key"
// @Param body body SessionActionRequest true "Session ID"
// @Success 200 {object} response.Response{data=SessionResponse}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /redemption/cancel [post]
func (h *RedemptionHandler) Cancel(c *fiber.Ctx) error {
	var req SessionActionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.SessionID == "" {
		return response.BadRequest(c, "sessionId is required")
	}

	session, err := h.sessions.Cancel(c.UserContext(), req.SessionID, middleware.CallerShopID(c))
	if err != nil {
		return writeError(c, h.logger, err, "Failed to cancel redemption session")
	}

	return response.Success(c, "Redemption session cancelled", newSessionResponse(session))
}

// ownSession reports whether the session belongs to the calling customer.
// When it does not, the error response has already been written.
func (h *RedemptionHandler) ownSession(c *fiber.Ctx, id string) (bool, error) {
	session, err := h.sessions.Get(c.UserContext(), id)
	if err != nil {
		return false, writeError(c, h.logger, err, "Failed to get redemption session")
	}
	if session.CustomerAddress != middleware.CallerAddress(c) {
		return false, response.NotFound(c, domain.ErrNotFound.Error())
	}
	return true, nil
}

func canSeeSession(c *fiber.Ctx, session *domain.RedemptionSession) bool {
	if shopID := middleware.CallerShopID(c); shopID != "" {
		return session.ShopID == shopID
	}
	if middleware.IsPrivileged(c) {
		return true
	}
	return session.CustomerAddress == middleware.CallerAddress(c)
}
