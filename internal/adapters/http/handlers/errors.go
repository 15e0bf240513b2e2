package handlers

import (
	"errors"

	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Stable error codes returned in the response envelope
const (
	CodeInsufficientBalance     = "INSUFFICIENT_BALANCE"
	CodeInsufficientShopBalance = "INSUFFICIENT_SHOP_BALANCE"
	CodeCrossShopCapExceeded    = "CROSS_SHOP_CAP_EXCEEDED"
	CodeSessionAlreadyActive    = "SESSION_ALREADY_ACTIVE"
	CodeNotPending              = "NOT_PENDING"
	CodeExpired                 = "EXPIRED"
	CodeBadSignature            = "BAD_SIGNATURE"
	CodeSettlementFailed        = "SETTLEMENT_FAILED"
	CodeNotQualifying           = "NOT_QUALIFYING"
	CodeDuplicate               = "DUPLICATE"
)

// writeError maps a service error to its HTTP status and code. Unknown errors
// are logged and reported as 500 with the fallback message.
func writeError(c *fiber.Ctx, logger *zap.Logger, err error, fallback string) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		return response.UnprocessableEntity(c, CodeInsufficientBalance, err.Error())
	case errors.Is(err, domain.ErrInsufficientShopBalance):
		return response.UnprocessableEntity(c, CodeInsufficientShopBalance, err.Error())
	case errors.Is(err, domain.ErrCrossShopCapExceeded):
		return response.UnprocessableEntity(c, CodeCrossShopCapExceeded, err.Error())
	case errors.Is(err, domain.ErrNotQualifying):
		return response.UnprocessableEntity(c, CodeNotQualifying, err.Error())
	case errors.Is(err, domain.ErrSessionAlreadyActive):
		return response.Conflict(c, CodeSessionAlreadyActive, err.Error())
	case errors.Is(err, domain.ErrNotPending):
		return response.Conflict(c, CodeNotPending, err.Error())
	case errors.Is(err, domain.ErrDuplicateEntry):
		return response.Conflict(c, CodeDuplicate, err.Error())
	case errors.Is(err, domain.ErrExpired):
		return response.Gone(c, CodeExpired, err.Error())
	case errors.Is(err, domain.ErrBadSignature):
		return response.Fail(c, fiber.StatusUnauthorized, CodeBadSignature, err.Error())
	case errors.Is(err, domain.ErrSettlementFailed):
		return response.Fail(c, fiber.StatusBadGateway, CodeSettlementFailed, err.Error())
	}

	logger.Error(fallback,
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return response.InternalServerError(c, fallback)
}
