package middleware

import (
	"context"
	"errors"
	"strings"

	"rcn-ledger/internal/config"
	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/pkg/jwt"
	"rcn-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Request headers used by shop terminals
const (
	HeaderShopID = "X-Shop-ID"
	HeaderAPIKey = "X-API-Key"
)

// Locals keys
const (
	LocalRole    = "role"
	LocalAddress = "address"
	LocalSubject = "subject"
	LocalShopID  = "shopID"
)

// ShopAuthenticator resolves a shop terminal's credentials
type ShopAuthenticator interface {
	AuthenticateShop(ctx context.Context, shopID, key string) (*domain.ShopLedger, error)
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func setClaims(c *fiber.Ctx, claims *jwt.Claims) {
	c.Locals(LocalRole, claims.Role)
	c.Locals(LocalAddress, domain.NormalizeAddress(claims.Address))
	c.Locals(LocalSubject, claims.Subject)
}

// AuthMiddleware requires a valid bearer access token
func AuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := bearerToken(c)
		if accessToken == "" {
			return response.Unauthorized(c, "Access token required")
		}

		claims, err := jwt.ValidateAccessToken(accessToken, cfg.JWT.Secret)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return response.Unauthorized(c, "Access token expired")
			}
			return response.Unauthorized(c, "Invalid access token")
		}

		setClaims(c, claims)
		return c.Next()
	}
}

// RoleMiddleware creates role-based authorization middleware
func RoleMiddleware(allowedRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals(LocalRole).(string)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}

		for _, allowedRole := range allowedRoles {
			if role == allowedRole {
				return c.Next()
			}
		}

		return response.Forbidden(c, "You don't have permission to access this resource")
	}
}

// AdminOnly middleware allows only ADMIN role
func AdminOnly() fiber.Handler {
	return RoleMiddleware(jwt.RoleAdmin)
}

// ServiceOrAdmin middleware allows SERVICE or ADMIN roles
func ServiceOrAdmin() fiber.Handler {
	return RoleMiddleware(jwt.RoleService, jwt.RoleAdmin)
}

// CustomerOnly middleware allows only CUSTOMER tokens that carry an address
func CustomerOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(LocalRole).(string)
		address, _ := c.Locals(LocalAddress).(string)
		if role != jwt.RoleCustomer || address == "" {
			return response.Forbidden(c, "Customer token required")
		}
		return c.Next()
	}
}

// ShopAuth authenticates a shop terminal by X-Shop-ID and X-API-Key
func ShopAuth(shops ShopAuthenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		shopID := c.Get(HeaderShopID)
		key := c.Get(HeaderAPIKey)
		if shopID == "" || key == "" {
			return response.Unauthorized(c, "Shop credentials required")
		}

		shop, err := shops.AuthenticateShop(c.UserContext(), shopID, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return response.Unauthorized(c, "Invalid shop credentials")
			}
			return response.InternalServerError(c, "Failed to authenticate shop")
		}

		c.Locals(LocalShopID, shop.ShopID)
		return c.Next()
	}
}

// TokenOrShop accepts either a bearer token or shop credentials. Used for
// read endpoints that both customers and terminals poll.
func TokenOrShop(cfg *config.Config, shops ShopAuthenticator) fiber.Handler {
	tokenAuth := AuthMiddleware(cfg)
	shopAuth := ShopAuth(shops)
	return func(c *fiber.Ctx) error {
		if bearerToken(c) != "" {
			return tokenAuth(c)
		}
		return shopAuth(c)
	}
}

// CallerShopID returns the authenticated shop id, empty for token callers
func CallerShopID(c *fiber.Ctx) string {
	shopID, _ := c.Locals(LocalShopID).(string)
	return shopID
}

// CallerAddress returns the customer address carried by the token
func CallerAddress(c *fiber.Ctx) string {
	address, _ := c.Locals(LocalAddress).(string)
	return address
}

// CallerRole returns the token role, empty for shop callers
func CallerRole(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalRole).(string)
	return role
}

// IsPrivileged reports whether the caller holds an ADMIN or SERVICE token
func IsPrivileged(c *fiber.Ctx) bool {
	role := CallerRole(c)
	return role == jwt.RoleAdmin || role == jwt.RoleService
}
