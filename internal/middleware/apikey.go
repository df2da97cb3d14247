package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/chatbill/chatbill/internal/account"
)

const apiKeyHeader = "X-API-Key"

// APIKeyAuth authenticates requests via the X-API-Key header (or a Bearer
// token carrying the same credential) and stores the resolved account in the
// request locals.
func APIKeyAuth(accounts *account.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(apiKeyHeader)
		if key == "" {
			if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing api key")
		}

		acct, err := accounts.Authenticate(c.UserContext(), key)
		if err != nil {
			if errors.Is(err, account.ErrInvalidAPIKey) {
				return fiber.NewError(fiber.StatusUnauthorized, "invalid api key")
			}
			return err
		}

		account.StoreInCtx(c, acct)
		return c.Next()
	}
}

// AdminOnly rejects requests whose authenticated account is not an operator.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		acct, ok := account.FromCtx(c)
		if !ok || !acct.IsAdmin {
			return fiber.NewError(fiber.StatusForbidden, "admin access required")
		}
		return c.Next()
	}
}
