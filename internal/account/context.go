package account

import "github.com/gofiber/fiber/v2"

const localsKey = "auth.account"

// StoreInCtx attaches the authenticated account to the request locals.
func StoreInCtx(c *fiber.Ctx, acct Account) {
	c.Locals(localsKey, acct)
}

// FromCtx returns the authenticated account attached by the auth middleware.
func FromCtx(c *fiber.Ctx) (Account, bool) {
	acct, ok := c.Locals(localsKey).(Account)
	return acct, ok
}
