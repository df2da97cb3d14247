package pricing

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// SetPriceRequest overrides the unit price for a category.
type SetPriceRequest struct {
	AmountPaise int64 `json:"amount_paise"`
}

// Handler exposes pricing reads and the admin override endpoint.
type Handler struct {
	resolver *Resolver
}

// NewHandler constructs a pricing handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// Current reports the effective price per category.
func (h *Handler) Current(c *fiber.Ctx) error {
	prices, err := h.resolver.Current(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(prices)
}

// Set stores an admin pricing override. Admin only.
func (h *Handler) Set(c *fiber.Ctx) error {
	var req SetPriceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	category := c.Params("category")
	if err := h.resolver.Set(c.UserContext(), category, req.AmountPaise); err != nil {
		if errors.Is(err, ErrUnknownCategory) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	price, err := h.resolver.Resolve(c.UserContext(), category)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"category": category, "amount_paise": price})
}
