package messaging

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/chatbill/chatbill/internal/account"
	"github.com/chatbill/chatbill/internal/pricing"
)

// Handler exposes HTTP endpoints for message dispatch and billing.
type Handler struct {
	service *Service
}

// NewHandler constructs a messaging handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Send dispatches one message for the authenticated account.
func (h *Handler) Send(c *fiber.Ctx) error {
	acct, ok := account.FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	msg, err := h.service.Send(c.UserContext(), acct, SendInput{
		Recipient: req.Recipient,
		Category:  req.Category,
		Body:      req.Body,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			return fiber.NewError(http.StatusPaymentRequired, err.Error())
		case errors.Is(err, pricing.ErrUnknownCategory):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrProviderFailed):
			return fiber.NewError(http.StatusBadGateway, err.Error())
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	return c.Status(http.StatusCreated).JSON(toResponse(msg))
}

// Import books a batch of externally dispatched messages.
func (h *Handler) Import(c *fiber.Ctx) error {
	acct, ok := account.FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	var req ImportRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	records := make([]ImportRecord, 0, len(req.Records))
	for _, rec := range req.Records {
		records = append(records, ImportRecord{
			ProviderMessageID: rec.ProviderMessageID,
			Recipient:         rec.Recipient,
			Category:          rec.Category,
			SentAt:            rec.SentAt,
		})
	}

	result, err := h.service.ImportBatch(c.UserContext(), acct, records)
	if err != nil {
		if errors.Is(err, pricing.ErrUnknownCategory) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	return c.Status(http.StatusOK).JSON(ImportResponse{
		Imported:     result.Imported,
		Skipped:      result.Skipped,
		TotalPaise:   result.TotalCost,
		BalancePaise: result.NewBalance,
	})
}

// Status ingests a provider delivery receipt.
func (h *Handler) Status(c *fiber.Ctx) error {
	var req StatusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.ProviderMessageID == "" {
		return fiber.NewError(http.StatusBadRequest, "provider_message_id is required")
	}

	if err := h.service.UpdateStatus(c.UserContext(), req.ProviderMessageID, req.Status, req.Timestamp); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.SendStatus(http.StatusOK)
}

// List returns the account's recent messages.
func (h *Handler) List(c *fiber.Ctx) error {
	acct, ok := account.FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	messages, err := h.service.List(c.UserContext(), acct.ID, c.QueryInt("limit", 100))
	if err != nil {
		return err
	}

	out := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, toResponse(msg))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Get returns one message scoped to the account.
func (h *Handler) Get(c *fiber.Ctx) error {
	acct, ok := account.FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	msg, err := h.service.Get(c.UserContext(), acct.ID, c.Params("messageId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(msg))
}

func toResponse(msg Message) MessageResponse {
	return MessageResponse{
		ID:                msg.ID,
		Recipient:         msg.Recipient,
		Category:          msg.Category,
		CostPaise:         msg.Cost,
		Status:            msg.Status,
		ProviderMessageID: msg.ProviderMessageID,
		Error:             msg.Error,
		SentAt:            msg.SentAt,
		DeliveredAt:       msg.DeliveredAt,
		ReadAt:            msg.ReadAt,
		CreatedAt:         msg.CreatedAt,
	}
}
