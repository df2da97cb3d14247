package settlement

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/chatbill/chatbill/internal/account"
	"github.com/chatbill/chatbill/internal/ledger"
)

const webhookSignatureHeader = "X-Razorpay-Signature"

// Handler exposes HTTP endpoints for the settlement flows.
type Handler struct {
	service *Service
}

// NewHandler constructs a settlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// OpenOrder registers a top-up order for the authenticated account.
func (h *Handler) OpenOrder(c *fiber.Ctx) error {
	acct, ok := account.FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	var req OpenOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.OpenOrder(c.UserContext(), acct, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrGatewayUnavailable):
			return fiber.NewError(http.StatusBadGateway, err.Error())
		default:
			return err
		}
	}

	return c.Status(http.StatusCreated).JSON(OrderResponse{
		OrderRef:      result.OrderRef,
		Amount:        result.Amount,
		Currency:      result.Currency,
		KeyID:         result.KeyID,
		CreditedPaise: result.Credited,
	})
}

// Verify settles a credit from the client-side confirmation.
func (h *Handler) Verify(c *fiber.Ctx) error {
	acct, ok := account.FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.OrderRef == "" || req.PaymentRef == "" || req.Signature == "" {
		return fiber.NewError(http.StatusBadRequest, "order_ref, payment_ref and signature are required")
	}

	result, err := h.service.Verify(c.UserContext(), acct.ID, VerifyInput{
		OrderRef:   req.OrderRef,
		PaymentRef: req.PaymentRef,
		Signature:  req.Signature,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrInvalidSignature):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrPaymentFailed):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, ledger.ErrDuplicatePayment):
			return fiber.NewError(http.StatusConflict, err.Error())
		default:
			return err
		}
	}

	return c.Status(http.StatusOK).JSON(toSettleResponse(result))
}

// Webhook ingests raw gateway events. Authentication is the HMAC signature
// header, not an API key.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	signature := c.Get(webhookSignatureHeader)

	result, err := h.service.HandleWebhook(c.UserContext(), body, signature)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	return c.Status(http.StatusOK).JSON(WebhookResponse{Event: result.Event, Outcome: result.Outcome})
}

// Reconcile resolves one order against the gateway on demand. Admin only.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	orderRef := c.Params("orderRef")

	result, err := h.service.Reconcile(c.UserContext(), orderRef)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrGatewayUnavailable):
			return fiber.NewError(http.StatusBadGateway, err.Error())
		default:
			return err
		}
	}

	resp := ReconcileResponse{OrderRef: result.OrderRef, Outcome: result.Outcome}
	if result.Outcome == ReconcileSettled {
		settled := toSettleResponse(result.Settled)
		resp.Settled = &settled
	}
	return c.Status(http.StatusOK).JSON(resp)
}

func toSettleResponse(result SettleResult) SettleResponse {
	return SettleResponse{
		OrderRef:       result.OrderRef,
		PaymentRef:     result.PaymentRef,
		InvoiceNumber:  result.InvoiceNumber,
		CreditedPaise:  result.Credited,
		BalancePaise:   result.NewBalance,
		AlreadySettled: result.AlreadySettled,
	}
}
