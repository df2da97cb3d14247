package account

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/chatbill/chatbill/internal/ledger"
)

// Handler exposes HTTP endpoints for account, balance and billing reads.
type Handler struct {
	service *Service
}

// NewHandler constructs an account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register opens a new account and returns its one-time API key.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	acct, apiKey, err := h.service.Register(c.UserContext(), RegisterInput{
		Email:   req.Email,
		Name:    req.Name,
		Phone:   req.Phone,
		Company: req.Company,
		TaxID:   req.TaxID,
		Address: req.Address,
	})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(RegisterResponse{
		Account: toAccountResponse(acct),
		APIKey:  apiKey,
	})
}

// Me returns the authenticated account's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	acct, ok := FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	return c.Status(http.StatusOK).JSON(toAccountResponse(acct))
}

// UpdateProfile rewrites the billing profile. Issued invoices keep their
// snapshots.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	acct, ok := FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	var req ProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	updated, err := h.service.UpdateProfile(c.UserContext(), acct.ID, Profile{
		Name:    req.Name,
		Phone:   req.Phone,
		Company: req.Company,
		TaxID:   req.TaxID,
		Address: req.Address,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusOK).JSON(toAccountResponse(updated))
}

// Balance reports the spendable wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	acct, ok := FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	balance, err := h.service.Balance(c.UserContext(), acct.ID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(BalanceResponse{
		AccountID:    balance.AccountID,
		BalancePaise: balance.Amount,
		AsOf:         balance.AsOf,
	})
}

// Transactions lists recent ledger activity for the account.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	acct, ok := FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	txns, err := h.service.Transactions(c.UserContext(), acct.ID, c.QueryInt("limit", 100))
	if err != nil {
		return err
	}

	out := make([]TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, TransactionResponse{
			ID:          txn.ID,
			AmountPaise: txn.Amount,
			Type:        txn.Type,
			Status:      txn.Status,
			OrderRef:    txn.OrderRef,
			PaymentRef:  txn.PaymentRef,
			Description: txn.Description,
			CreatedAt:   txn.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Invoices lists the account's issued invoices.
func (h *Handler) Invoices(c *fiber.Ctx) error {
	acct, ok := FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	invoices, err := h.service.Invoices(c.UserContext(), acct.ID)
	if err != nil {
		return err
	}

	out := make([]InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceResponse(inv))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Invoice fetches one invoice scoped to the account.
func (h *Handler) Invoice(c *fiber.Ctx) error {
	acct, ok := FromCtx(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	inv, err := h.service.Invoice(c.UserContext(), acct.ID, c.Params("invoiceId"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(toInvoiceResponse(inv))
}

// Adjust applies an operator balance correction. Admin only.
func (h *Handler) Adjust(c *fiber.Ctx) error {
	var req AdjustRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.DeltaPaise == 0 {
		return fiber.NewError(http.StatusBadRequest, "delta_paise must be non-zero")
	}

	result, err := h.service.Adjust(c.UserContext(), c.Params("accountId"), req.DeltaPaise, req.Reason)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return err
	}

	return c.Status(http.StatusOK).JSON(AdjustResponse{
		TransactionID: result.TransactionID,
		BalancePaise:  result.NewBalance,
	})
}

func toAccountResponse(acct Account) AccountResponse {
	return AccountResponse{
		ID:        acct.ID,
		Email:     acct.Email,
		Phone:     acct.Phone,
		Name:      acct.Name,
		Company:   acct.Company,
		TaxID:     acct.TaxID,
		Address:   acct.Address,
		IsAdmin:   acct.IsAdmin,
		CreatedAt: acct.CreatedAt,
	}
}

func toInvoiceResponse(inv ledger.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:            inv.ID,
		Number:        inv.Number,
		CustomerName:  inv.Customer.Name,
		CustomerEmail: inv.Customer.Email,
		Company:       inv.Customer.Company,
		TaxID:         inv.Customer.TaxID,
		SubtotalPaise: inv.Subtotal,
		CGSTPaise:     inv.CGST,
		SGSTPaise:     inv.SGST,
		IGSTPaise:     inv.IGST,
		TotalPaise:    inv.Total,
		CreditedPaise: inv.Credited,
		PaymentRef:    inv.PaymentRef,
		PaymentDate:   inv.PaymentDate,
		Status:        inv.Status,
	}
}
