package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/chatbill/chatbill/internal/account"
	"github.com/chatbill/chatbill/internal/alert"
	"github.com/chatbill/chatbill/internal/audit"
	"github.com/chatbill/chatbill/internal/config"
	"github.com/chatbill/chatbill/internal/ledger"
	"github.com/chatbill/chatbill/internal/logging"
	"github.com/chatbill/chatbill/internal/messaging"
	"github.com/chatbill/chatbill/internal/middleware"
	"github.com/chatbill/chatbill/internal/pricing"
	"github.com/chatbill/chatbill/internal/settlement"
	"github.com/chatbill/chatbill/internal/tax"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. It returns the
// reconciliation sweeper so the server can manage its lifecycle.
func Setup(app *fiber.App, d Deps) (*settlement.Sweeper, error) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Storage backends: PostgreSQL in deployments, in-memory for local runs.
	var (
		store       ledger.Store
		accountRepo account.Repository
		messageRepo messaging.Repository
		pricingRepo pricing.Repository
		recorder    audit.Recorder
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		accountRepo = account.NewPostgresRepository(d.DB)
		messageRepo = messaging.NewPostgresRepository(d.DB)
		pricingRepo = pricing.NewPostgresRepository(d.DB)
		recorder = audit.NewPostgresRecorder(d.DB)
	} else {
		store = ledger.NewInMemory()
		accountRepo = account.NewMemoryRepository()
		messageRepo = messaging.NewMemoryRepository()
		pricingRepo = pricing.NewMemoryRepository()
		recorder = audit.NewMemoryRecorder()
	}

	var gateway settlement.Gateway
	if d.Cfg.GatewayKeyID != "" {
		gateway = settlement.NewHTTPGateway(d.Cfg.GatewayURL, d.Cfg.GatewayKeyID,
			d.Cfg.GatewaySecret, d.Cfg.GatewayTimeout)
	} else {
		gateway = settlement.StaticGateway{}
	}

	forwarder := audit.NewForwarder(d.Cfg.AuditForwardURL, d.Cfg.AuditForwardKey,
		d.Cfg.GatewayTimeout, logging.WithComponent(d.Logger, "forwarder"))
	watcher := alert.NewWatcher(d.Cfg.LowBalanceAlert,
		alert.NewLoggerNotifier(logging.WithComponent(d.Logger, "alert")),
		logging.WithComponent(d.Logger, "alert"))

	accountSvc := account.NewService(accountRepo, store)
	resolver := pricing.NewResolver(pricingRepo)
	settlementSvc := settlement.NewService(settlement.Options{
		KeyID:          d.Cfg.GatewayKeyID,
		ClientSecret:   d.Cfg.GatewaySecret,
		WebhookSecret:  d.Cfg.WebhookSecret,
		InvoicePrefix:  d.Cfg.InvoicePrefix,
		MinOrderAmount: d.Cfg.MinOrderAmount,
	}, gateway, store, accountSvc, tax.New(d.Cfg.TaxRateBps), recorder, forwarder,
		logging.WithComponent(d.Logger, "settlement"))
	messagingSvc := messaging.NewService(messageRepo, store, resolver,
		messaging.StaticProvider{}, watcher, logging.WithComponent(d.Logger, "messaging"))

	accountHandler := account.NewHandler(accountSvc)
	settlementHandler := settlement.NewHandler(settlementSvc)
	messagingHandler := messaging.NewHandler(messagingSvc)
	pricingHandler := pricing.NewHandler(resolver)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public surface: registration and inbound webhooks. Webhooks authenticate
	// with their own HMAC signatures, never with API keys.
	api.Post("/accounts", accountHandler.Register)
	api.Post("/webhooks/payment", settlementHandler.Webhook)
	api.Post("/webhooks/delivery", messagingHandler.Status)

	protected := api.Group("", middleware.APIKeyAuth(accountSvc))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	protected.Get("/account", accountHandler.Me)
	protected.Put("/account/profile", accountHandler.UpdateProfile)
	protected.Get("/account/balance", accountHandler.Balance)
	protected.Get("/account/transactions", accountHandler.Transactions)
	protected.Get("/account/invoices", accountHandler.Invoices)
	protected.Get("/account/invoices/:invoiceId", accountHandler.Invoice)

	protected.Post("/orders", settlementHandler.OpenOrder)
	protected.Post("/orders/verify", settlementHandler.Verify)

	protected.Post("/messages", messagingHandler.Send)
	protected.Post("/messages/import", messagingHandler.Import)
	protected.Get("/messages", messagingHandler.List)
	protected.Get("/messages/:messageId", messagingHandler.Get)

	protected.Get("/pricing", pricingHandler.Current)

	admin := protected.Group("/admin", middleware.AdminOnly())
	admin.Post("/accounts/:accountId/adjust", accountHandler.Adjust)
	admin.Put("/pricing/:category", pricingHandler.Set)
	admin.Post("/reconcile/:orderRef", settlementHandler.Reconcile)

	return settlement.NewSweeper(settlementSvc, store, d.Cfg.ReconcileSpec,
		d.Cfg.ReconcileMinAge, logging.WithComponent(d.Logger, "sweeper"))
}
