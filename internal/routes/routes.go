package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/config"
	"github.com/MehdiDinari/homebook/internal/handlers"
	"github.com/MehdiDinari/homebook/internal/middleware"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/payments"
	"github.com/MehdiDinari/homebook/internal/repository"
	"github.com/MehdiDinari/homebook/internal/services"
	sessionws "github.com/MehdiDinari/homebook/internal/websocket"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, logger *zap.Logger) {
	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	topupRepo := repository.NewTopupRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)

	aliases := models.NewRoleAliases(cfg.RoleTeacherAlias, cfg.RoleStudentAlias)

	var directory services.DirectoryService
	if cfg.DirectoryBaseURL != "" {
		directory = services.NewHTTPDirectoryService(cfg.DirectoryBaseURL, cfg.DirectoryToken)
	} else {
		directory = services.NewHeaderDirectoryService()
	}

	var stripe, paypal payments.Provider
	if cfg.HasStripe() {
		stripe = payments.NewStripeProvider(cfg.StripeSecretKey)
	}
	if cfg.HasPayPal() {
		paypal = payments.NewPayPalProvider(cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalEnv)
	}
	gateway := payments.NewGateway(stripe, paypal)

	hub := sessionws.NewHub(logger)
	go hub.Run()

	walletService := services.NewWalletService(db, ledgerRepo, paymentRepo, withdrawalRepo, cfg.Currency, logger)
	subscriptionService := services.NewSubscriptionService(db, userRepo, subscriptionRepo, directory, aliases, cfg.Currency)
	checkoutService := services.NewCheckoutService(
		db,
		userRepo,
		paymentRepo,
		topupRepo,
		gateway,
		aliases,
		cfg.Currency,
		cfg.DefaultSuccessURL(),
		cfg.DefaultCancelURL(),
		logger,
	)
	sessionService := services.NewSessionService(sessionRepo, subscriptionRepo, hub, cfg.LiveSessionCleanupMinutes, logger)
	withdrawalService := services.NewWithdrawalService(db, withdrawalRepo, gateway, cfg.Currency, logger)

	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService, cfg.RoleTeacherAlias)
	walletHandler := handlers.NewWalletHandler(walletService)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	withdrawalHandler := handlers.NewWithdrawalHandler(withdrawalService)

	api := app.Group("/api/v1")

	// Access-token redemption is the capability itself, no identity.
	api.Get("/sessions/access/:token", sessionHandler.RedeemAccessToken)

	identified := api.Group("", middleware.IdentityRequired(directory, userRepo, aliases, logger))

	teachers := identified.Group("/teachers")
	teachers.Get("", subscriptionHandler.ListTeachers)
	teachers.Get("/:id/subscriptions", subscriptionHandler.ListForTeacher)
	teachers.Get("/:id/sessions", sessionHandler.ListForTeacher)
	teachers.Get("/:id/earnings", walletHandler.TeacherEarnings)
	teachers.Get("/:id/wallet", walletHandler.TeacherWallet)
	teachers.Get("/:id/wallet/entries", walletHandler.TeacherEntries)
	teachers.Post("/:id/wallet/reconcile", walletHandler.Reconcile)

	subscriptions := identified.Group("/subscriptions")
	subscriptions.Post("", subscriptionHandler.Subscribe)
	subscriptions.Get("", subscriptionHandler.ListMine)
	subscriptions.Post("/:id/cancel", subscriptionHandler.Cancel)

	wallet := identified.Group("/wallet")
	wallet.Get("", walletHandler.GetWallet)
	wallet.Get("/money", walletHandler.StudentMoney)
	wallet.Post("/topup", checkoutHandler.CreateTopup)
	wallet.Post("/topup/confirm", checkoutHandler.ConfirmTopup)
	wallet.Get("/topups", checkoutHandler.ListTopups)

	checkout := identified.Group("/checkout")
	checkout.Post("", checkoutHandler.CreateCheckout)
	checkout.Post("/confirm", checkoutHandler.ConfirmCheckout)
	checkout.Get("/payments", checkoutHandler.ListPayments)

	sessions := identified.Group("/sessions")
	sessions.Post("", sessionHandler.Create)
	sessions.Get("/dashboard", sessionHandler.Dashboard)
	sessions.Get("/:id", sessionHandler.Get)
	sessions.Patch("/:id", sessionHandler.Reschedule)
	sessions.Delete("/:id", sessionHandler.Delete)
	sessions.Post("/:id/join", sessionHandler.Join)
	sessions.Post("/:id/leave", sessionHandler.Leave)
	sessions.Get("/:id/presence", sessionHandler.Presence)
	sessions.Post("/:id/access-tokens", sessionHandler.CreateAccessToken)

	withdrawals := identified.Group("/withdrawals")
	withdrawals.Post("", withdrawalHandler.Create)
	withdrawals.Get("", withdrawalHandler.List)
	withdrawals.Get("/:id", withdrawalHandler.Get)
	withdrawals.Patch("/:id", withdrawalHandler.Update)

	admin := identified.Group("/admin")
	admin.Get("/revenue", walletHandler.PlatformRevenue)
	admin.Post("/subscriptions/expire", subscriptionHandler.ExpireDue)
	admin.Post("/sessions/prune", sessionHandler.Prune)

	wsHandler := handlers.NewSessionSocketHandler(hub, sessionService, logger)
	identified.Use("/ws/sessions/:id", wsHandler.Upgrade)
	identified.Get("/ws/sessions/:id", websocket.New(wsHandler.Handle))
}
