package router

import (
	"net/http"

	"paycore/config"
	"paycore/internal/handler"
	"paycore/internal/middleware"
	"paycore/internal/repository"
	"paycore/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services are built once in main and shared with the background loops.
type Services struct {
	Payments    *service.PaymentService
	Sponsorship *service.SponsorshipService
	Payouts     *service.PayoutService
	Reconciler  *service.Reconciler
	Commissions *service.CommissionWorker
}

func Setup(cfg *config.Config, db *gorm.DB, svc Services, webhookLimiter *middleware.KeyedRateLimiter, log *zap.Logger) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// No gin.Logger(); request volume is visible through /metrics.
	r.Use(middleware.Metrics())

	// Repositories
	walletRepo := repository.NewWalletRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Handlers
	paymentHandler := handler.NewPaymentHandler(svc.Payments)
	webhookHandler := handler.NewWebhookHandler(svc.Payments)
	walletHandler := handler.NewWalletHandler(walletRepo)
	referralHandler := handler.NewReferralHandler(svc.Sponsorship)
	payoutHandler := handler.NewPayoutHandler(svc.Payouts)
	notificationHandler := handler.NewNotificationHandler(notificationRepo)
	adminHandler := handler.NewAdminHandler(svc.Reconciler, svc.Commissions, walletRepo, log)

	adminMw := middleware.AdminRequired(cfg.Server.AdminToken)

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/payments", paymentHandler.Create)
		api.GET("/payments/:id", paymentHandler.Get)

		api.POST("/webhooks/:gateway", middleware.RateLimit(webhookLimiter), webhookHandler.Handle)

		wallets := api.Group("/wallets/:owner_id")
		{
			wallets.GET("", walletHandler.GetBalance)
			wallets.GET("/entries", walletHandler.ListEntries)
			wallets.POST("/debit", walletHandler.Debit)
		}

		referrals := api.Group("/referrals")
		{
			referrals.POST("/bind", referralHandler.Bind)
			referrals.GET("/code/:owner_id", referralHandler.GetCode)
			referrals.GET("/by-referrer/:referrer_id", referralHandler.ListByReferrer)
			referrals.GET("/levels", referralHandler.Levels)
		}

		users := api.Group("/users/:id")
		{
			users.GET("/payments", paymentHandler.ListByUser)
			users.POST("/push-token", notificationHandler.SavePushToken)
			users.GET("/notifications", notificationHandler.List)
			users.POST("/notifications/:notification_id/read", notificationHandler.MarkRead)
		}

		payouts := api.Group("/payouts")
		payouts.Use(adminMw)
		{
			payouts.GET("/earnings", payoutHandler.ListEarnings)
			payouts.POST("/earnings/:id/paid", payoutHandler.MarkPaid)
			payouts.POST("/earnings/:id/cancelled", payoutHandler.MarkCancelled)
		}

		admin := api.Group("/admin")
		admin.Use(adminMw)
		{
			admin.POST("/reconcile", adminHandler.Reconcile)
			admin.POST("/commissions/drain", adminHandler.DrainCommissions)
			admin.GET("/ledger/verify", adminHandler.VerifyLedger)
			admin.POST("/referrals/code/:owner_id/activate", referralHandler.Activate)
			admin.POST("/referrals/code/:owner_id/deactivate", referralHandler.Deactivate)
		}
	}

	return r
}
