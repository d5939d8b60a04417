package router

import (
	"log"
	"net/http"
	"time"

	"nutbutter/config"
	"nutbutter/internal/events"
	"nutbutter/internal/handler"
	"nutbutter/internal/middleware"
	"nutbutter/internal/repository"
	"nutbutter/internal/service"
	"nutbutter/internal/ws"
	"nutbutter/pkg/payment"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Setup wires repositories, services and handlers. The returned sweeper is
// started by main so its lifetime follows the server's shutdown context.
func Setup(cfg *config.Config, db *gorm.DB, publisher *events.Publisher) (*gin.Engine, *service.Sweeper) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Customer routes only. The M-Pesa webhook stays unlimited: callbacks
	// come from a handful of Safaricom egress IPs and a 429 there drops a
	// delivery the provider may not retry in time.
	rateMw := middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second))

	// Repositories
	requestRepo := repository.NewPaymentRequestRepository(db)
	eventRepo := repository.NewPaymentEventRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	hub := ws.NewPaymentHub()

	var provider payment.Provider
	if cfg.Daraja.ConsumerKey != "" && cfg.Daraja.ConsumerSecret != "" {
		provider = payment.NewDarajaProvider(
			cfg.Daraja.BaseURL,
			cfg.Daraja.ConsumerKey,
			cfg.Daraja.ConsumerSecret,
			cfg.Daraja.ShortCode,
			cfg.Daraja.Passkey,
			cfg.Payment.ProviderTimeout,
		)
		log.Printf("[DARAJA] STK provider enabled base_url=%s short_code=%s", cfg.Daraja.BaseURL, cfg.Daraja.ShortCode)
	} else {
		provider = &payment.StubProvider{}
		log.Printf("[DARAJA] no credentials, using stub provider (set DARAJA_CONSUMER_KEY / DARAJA_CONSUMER_SECRET)")
	}

	// Services
	tracker := service.NewTracker(cfg, requestRepo, eventRepo, provider, orderRepo, publisher, hub)
	reconciler := service.NewReconciler(requestRepo, eventRepo, orderRepo, publisher, hub)
	sweeper := service.NewSweeper(cfg, tracker, orderRepo, publisher, hub)

	// Handlers
	paymentHandler := handler.NewPaymentHandler(tracker, reconciler, provider)
	webhookHandler := handler.NewMpesaWebhookHandler(reconciler)

	authMw := middleware.AuthRequired(&cfg.JWT)

	api := r.Group("/api/v1")
	{
		payments := api.Group("/payments")
		payments.Use(rateMw, authMw)
		{
			payments.POST("/mpesa/initiate", paymentHandler.Initiate)
			payments.GET("/:correlation_id", paymentHandler.GetStatus)
			payments.POST("/:correlation_id/cancel", paymentHandler.Cancel)
			payments.GET("/:correlation_id/events", paymentHandler.ListEvents)
			payments.GET("/:correlation_id/provider-status", paymentHandler.ProviderStatus)
		}
		api.GET("/orders/:reference/payments", rateMw, authMw, paymentHandler.ListForOrder)
		api.POST("/webhooks/mpesa", webhookHandler.Handle)
	}

	r.GET("/ws/payments", rateMw, ws.UpgradePaymentWS(&cfg.JWT, hub, tracker))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r, sweeper
}
