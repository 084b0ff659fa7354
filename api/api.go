package api

import (
	"github.com/gin-gonic/gin"

	"github.com/vaultline/vaultline"
	"github.com/vaultline/vaultline/api/middleware"
	"github.com/vaultline/vaultline/config"
)

type Api struct {
	vaultline *vaultline.Vaultline
	router    *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/listings", a.CreateListing)
	router.GET("/listings/:id", a.GetListing)
	router.POST("/listings/:id/bids", a.PlaceBid)
	router.GET("/listings/:id/bids", a.GetBids)
	router.GET("/listings/:id/winning-bid", a.GetWinningBid)
	router.GET("/listings/:id/transaction", a.GetActiveTransaction)
	router.POST("/listings/:id/accept-offer", a.AcceptOffer)
	router.POST("/listings/:id/purchase", a.InitiatePurchase)

	router.GET("/transactions/:id", a.GetTransaction)
	router.GET("/transactions/:id/partners", a.GetPartners)
	router.POST("/transactions/:id/deposits", a.RecordDeposit)
	router.POST("/transactions/:id/transfer-start", a.StartTransfer)
	router.POST("/transactions/:id/transfer-complete", a.CompleteTransfer)
	router.POST("/transactions/:id/confirm", a.ConfirmReceipt)
	router.POST("/transactions/:id/buyer-info", a.SubmitBuyerInfo)
	router.POST("/transactions/:id/cancel", a.CancelTransaction)

	router.POST("/webhook-subscriptions", a.CreateWebhookSubscription)
	router.GET("/webhook-subscriptions/:id", a.GetWebhookSubscription)
	router.PUT("/webhook-subscriptions/:id/active", a.SetSubscriptionActive)

	router.GET("/notifications/:user_id", a.GetNotifications)
	router.PUT("/notifications/:id/read", a.MarkNotificationRead)
	router.GET("/stats/:user_id", a.GetUserStats)

	router.GET("/health", a.Health)

	sweeps := router.Group("/sweeps", middleware.SweepAuthMiddleware())
	sweeps.POST("/:name", a.RunSweep)

	return a.router
}

func NewAPI(v *vaultline.Vaultline) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{vaultline: v, router: r}
}

// Health reports queue backlog depths alongside liveness.
func (a Api) Health(c *gin.Context) {
	conf, err := config.Fetch()
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{
		"status":               "ok",
		"webhook_pending":      a.vaultline.QueueDepth(conf.Queue.WebhookQueue),
		"notification_pending": a.vaultline.QueueDepth(conf.Queue.NotificationQueue),
	})
}
