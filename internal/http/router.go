// README: HTTP route registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coursier/internal/http/handlers"
	"coursier/internal/http/middleware"
	"coursier/internal/logger"
	"coursier/internal/modules/user"
)

func NewRouter(deps ServerDeps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	public := handlers.NewPublicHandler(deps.Orders)
	users := handlers.NewUserHandler(deps.Users, deps.Issuer)
	webhooks := handlers.NewWebhookHandler(deps.Payments)

	api := r.Group("/api")
	api.POST("/users", users.Register)
	api.POST("/sessions", users.Login)
	api.GET("/tiers/:tier", public.Tier)
	api.GET("/track/:tracking", public.Track)
	api.POST("/webhooks/payments", webhooks.Payments)

	authed := api.Group("", middleware.Auth(deps.Verifier))

	orders := handlers.NewOrderHandler(deps.Orders, deps.Drivers, deps.Payments, deps.Ratings)
	authed.GET("/orders/:id", orders.Get)
	authed.GET("/orders/:id/history", orders.History)
	customer := authed.Group("/orders", middleware.RequireRole(string(user.RoleCustomer)))
	customer.POST("", orders.Create)
	customer.GET("", orders.ListMine)
	customer.POST("/:id/cancel", orders.Cancel)
	customer.POST("/:id/pay", orders.Pay)
	customer.POST("/:id/rating", orders.Rate)

	drivers := handlers.NewDriverHandler(deps.Drivers, deps.Orders)
	dg := authed.Group("/drivers", middleware.RequireRole(string(user.RoleDriver)))
	dg.POST("", drivers.Apply)
	dg.GET("/me", drivers.Me)
	dg.PUT("/me/online", drivers.SetOnline)
	dg.PUT("/me/documents", drivers.UpdateDocuments)
	dg.POST("/me/upgrade", drivers.RequestUpgrade)
	dg.GET("/me/orders", drivers.MyOrders)
	dg.GET("/orders", drivers.ListAvailable)
	dg.POST("/orders/:id/accept", drivers.Accept)
	dg.POST("/orders/:id/pickup", drivers.PickUp)
	dg.POST("/orders/:id/transit", drivers.StartTransit)
	dg.POST("/orders/:id/deliver", drivers.Deliver)

	admin := handlers.NewAdminHandler(deps.Drivers, deps.Settlements)
	ag := authed.Group("/admin", middleware.RequireRole(string(user.RoleAdmin)))
	ag.GET("/drivers", admin.ListDrivers)
	ag.PUT("/drivers/:id/status", admin.SetDriverStatus)
	ag.PUT("/drivers/:id/equipment", admin.IssueEquipment)
	ag.GET("/settlements", admin.ListSettlements)
	ag.GET("/settlements/:orderID", admin.GetSettlement)
	ag.POST("/settlements/:orderID/retry", admin.RetrySettlement)

	return r
}
