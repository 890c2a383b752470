package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_network/controllers"
	"github.com/HSouheill/barrim_network/middleware"
)

// Controllers groups the handlers served under /api
type Controllers struct {
	Network        *controllers.NetworkController
	Commissions    *controllers.CommissionController
	Payouts        *controllers.PayoutController
	PaymentIntents *controllers.PaymentIntentController
}

// RegisterNetworkRoutes registers member, commission, payout and payment intent routes
func RegisterNetworkRoutes(e *echo.Echo, ctrl Controllers, jwt echo.MiddlewareFunc) {
	// Public signup
	e.POST("/api/members", ctrl.Network.Register)

	// Member routes: a member reaches only its own account, admins reach all
	memberGroup := e.Group("/api/members/:id")
	memberGroup.Use(jwt)
	memberGroup.Use(middleware.RequireSelfOrAdmin("id"))
	memberGroup.GET("", ctrl.Network.GetMember)
	memberGroup.PUT("/payout-destination", ctrl.Network.UpdatePayoutDestination)
	memberGroup.GET("/upline", ctrl.Network.GetUpline)
	memberGroup.GET("/downline", ctrl.Network.GetDownline)
	memberGroup.GET("/commissions", ctrl.Commissions.ListMemberCommissions)

	// Payment intents check ownership against the intent itself
	intentGroup := e.Group("/api/payment-intents")
	intentGroup.Use(jwt)
	intentGroup.POST("", ctrl.PaymentIntents.CreateIntent)
	intentGroup.GET("/:id", ctrl.PaymentIntents.GetIntent)
	intentGroup.GET("/:id/status", ctrl.PaymentIntents.CheckStatus)
	intentGroup.GET("/:id/qr", ctrl.PaymentIntents.GetQRCode)

	RegisterAdminRoutes(e, ctrl, jwt)
}

// RegisterAdminRoutes registers operator routes, restricted to the admin role
func RegisterAdminRoutes(e *echo.Echo, ctrl Controllers, jwt echo.MiddlewareFunc) {
	adminGroup := e.Group("/api/admin")
	adminGroup.Use(jwt)
	adminGroup.Use(middleware.RequireRole(middleware.RoleAdmin))

	// Network
	adminGroup.POST("/members/:id/activate", ctrl.Network.Activate)
	adminGroup.POST("/members/:id/deactivate", ctrl.Network.Deactivate)
	adminGroup.POST("/members/:id/qualification", ctrl.Network.Recalculate)
	adminGroup.POST("/qualification/sweep", ctrl.Network.SweepQualification)

	// Commissions
	adminGroup.POST("/commissions/residuals", ctrl.Commissions.RunResiduals)
	adminGroup.POST("/commissions/direct-bonus", ctrl.Commissions.DirectBonus)
	adminGroup.GET("/commissions", ctrl.Commissions.ListCommissions)

	// Payouts
	adminGroup.GET("/payouts/preflight", ctrl.Payouts.Preflight)
	adminGroup.POST("/payouts/bulk", ctrl.Payouts.ProcessBulk)
	adminGroup.POST("/payouts/reconcile-stale", ctrl.Payouts.ReconcileStale)
	adminGroup.POST("/payouts/:id/process", ctrl.Payouts.ProcessSingle)
	adminGroup.POST("/payouts/:id/complete", ctrl.Payouts.MarkManuallyCompleted)
	adminGroup.POST("/payouts/:id/reconcile", ctrl.Payouts.Reconcile)

	// Payment intents
	adminGroup.POST("/payment-intents/sweep", ctrl.PaymentIntents.SweepExpired)
}
