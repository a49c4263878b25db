package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"chartstream-backend/controllers"
	"chartstream-backend/middleware"
	"chartstream-backend/services"
	"chartstream-backend/services/alerts"
	"chartstream-backend/services/triggerlog"
)

// Deps are the initialized services the route handlers need
type Deps struct {
	Store    *services.QuoteStore
	Registry *services.SubscriptionRegistry
	Alerts   *alerts.Service
	History  *triggerlog.Service      // optional
	Archive  *services.ArchiveService // optional
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	alertController := controllers.NewAlertController(deps.Alerts, deps.History)
	quoteController := controllers.NewQuoteController(deps.Store, deps.Registry, deps.Archive)
	wsHandler := services.NewWebSocketHandler(deps.Registry, deps.Store)

	// Caps alert churn per client, not quote reads
	alertWriteLimiter := middleware.NewRateLimiter(60, time.Minute)

	// Realtime stream. Auth is optional here: anonymous clients get quotes,
	// a valid token additionally routes alert notifications to the user.
	router.GET("/ws/realtime/:client_id", middleware.OptionalJWTAuthMiddleware(), wsHandler.Handle)

	api := router.Group("/api/v1")
	{
		// Quote routes (public)
		quotes := api.Group("/quotes")
		{
			quotes.GET("", quoteController.GetArchivedQuotes)
			quotes.GET("/:symbol", quoteController.GetQuote)
			quotes.GET("/:symbol/statistics", quoteController.GetStatistics)
			quotes.GET("/:symbol/history", quoteController.GetHistory)
		}

		api.GET("/symbols", quoteController.GetSymbols)

		// Alert routes (authenticated)
		alertRoutes := api.Group("/alerts")
		alertRoutes.Use(middleware.JWTAuthMiddleware())
		{
			alertRoutes.GET("", alertController.GetAlerts)
			alertRoutes.POST("", alertWriteLimiter.Middleware(), alertController.CreateAlert)
			alertRoutes.GET("/history", alertController.GetHistory)
			alertRoutes.GET("/:id", alertController.GetAlert)
			alertRoutes.DELETE("/:id", alertController.DeleteAlert)
			alertRoutes.POST("/:id/reset", alertController.ResetAlert)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":      "ok",
			"connections": deps.Registry.ConnectionCount(),
			"symbols":     len(deps.Registry.ActiveSymbols()),
			"alerts":      deps.Alerts.ActiveCount(),
		})
	})
}
