package routes

import (
	"time"

	"psychology/handlers"
	"psychology/middleware"
	"psychology/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterBookingRoutes sets up the reservation endpoints.
func RegisterBookingRoutes(api *gin.RouterGroup, hb *handlers.HandlerBundle) {
	bookingGroup := api.Group("/bookings")
	{
		bookingGroup.POST("", hb.ReserveHandler)
		bookingGroup.GET("/by-request/:clientRequestId", hb.GetByClientRequestHandler)
	}
}

// RegisterPaymentRoutes sets up payment initiation.
func RegisterPaymentRoutes(api *gin.RouterGroup, hb *handlers.HandlerBundle) {
	api.POST("/payments", hb.InitiatePaymentHandler)
}

// RegisterIntegrationRoutes sets up the Google Calendar consent flow. Only
// an admin may start it; the callback is admitted by its signed state.
func RegisterIntegrationRoutes(api *gin.RouterGroup, hb *handlers.HandlerBundle, tokens middleware.TokenValidator) {
	if hb.GoogleAuthURLHandler == nil || tokens == nil {
		return
	}
	google := api.Group("/integrations/google")
	{
		google.GET("/auth-url", middleware.JWTAuthAdminMiddleware(tokens), hb.GoogleAuthURLHandler)
		google.GET("/callback", hb.GoogleCallbackHandler)
	}
}

// RegisterWebhookRoutes sets up provider webhooks. They are not rate limited
// since providers treat 429 as a failed delivery.
func RegisterWebhookRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	webhooks := r.Group("/webhooks/payments")
	{
		webhooks.POST("/yookassa", hb.YooKassaWebhookHandler)
		if hb.StripeWebhookHandler != nil {
			webhooks.POST("/stripe", hb.StripeWebhookHandler)
		}
	}
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.GET("/healthz", hb.HealthHandler)
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle, tokens middleware.TokenValidator, logger *zap.Logger, maxRequestsPerMin int) {
	r.Use(utils.ErrorHandler())
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(maxRequestsPerMin))

	RegisterBookingRoutes(api, hb)
	RegisterPaymentRoutes(api, hb)
	RegisterIntegrationRoutes(api, hb, tokens)
	RegisterWebhookRoutes(r, hb)
	RegisterHealthRoute(r, hb)
}
