package devserver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the dev server's gin engine with all loyalty routes
// mounted under /api.
func NewRouter(store Store, signer *Signer) *gin.Engine {
	router := gin.Default()

	// CORS configuration for local web clients
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"}
	router.Use(cors.New(corsConfig))

	h := NewHandler(store, signer)

	api := router.Group("/api")
	{
		api.POST("/auth/login", h.Login)
		api.POST("/customers/login-or-register", h.CustomerLoginOrRegister)
		api.GET("/cards/customer/:customerId", h.CustomerCards)
		// /qr/:cardId rather than /cards/:cardId/qr: gin's router rejects a
		// param segment next to the static "customer" segment.
		api.GET("/qr/:cardId", h.IssueQR)

		staffOnly := api.Group("", h.RequireStaff)
		staffOnly.POST("/stamp", h.ApplyStamp)
		staffOnly.POST("/redeem", h.Redeem)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})

	return router
}
