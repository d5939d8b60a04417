package middleware

import (
	"net/http"
	"strings"

	"nutbutter/config"
	"nutbutter/internal/auth"

	"github.com/gin-gonic/gin"
)

// AuthRequired validates the storefront JWT and sets CustomerID in context.
func AuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("customer_id", claims.CustomerID)
		c.Set("email", claims.Email)
		c.Next()
	}
}

// GetCustomerID returns the authenticated customer ID from context (must be
// used after AuthRequired).
func GetCustomerID(c *gin.Context) uint {
	v, _ := c.Get("customer_id")
	if v == nil {
		return 0
	}
	return v.(uint)
}
