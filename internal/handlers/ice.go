package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mediline/consult/internal/turncred"
)

// GetICE returns a relay credential set for one call attempt. The provider
// substitutes its static fallback when the broker is unreachable, so this
// endpoint only fails when the request itself is cancelled.
func GetICE(provider *turncred.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		set, err := provider.Fetch(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch relay credentials"})
			return
		}
		c.JSON(http.StatusOK, set)
	}
}
