package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mediline/consult/internal/matchmaker"
	"github.com/mediline/consult/internal/models"
)

// RegisterMatch runs one matchmaking pass for the calling endpoint: it is
// either paired with the oldest live waiter or becomes a waiting entry.
func RegisterMatch(mm *matchmaker.Matchmaker, defaultQueue string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		queue := req.Queue
		if queue == "" {
			queue = defaultQueue
		}

		res, err := mm.Register(c.Request.Context(), queue, req.EndpointID)
		if err != nil {
			log.Printf("Matchmaking failed for %s: %v", req.EndpointID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Matchmaking failed"})
			return
		}

		if res.Status == models.MatchStatusMatched {
			log.Printf("Matched %s with %s (session %s)", req.EndpointID, res.PartnerID, res.SessionID)
		}
		c.JSON(http.StatusOK, res)
	}
}

// PollMatch reports whether a match has been delivered to a waiting
// endpoint. It does not touch the waiting entry itself.
func PollMatch(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpointID := c.Param("endpointId")

		res, ok, err := mm.Poll(c.Request.Context(), endpointID)
		if err != nil {
			log.Printf("Match poll failed for %s: %v", endpointID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Match poll failed"})
			return
		}
		if !ok {
			c.JSON(http.StatusOK, models.MatchResult{Status: models.MatchStatusWaiting})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// CancelMatch removes the endpoint's waiting entry so no late match can be
// delivered to a participant that is no longer listening.
func CancelMatch(mm *matchmaker.Matchmaker, defaultQueue string) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpointID := c.Param("endpointId")
		queue := c.Query("queue")
		if queue == "" {
			queue = defaultQueue
		}

		removed, err := mm.Cancel(c.Request.Context(), queue, endpointID)
		if err != nil {
			log.Printf("Match cancel failed for %s: %v", endpointID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Match cancel failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}
