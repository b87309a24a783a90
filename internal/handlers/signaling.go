package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mediline/consult/internal/models"
	"github.com/mediline/consult/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades the connection and joins the endpoint to its
// session on the relay. A session holds at most two endpoints; a third join
// attempt is rejected with 409 before the upgrade, and with an error close
// frame if it slips past the pre-check.
func HandleSignaling(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
			return
		}
		endpointID := c.Query("endpointId")
		if endpointID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endpointId is required"})
			return
		}

		if hub.MemberCount(sessionID) >= 2 {
			c.JSON(http.StatusConflict, gin.H{"error": "session full"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		if _, err := hub.Join(sessionID, endpointID, conn); err != nil {
			if errors.Is(err, relay.ErrSessionFull) {
				msg, _ := json.Marshal(models.SignalMessage{
					Type:      models.SignalTypeError,
					SessionID: sessionID,
					Error:     "session full",
				})
				conn.WriteMessage(websocket.TextMessage, msg)
			}
			conn.Close()
		}
	}
}
