// Package relay forwards session-control messages (offer, answer, candidate,
// leave) between the two endpoints of a session. Sessions are isolated
// namespaces: a message is delivered to the other joined endpoint and to no
// one else, in per-sender order, best effort. Nothing is buffered for
// endpoints that have not joined yet.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mediline/consult/internal/models"
)

// ErrSessionFull is returned when a third endpoint attempts to join a
// session. Two-party sessions are an invariant, so a violation is a caller
// defect rather than a recoverable condition.
var ErrSessionFull = errors.New("session already has two endpoints")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Presence mirrors session membership into shared storage so operators can
// inspect live sessions across server restarts. It is advisory only; the
// relay's correctness does not depend on it.
type Presence interface {
	Join(ctx context.Context, sessionID, endpointID string)
	Leave(ctx context.Context, sessionID, endpointID string)
}

// session holds the (at most two) currently joined endpoints.
type session struct {
	id    string
	peers map[string]*Client
	mu    sync.RWMutex
}

// Hub tracks all live sessions on this server.
type Hub struct {
	presence Presence

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewHub(presence Presence) *Hub {
	return &Hub{
		presence: presence,
		sessions: make(map[string]*session),
	}
}

// Client is one endpoint's websocket connection to the relay.
type Client struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte

	hub  *Hub
	sess *session
}

// MemberCount reports how many endpoints are currently joined to sessionID.
func (h *Hub) MemberCount(sessionID string) int {
	h.mu.RLock()
	sess, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return len(sess.peers)
}

// Join attaches an upgraded connection to a session and starts its pumps.
// The joining endpoint receives a join confirmation carrying its identifier;
// the already-joined endpoint, if any, is told who arrived.
func (h *Hub) Join(sessionID, endpointID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		sess = &session{id: sessionID, peers: make(map[string]*Client)}
		h.sessions[sessionID] = sess
	}
	h.mu.Unlock()

	client := &Client{
		ID:        endpointID,
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		hub:       h,
		sess:      sess,
	}

	sess.mu.Lock()
	if len(sess.peers) >= 2 {
		sess.mu.Unlock()
		return nil, ErrSessionFull
	}
	sess.peers[endpointID] = client
	sess.mu.Unlock()

	if h.presence != nil {
		h.presence.Join(context.Background(), sessionID, endpointID)
	}
	log.Printf("Endpoint %s joined session %s", endpointID, sessionID)

	client.enqueue(models.SignalMessage{
		Type:      models.SignalTypeJoin,
		From:      endpointID,
		SessionID: sessionID,
	})
	sess.forward(models.SignalMessage{
		Type:      models.SignalTypeJoin,
		From:      endpointID,
		SessionID: sessionID,
	}, endpointID)

	go client.writePump()
	go client.readPump()
	return client, nil
}

// forward delivers msg to the session member other than fromID.
func (s *session) forward(msg models.SignalMessage, fromID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	for id, peer := range s.peers {
		if id == fromID {
			continue
		}
		select {
		case peer.Send <- data:
		default:
			log.Printf("Failed to send message to endpoint %s, buffer full", id)
		}
	}
}

func (h *Hub) detach(c *Client) {
	c.sess.mu.Lock()
	if _, ok := c.sess.peers[c.ID]; !ok {
		c.sess.mu.Unlock()
		return
	}
	delete(c.sess.peers, c.ID)
	empty := len(c.sess.peers) == 0
	c.sess.mu.Unlock()

	if empty {
		h.mu.Lock()
		// Re-check under the hub lock: a new join may have re-populated it.
		c.sess.mu.RLock()
		if len(c.sess.peers) == 0 {
			delete(h.sessions, c.SessionID)
		}
		c.sess.mu.RUnlock()
		h.mu.Unlock()
	}

	if h.presence != nil {
		h.presence.Leave(context.Background(), c.SessionID, c.ID)
	}

	// Tell the remaining endpoint immediately so it can tear down instead of
	// waiting for a transport-level timeout.
	c.sess.forward(models.SignalMessage{
		Type:      models.SignalTypeLeave,
		From:      c.ID,
		SessionID: c.SessionID,
	}, c.ID)

	log.Printf("Endpoint %s left session %s", c.ID, c.SessionID)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		var msg models.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Failed to parse message: %v", err)
			continue
		}

		// The relay, not the sender, is authoritative for addressing.
		msg.From = c.ID
		msg.SessionID = c.SessionID

		switch msg.Type {
		case models.SignalTypeOffer, models.SignalTypeAnswer, models.SignalTypeCandidate:
			c.sess.forward(msg, c.ID)
		case models.SignalTypeLeave:
			return
		default:
			log.Printf("Unknown message type: %s", msg.Type)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) enqueue(msg models.SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Printf("Failed to send message to endpoint %s, buffer full", c.ID)
	}
}
