// Package signalclient maintains an endpoint's persistent connection to the
// signaling relay. Messages are written by a single pump so they arrive in
// send order; a dropped connection is redialed with exponential backoff and
// the session rejoined before the failure is surfaced.
package signalclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/mediline/consult/internal/models"
	"github.com/pion/logging"
)

// ErrSignalingUnavailable reports that the relay connection was lost and
// reconnection attempts were exhausted.
var ErrSignalingUnavailable = errors.New("signaling relay unavailable")

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 64 * 1024
	reconnectWindow  = 20 * time.Second
	outgoingCapacity = 64
)

// Client is the endpoint side of the relay's websocket protocol.
type Client struct {
	url string
	log logging.LeveledLogger

	incoming chan models.SignalMessage
	outgoing chan models.SignalMessage
	errs     chan error
	done     chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	closeOnce sync.Once
}

// New creates a client for the given relay URL, which already addresses the
// session and endpoint (ws://host/ws/session/<sessionId>?endpointId=<id>).
func New(url string, log logging.LeveledLogger) *Client {
	return &Client{
		url:      url,
		log:      log,
		incoming: make(chan models.SignalMessage, 16),
		outgoing: make(chan models.SignalMessage, outgoingCapacity),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the relay and starts the read and write pumps.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect signaling relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return conn, nil
}

// Send queues a message for delivery. Delivery is best effort; a full queue
// or a closed client drops the message, which stalls negotiation and is
// caught by the endpoint's negotiation timeout.
func (c *Client) Send(msg models.SignalMessage) error {
	select {
	case <-c.done:
		return ErrSignalingUnavailable
	case c.outgoing <- msg:
		return nil
	default:
		return fmt.Errorf("signaling send queue full")
	}
}

// Incoming returns the channel of relayed messages. It is closed when the
// connection is permanently gone.
func (c *Client) Incoming() <-chan models.SignalMessage {
	return c.incoming
}

// Errors reports a terminal transport failure (reconnection exhausted).
func (c *Client) Errors() <-chan error {
	return c.errs
}

func (c *Client) readPump() {
	defer close(c.incoming)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		var msg models.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if !c.reconnect() {
				select {
				case c.errs <- ErrSignalingUnavailable:
				default:
				}
				return
			}
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// reconnect redials with exponential backoff inside a bounded window. The
// relay re-announces the join to the partner, so negotiation state carried
// in flight is simply retransmitted by the endpoint layer.
func (c *Client) reconnect() bool {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = reconnectWindow

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		select {
		case <-c.done:
			return backoff.Permanent(ErrSignalingUnavailable)
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dialed, err := c.dial(ctx)
		if err != nil {
			c.log.Warnf("signaling redial failed: %v", err)
			return err
		}
		conn = dialed
		return nil
	}, policy)
	if err != nil {
		return false
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	c.log.Info("signaling relay reconnected")
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outgoing:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				c.log.Warnf("signaling write failed: %v", err)
			}

		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warnf("signaling ping failed: %v", err)
			}

		case <-c.done:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	return nil
}
