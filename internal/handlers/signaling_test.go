package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mediline/consult/internal/models"
	"github.com/mediline/consult/internal/relay"
)

func newSignalingServer(t *testing.T) (*httptest.Server, *relay.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := relay.NewHub(nil)
	router := gin.New()
	router.GET("/ws/session/:sessionId", HandleSignaling(hub))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dialSession(t *testing.T, srv *httptest.Server, sessionID, endpointID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/" + sessionID + "?endpointId=" + endpointID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", endpointID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSignal(t *testing.T, conn *websocket.Conn) models.SignalMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg models.SignalMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestSignalForwardedOnlyToOtherEndpoint(t *testing.T) {
	srv, _ := newSignalingServer(t)

	connA := dialSession(t, srv, "s1", "A")
	if msg := readSignal(t, connA); msg.Type != models.SignalTypeJoin || msg.From != "A" {
		t.Fatalf("A join confirmation: %+v", msg)
	}

	connB := dialSession(t, srv, "s1", "B")
	if msg := readSignal(t, connB); msg.Type != models.SignalTypeJoin || msg.From != "B" {
		t.Fatalf("B join confirmation: %+v", msg)
	}
	if msg := readSignal(t, connA); msg.Type != models.SignalTypeJoin || msg.From != "B" {
		t.Fatalf("A join announcement: %+v", msg)
	}

	offer, err := models.EncodeSignal(models.SignalTypeOffer, "s1", models.DescriptionPayload{Type: "offer", SDP: "v=0"})
	if err != nil {
		t.Fatalf("encode offer: %v", err)
	}
	if err := connA.WriteJSON(offer); err != nil {
		t.Fatalf("write offer: %v", err)
	}

	got := readSignal(t, connB)
	if got.Type != models.SignalTypeOffer {
		t.Fatalf("B received %s, want offer", got.Type)
	}
	if got.From != "A" {
		t.Fatalf("relay must stamp the sender; From=%q", got.From)
	}

	// A must not get its own offer echoed back.
	connA.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var echo models.SignalMessage
	if err := connA.ReadJSON(&echo); err == nil {
		t.Fatalf("A received unexpected message: %+v", echo)
	}
}

func TestThirdJoinRejectedWithSessionFull(t *testing.T) {
	srv, _ := newSignalingServer(t)

	connA := dialSession(t, srv, "s1", "A")
	readSignal(t, connA)
	connB := dialSession(t, srv, "s1", "B")
	readSignal(t, connB)
	readSignal(t, connA) // B's join announcement; both joins are now complete

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/s1?endpointId=C"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("third join must be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("status=%v, want 409", resp)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	srv, _ := newSignalingServer(t)

	connA := dialSession(t, srv, "s1", "A")
	readSignal(t, connA)
	connX := dialSession(t, srv, "s2", "X")
	readSignal(t, connX)

	offer, _ := models.EncodeSignal(models.SignalTypeOffer, "s1", models.DescriptionPayload{Type: "offer", SDP: "v=0"})
	if err := connA.WriteJSON(offer); err != nil {
		t.Fatalf("write offer: %v", err)
	}

	connX.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var leaked models.SignalMessage
	if err := connX.ReadJSON(&leaked); err == nil {
		t.Fatalf("message leaked across sessions: %+v", leaked)
	}
}

func TestLeaveNotifiesRemainingEndpoint(t *testing.T) {
	srv, hub := newSignalingServer(t)

	connA := dialSession(t, srv, "s1", "A")
	readSignal(t, connA)
	connB := dialSession(t, srv, "s1", "B")
	readSignal(t, connB)
	readSignal(t, connA)

	connB.Close()

	got := readSignal(t, connA)
	if got.Type != models.SignalTypeLeave || got.From != "B" {
		t.Fatalf("A expected leave from B, got %+v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.MemberCount("s1") != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("member count=%d, want 1 after B left", hub.MemberCount("s1"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMissingEndpointIDRejected(t *testing.T) {
	srv, _ := newSignalingServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/s1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("join without endpointId must be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%v, want 400", resp)
	}
}
