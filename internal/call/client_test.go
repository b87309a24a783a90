package call

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mediline/consult/internal/models"
)

func newTestClient(srv *httptest.Server, opts Options) *Client {
	opts.ServerURL = srv.URL
	return NewClient(opts, nil, Events{})
}

func TestWaitForMatchImmediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/match" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req models.RegisterRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.EndpointID != "E1" {
			t.Errorf("endpointId=%q", req.EndpointID)
		}
		json.NewEncoder(w).Encode(models.MatchResult{
			Status:    models.MatchStatusMatched,
			PartnerID: "E2",
			SessionID: "s1",
			Role:      models.RoleCaller,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{})
	res, err := c.waitForMatch(context.Background(), "E1")
	if err != nil {
		t.Fatalf("waitForMatch: %v", err)
	}
	if res.PartnerID != "E2" || res.Role != models.RoleCaller {
		t.Fatalf("result: %+v", res)
	}
}

func TestWaitForMatchPollsUntilMatched(t *testing.T) {
	var polls atomic.Int32
	waiting := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/match":
			json.NewEncoder(w).Encode(models.MatchResult{Status: models.MatchStatusWaiting})
		case r.Method == http.MethodGet && r.URL.Path == "/api/match/E1":
			if polls.Add(1) < 3 {
				json.NewEncoder(w).Encode(models.MatchResult{Status: models.MatchStatusWaiting})
				return
			}
			json.NewEncoder(w).Encode(models.MatchResult{
				Status:    models.MatchStatusMatched,
				PartnerID: "E2",
				SessionID: "s1",
				Role:      models.RoleCallee,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{PollInterval: 10 * time.Millisecond})
	c.events.OnWaiting = func() { waiting = true }

	res, err := c.waitForMatch(context.Background(), "E1")
	if err != nil {
		t.Fatalf("waitForMatch: %v", err)
	}
	if res.Role != models.RoleCallee {
		t.Fatalf("role=%s, want callee", res.Role)
	}
	if !waiting {
		t.Fatal("waiting hook never fired")
	}
	if n := polls.Load(); n < 3 {
		t.Fatalf("polls=%d, want at least 3", n)
	}
}

func TestWaitForMatchTimeoutCancelsRegistration(t *testing.T) {
	var cancelled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(models.MatchResult{Status: models.MatchStatusWaiting})
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(models.MatchResult{Status: models.MatchStatusWaiting})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/match/E1":
			cancelled.Store(true)
			json.NewEncoder(w).Encode(map[string]bool{"removed": true})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{
		PollInterval: 10 * time.Millisecond,
		MaxWait:      50 * time.Millisecond,
	})
	_, err := c.waitForMatch(context.Background(), "E1")
	if !errors.Is(err, ErrMatchTimedOut) {
		t.Fatalf("err=%v, want %v", err, ErrMatchTimedOut)
	}
	if !cancelled.Load() {
		t.Fatal("waiting entry was not removed on timeout")
	}
}

func TestWaitForMatchContextCancelRemovesEntry(t *testing.T) {
	var cancelled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			cancelled.Store(true)
			json.NewEncoder(w).Encode(map[string]bool{"removed": true})
			return
		}
		json.NewEncoder(w).Encode(models.MatchResult{Status: models.MatchStatusWaiting})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	c := newTestClient(srv, Options{PollInterval: 10 * time.Millisecond})
	_, err := c.waitForMatch(ctx, "E1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if !cancelled.Load() {
		t.Fatal("waiting entry was not removed on cancel")
	}
}

func TestFetchICEServersSurvivesServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broker unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{})
	if servers := c.fetchICEServers(context.Background()); servers != nil {
		t.Fatalf("servers=%v, want nil on failure", servers)
	}
}

func TestFetchICEServersConverts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ice" {
			t.Errorf("path=%s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(models.RelayCredentialSet{
			Servers: []models.ICEServer{
				{URLs: models.StringList{"stun:stun.example.com"}},
				{URLs: models.StringList{"turn:relay.example.com"}, Username: "u", Credential: "c"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{})
	servers := c.fetchICEServers(context.Background())
	if len(servers) != 2 {
		t.Fatalf("servers=%d, want 2", len(servers))
	}
	if servers[1].Username != "u" {
		t.Fatalf("turn username=%q", servers[1].Username)
	}
}

func TestLoginStoresBearerToken(t *testing.T) {
	var sawAuth atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			json.NewEncoder(w).Encode(LoginResult{Token: "tok-123", UserID: "alice", EndpointID: "E1"})
		case "/api/ice":
			if r.Header.Get("Authorization") == "Bearer tok-123" {
				sawAuth.Store(true)
			}
			json.NewEncoder(w).Encode(models.RelayCredentialSet{})
		}
	}))
	defer srv.Close()

	api := NewAPI(srv.URL)
	res, err := api.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.EndpointID != "E1" {
		t.Fatalf("endpointID=%q", res.EndpointID)
	}
	if _, err := api.FetchICE(context.Background()); err != nil {
		t.Fatalf("fetch ice: %v", err)
	}
	if !sawAuth.Load() {
		t.Fatal("bearer token not sent on subsequent requests")
	}
}

func TestSessionURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws/session/s1?endpointId=E1"},
		{"https://consult.example.com", "wss://consult.example.com/ws/session/s1?endpointId=E1"},
		{"https://consult.example.com/", "wss://consult.example.com/ws/session/s1?endpointId=E1"},
	}
	for _, tt := range tests {
		api := NewAPI(tt.base)
		if got := api.SessionURL("s1", "E1"); got != tt.want {
			t.Fatalf("SessionURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestAPIErrorsIncludeServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "session full"})
	}))
	defer srv.Close()

	api := NewAPI(srv.URL)
	_, err := api.PollMatch(context.Background(), "E1")
	if err == nil || !strings.Contains(err.Error(), "session full") {
		t.Fatalf("err=%v, want server message included", err)
	}
}
