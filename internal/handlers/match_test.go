package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mediline/consult/internal/matchmaker"
	"github.com/mediline/consult/internal/models"
)

func newMatchRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mm := matchmaker.New(matchmaker.NewMemoryRegistry(60 * time.Second))
	router := gin.New()
	router.POST("/api/match", RegisterMatch(mm, "general"))
	router.GET("/api/match/:endpointId", PollMatch(mm))
	router.DELETE("/api/match/:endpointId", CancelMatch(mm, "general"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, models.MatchResult) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var res models.MatchResult
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, res
}

func TestMatchFlow(t *testing.T) {
	router := newMatchRouter(t)

	w, res := doJSON(t, router, http.MethodPost, "/api/match", `{"endpointId": "A"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("register A: status=%d body=%s", w.Code, w.Body.String())
	}
	if res.Status != models.MatchStatusWaiting {
		t.Fatalf("A status=%s, want waiting", res.Status)
	}

	w, res = doJSON(t, router, http.MethodGet, "/api/match/A", "")
	if w.Code != http.StatusOK || res.Status != models.MatchStatusWaiting {
		t.Fatalf("poll before match: status=%d res=%+v", w.Code, res)
	}

	w, res = doJSON(t, router, http.MethodPost, "/api/match", `{"endpointId": "B"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("register B: status=%d body=%s", w.Code, w.Body.String())
	}
	if res.Status != models.MatchStatusMatched || res.PartnerID != "A" || res.Role != models.RoleCaller {
		t.Fatalf("B result: %+v", res)
	}
	sessionID := res.SessionID

	w, res = doJSON(t, router, http.MethodGet, "/api/match/A", "")
	if w.Code != http.StatusOK {
		t.Fatalf("poll A: status=%d", w.Code)
	}
	if res.Status != models.MatchStatusMatched || res.PartnerID != "B" || res.Role != models.RoleCallee {
		t.Fatalf("A result: %+v", res)
	}
	if res.SessionID != sessionID {
		t.Fatalf("session IDs differ: %q vs %q", res.SessionID, sessionID)
	}
}

func TestRegisterMatchRejectsMissingEndpointID(t *testing.T) {
	router := newMatchRouter(t)
	w, _ := doJSON(t, router, http.MethodPost, "/api/match", `{"queue": "general"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}
}

func TestCancelMatch(t *testing.T) {
	router := newMatchRouter(t)

	doJSON(t, router, http.MethodPost, "/api/match", `{"endpointId": "A"}`)

	req := httptest.NewRequest(http.MethodDelete, "/api/match/A", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: status=%d", w.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode cancel response: %v", err)
	}
	if !body["removed"] {
		t.Fatal("cancel removed nothing")
	}

	_, res := doJSON(t, router, http.MethodPost, "/api/match", `{"endpointId": "B"}`)
	if res.Status != models.MatchStatusWaiting {
		t.Fatalf("B matched a cancelled entry: %+v", res)
	}
}
