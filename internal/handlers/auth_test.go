package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestLoginIssuesTokenAndEndpointID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/auth/login", Login("test-secret"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username": "alice", "password": "pw"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var res LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.EndpointID == "" {
		t.Fatal("no endpoint ID assigned")
	}

	token, err := jwt.ParseWithClaims(res.Token, &JWTClaims{}, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token invalid: %v", err)
	}
	if claims := token.Claims.(*JWTClaims); claims.UserID != "alice" {
		t.Fatalf("UserID=%q, want alice", claims.UserID)
	}
}

func TestLoginRejectsMissingCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/auth/login", Login("test-secret"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username": "alice"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}
}
