package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SessionState tracks the lifecycle of a two-party session.
type SessionState string

const (
	SessionForming SessionState = "forming"
	SessionActive  SessionState = "active"
	SessionEnded   SessionState = "ended"
)

// Session is the pairing of exactly two endpoints for one call.
type Session struct {
	ID           string       `json:"id"`
	Participants [2]string    `json:"participants"`
	CreatedAt    time.Time    `json:"createdAt"`
	State        SessionState `json:"state"`
}

// Role is assigned at match time. The endpoint that completed the pair
// originates the offer; the endpoint that was waiting answers it.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// MatchStatus is the outcome of a matchmaking pass.
type MatchStatus string

const (
	MatchStatusMatched  MatchStatus = "matched"
	MatchStatusWaiting  MatchStatus = "waiting"
	MatchStatusTimedOut MatchStatus = "timed_out"
)

// MatchResult is returned to a registering endpoint and delivered to the
// passive partner when a pair forms.
type MatchResult struct {
	Status    MatchStatus `json:"status"`
	PartnerID string      `json:"partnerId,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Role      Role        `json:"role,omitempty"`
}

// RegisterRequest is the body of POST /api/match.
type RegisterRequest struct {
	EndpointID string `json:"endpointId" binding:"required"`
	Queue      string `json:"queue,omitempty"`
}

// SessionIDFor derives the session identifier for a pair of endpoints. It is
// order-independent, so both sides of a match compute the same ID.
func SessionIDFor(a, b string) string {
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + "\x00" + b))
	return hex.EncodeToString(sum[:16])
}
