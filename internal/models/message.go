package models

import "encoding/json"

// SignalType represents the type of a session-control message
type SignalType string

const (
	SignalTypeJoin      SignalType = "join"
	SignalTypeLeave     SignalType = "leave"
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
	SignalTypeError     SignalType = "error"
)

// SignalMessage is a session-control message relayed between the two
// endpoints of a session. Payload carries the SDP description for
// offer/answer and the ICE candidate for candidate messages.
type SignalMessage struct {
	Type      SignalType      `json:"type"`
	From      string          `json:"from,omitempty"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// DescriptionPayload is the payload of offer and answer messages.
type DescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// EncodeSignal builds a SignalMessage with the given payload.
func EncodeSignal(t SignalType, sessionID string, payload any) (SignalMessage, error) {
	msg := SignalMessage{Type: t, SessionID: sessionID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return SignalMessage{}, err
		}
		msg.Payload = data
	}
	return msg, nil
}
