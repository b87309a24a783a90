package endpoint

// State is the lifecycle of a session peer endpoint. Failed is terminal and
// reachable from every non-terminal state; a failed endpoint is discarded
// and the application re-enters matchmaking, it is never retried in place.
type State int

const (
	StateIdle State = iota
	StateRegistering
	StateOffering
	StateAnswering
	StateConnecting
	StateConnected
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistering:
		return "registering"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// EndReason explains why a session reached a terminal state.
type EndReason string

const (
	ReasonPartnerDisconnected EndReason = "partner disconnected"
	ReasonLocalHangup         EndReason = "local hangup"
	ReasonNegotiationTimeout  EndReason = "negotiation timed out"
	ReasonTransportFailed     EndReason = "transport failed"
	ReasonSignalingLost       EndReason = "signaling connection lost"
)
