// Package endpoint wraps the local half of a point-to-point consultation
// session: it originates or answers the session offer, trickles network
// candidates through the signaling relay, and drives an explicit state
// machine from the messages and transport events it receives.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mediline/consult/internal/media"
	"github.com/mediline/consult/internal/models"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrNegotiationTimeout reports that no answer or connectivity arrived
	// within the negotiation window.
	ErrNegotiationTimeout = errors.New("negotiation timed out")

	// ErrTransportFailed reports an unrecoverable transport-level failure.
	ErrTransportFailed = errors.New("transport failed")
)

// Signaler is the endpoint's connection to the signaling relay.
type Signaler interface {
	Send(msg models.SignalMessage) error
	Incoming() <-chan models.SignalMessage
	Errors() <-chan error
	Close() error
}

// Config describes one endpoint of a matched session.
type Config struct {
	EndpointID string
	SessionID  string
	Role       models.Role
	ICEServers []webrtc.ICEServer

	// NegotiationTimeout bounds the window between starting negotiation and
	// reaching Connected.
	NegotiationTimeout time.Duration

	Log logging.LeveledLogger
}

// Endpoint is owned by a single goroutine-facing consumer; Run drives it to
// a terminal state.
type Endpoint struct {
	cfg    Config
	log    logging.LeveledLogger
	pc     *webrtc.PeerConnection
	sig    Signaler
	handle *media.Handle

	onStateChange func(State)
	onRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onEnded       func(EndReason)

	state         State
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit

	pcStates chan webrtc.PeerConnectionState
	hangup   chan struct{}
}

// New builds the endpoint, attaches local media (or receive-only
// transceivers when handle is nil), and moves it to Registering.
func New(cfg Config, sig Signaler, handle *media.Handle) (*Endpoint, error) {
	if cfg.NegotiationTimeout == 0 {
		cfg.NegotiationTimeout = 30 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logging.NewDefaultLoggerFactory().NewLogger("endpoint")
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	e := &Endpoint{
		cfg:      cfg,
		log:      cfg.Log,
		pc:       pc,
		sig:      sig,
		handle:   handle,
		state:    StateIdle,
		pcStates: make(chan webrtc.PeerConnectionState, 8),
		hangup:   make(chan struct{}),
	}

	if handle != nil {
		if err := handle.Attach(pc); err != nil {
			pc.Close()
			return nil, err
		}
	} else {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add transceiver: %w", err)
			}
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		msg, err := models.EncodeSignal(models.SignalTypeCandidate, cfg.SessionID, c.ToJSON())
		if err != nil {
			e.log.Errorf("encode candidate: %v", err)
			return
		}
		if err := sig.Send(msg); err != nil {
			e.log.Warnf("send candidate: %v", err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.log.Infof("remote %s track %s", track.Kind(), track.ID())
		if e.onRemoteTrack != nil {
			e.onRemoteTrack(track, receiver)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		select {
		case e.pcStates <- s:
		default:
		}
	})

	e.setState(StateRegistering)
	return e, nil
}

// OnStateChange registers the connection-state observer. Set before Run.
func (e *Endpoint) OnStateChange(f func(State)) { e.onStateChange = f }

// OnRemoteTrack registers the remote-media observer. Set before Run.
func (e *Endpoint) OnRemoteTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	e.onRemoteTrack = f
}

// OnEnded registers the terminal-state observer. Set before Run.
func (e *Endpoint) OnEnded(f func(EndReason)) { e.onEnded = f }

// State returns the current state. Only the Run goroutine mutates it, so
// observers should prefer OnStateChange.
func (e *Endpoint) State() State { return e.state }

// SetAudioEnabled toggles microphone delivery without renegotiation.
func (e *Endpoint) SetAudioEnabled(enabled bool) error {
	if e.handle == nil {
		return nil
	}
	return e.handle.SetAudioEnabled(enabled)
}

// SetVideoEnabled toggles camera delivery without renegotiation.
func (e *Endpoint) SetVideoEnabled(enabled bool) error {
	if e.handle == nil {
		return nil
	}
	return e.handle.SetVideoEnabled(enabled)
}

// Hangup asks the Run loop to end the session locally. Safe to call once.
func (e *Endpoint) Hangup() {
	select {
	case <-e.hangup:
	default:
		close(e.hangup)
	}
}

// Run drives negotiation until the session reaches Ended or Failed. It
// returns nil when the session ended gracefully (either side hung up) and
// the terminal error otherwise. The endpoint must not be reused afterwards.
func (e *Endpoint) Run(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.NegotiationTimeout)
	defer timer.Stop()

	if e.cfg.Role == models.RoleCaller {
		if err := e.sendOffer(); err != nil {
			return e.fail(ReasonTransportFailed, err)
		}
	}

	for {
		select {
		case msg, ok := <-e.sig.Incoming():
			if !ok {
				return e.fail(ReasonSignalingLost, ErrTransportFailed)
			}
			if msg.From == e.cfg.EndpointID {
				continue
			}
			done, err := e.handleSignal(msg)
			if done || err != nil {
				return err
			}

		case err := <-e.sig.Errors():
			return e.fail(ReasonSignalingLost, err)

		case s := <-e.pcStates:
			switch s {
			case webrtc.PeerConnectionStateConnected:
				timer.Stop()
				e.setState(StateConnected)
			case webrtc.PeerConnectionStateFailed:
				return e.fail(ReasonTransportFailed, ErrTransportFailed)
			case webrtc.PeerConnectionStateDisconnected:
				e.log.Warn("transport disconnected, waiting for recovery")
			}

		case <-timer.C:
			if e.state != StateConnected {
				return e.fail(ReasonNegotiationTimeout, ErrNegotiationTimeout)
			}

		case <-e.hangup:
			return e.end(ReasonLocalHangup)

		case <-ctx.Done():
			return e.end(ReasonLocalHangup)
		}
	}
}

// handleSignal applies one relayed message. done is true when the session
// reached Ended.
func (e *Endpoint) handleSignal(msg models.SignalMessage) (done bool, err error) {
	switch msg.Type {
	case models.SignalTypeJoin:
		// The partner (re)joined. Nothing is buffered by the relay, so the
		// caller retransmits its current offer.
		if e.cfg.Role == models.RoleCaller && e.state == StateOffering {
			if desc := e.pc.LocalDescription(); desc != nil {
				e.sendDescription(models.SignalTypeOffer, desc)
			}
		}

	case models.SignalTypeOffer:
		if e.cfg.Role != models.RoleCallee {
			e.log.Warnf("ignoring offer in role %s", e.cfg.Role)
			return false, nil
		}
		e.setState(StateAnswering)
		if err := e.acceptOffer(msg.Payload); err != nil {
			return false, e.fail(ReasonTransportFailed, err)
		}
		e.setState(StateConnecting)

	case models.SignalTypeAnswer:
		if e.cfg.Role != models.RoleCaller {
			e.log.Warnf("ignoring answer in role %s", e.cfg.Role)
			return false, nil
		}
		if err := e.acceptAnswer(msg.Payload); err != nil {
			return false, e.fail(ReasonTransportFailed, err)
		}
		e.setState(StateConnecting)

	case models.SignalTypeCandidate:
		if err := e.addCandidate(msg.Payload); err != nil {
			e.log.Warnf("add candidate: %v", err)
		}

	case models.SignalTypeLeave:
		return true, e.end(ReasonPartnerDisconnected)

	case models.SignalTypeError:
		return false, e.fail(ReasonTransportFailed, fmt.Errorf("relay error: %s", msg.Error))
	}
	return false, nil
}

func (e *Endpoint) sendOffer() error {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	e.setState(StateOffering)
	e.sendDescription(models.SignalTypeOffer, &offer)
	return nil
}

func (e *Endpoint) acceptOffer(payload json.RawMessage) error {
	desc, err := decodeDescription(payload)
	if err != nil {
		return err
	}
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	e.flushCandidates()

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	e.sendDescription(models.SignalTypeAnswer, &answer)
	return nil
}

func (e *Endpoint) acceptAnswer(payload json.RawMessage) error {
	desc, err := decodeDescription(payload)
	if err != nil {
		return err
	}
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	e.flushCandidates()
	return nil
}

func (e *Endpoint) addCandidate(payload json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	// Candidates can outrun the description; hold them until it lands.
	if !e.remoteDescSet {
		e.pending = append(e.pending, candidate)
		return nil
	}
	return e.pc.AddICECandidate(candidate)
}

func (e *Endpoint) flushCandidates() {
	e.remoteDescSet = true
	for _, candidate := range e.pending {
		if err := e.pc.AddICECandidate(candidate); err != nil {
			e.log.Warnf("add buffered candidate: %v", err)
		}
	}
	e.pending = nil
}

func (e *Endpoint) sendDescription(t models.SignalType, desc *webrtc.SessionDescription) {
	msg, err := models.EncodeSignal(t, e.cfg.SessionID, models.DescriptionPayload{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	})
	if err != nil {
		e.log.Errorf("encode %s: %v", t, err)
		return
	}
	if err := e.sig.Send(msg); err != nil {
		e.log.Warnf("send %s: %v", t, err)
	}
}

func decodeDescription(payload json.RawMessage) (webrtc.SessionDescription, error) {
	var p models.DescriptionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode description: %w", err)
	}
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(p.Type),
		SDP:  p.SDP,
	}, nil
}

func (e *Endpoint) setState(s State) {
	if e.state == s || e.state.Terminal() {
		return
	}
	e.log.Infof("state %s -> %s", e.state, s)
	e.state = s
	if e.onStateChange != nil {
		e.onStateChange(s)
	}
}

// end closes the session gracefully: the partner is told we are leaving and
// the terminal state is Ended.
func (e *Endpoint) end(reason EndReason) error {
	if e.state.Terminal() {
		return nil
	}
	leave := models.SignalMessage{Type: models.SignalTypeLeave, SessionID: e.cfg.SessionID}
	if err := e.sig.Send(leave); err != nil {
		e.log.Warnf("send leave: %v", err)
	}
	e.teardown(StateEnded, reason)
	return nil
}

// fail marks the endpoint Failed and reports err to the caller so the
// application can notify the matchmaker and reset to waiting.
func (e *Endpoint) fail(reason EndReason, err error) error {
	if e.state.Terminal() {
		return nil
	}
	e.log.Errorf("session failed: %v", err)
	e.teardown(StateFailed, reason)
	return err
}

func (e *Endpoint) teardown(terminal State, reason EndReason) {
	e.setState(terminal)
	if err := e.pc.Close(); err != nil {
		e.log.Warnf("close peer connection: %v", err)
	}
	e.sig.Close()
	if e.onEnded != nil {
		e.onEnded(reason)
	}
}
