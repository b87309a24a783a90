// Package call drives a complete consultation attempt for one participant:
// acquire local media, obtain relay credentials, queue in the waiting room
// until matched, then run the session endpoint until it ends.
package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mediline/consult/internal/endpoint"
	"github.com/mediline/consult/internal/media"
	"github.com/mediline/consult/internal/models"
	"github.com/mediline/consult/internal/signalclient"
	"github.com/mediline/consult/internal/turncred"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// ErrMatchTimedOut reports that no partner became available within the
// waiting window.
var ErrMatchTimedOut = errors.New("no partner available within the waiting window")

// Events are the hooks the surrounding application (which owns the UI)
// consumes from the calling core. All hooks are optional.
type Events struct {
	OnLocalStreamReady       func(*media.Handle)
	OnRemoteStreamReady      func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnConnectionStateChanged func(endpoint.State)
	OnSessionEnded           func(endpoint.EndReason)
	OnWaiting                func()
}

// Options configures one call attempt.
type Options struct {
	ServerURL string
	Username  string
	Password  string
	Queue     string

	Constraints media.Constraints

	// PollInterval is how often a waiting endpoint re-checks for a partner;
	// RegisterRefresh re-registers to keep the waiting entry from expiring;
	// MaxWait bounds the whole wait.
	PollInterval    time.Duration
	RegisterRefresh time.Duration
	MaxWait         time.Duration

	MediaTimeout       time.Duration
	CredentialTimeout  time.Duration
	NegotiationTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

func (o Options) withDefaults() Options {
	if o.PollInterval == 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.RegisterRefresh == 0 {
		o.RegisterRefresh = 30 * time.Second
	}
	if o.MaxWait == 0 {
		o.MaxWait = 5 * time.Minute
	}
	if o.MediaTimeout == 0 {
		o.MediaTimeout = 15 * time.Second
	}
	if o.CredentialTimeout == 0 {
		o.CredentialTimeout = 10 * time.Second
	}
	if o.NegotiationTimeout == 0 {
		o.NegotiationTimeout = 30 * time.Second
	}
	if o.LoggerFactory == nil {
		o.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return o
}

// Client runs call attempts against a consultation server.
type Client struct {
	opts     Options
	api      *API
	acquirer media.Acquirer
	events   Events
	log      logging.LeveledLogger
}

func NewClient(opts Options, acquirer media.Acquirer, events Events) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:     opts,
		api:      NewAPI(opts.ServerURL),
		acquirer: acquirer,
		events:   events,
		log:      opts.LoggerFactory.NewLogger("call"),
	}
}

// Run performs one complete call attempt and reports why it ended. Media
// and credential acquisition are independently bounded; cancelling ctx at
// any point removes the waiting entry before returning.
func (c *Client) Run(ctx context.Context) (endpoint.EndReason, error) {
	login, err := c.api.Login(ctx, c.opts.Username, c.opts.Password)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	endpointID := login.EndpointID
	c.log.Infof("registered as endpoint %s", endpointID)

	mediaCtx, cancelMedia := context.WithTimeout(ctx, c.opts.MediaTimeout)
	handle, err := c.acquirer.Acquire(mediaCtx, c.opts.Constraints)
	cancelMedia()
	if err != nil {
		return "", err
	}
	defer handle.Release()
	if c.events.OnLocalStreamReady != nil {
		c.events.OnLocalStreamReady(handle)
	}

	iceServers := c.fetchICEServers(ctx)

	match, err := c.waitForMatch(ctx, endpointID)
	if err != nil {
		return "", err
	}
	c.log.Infof("matched with %s as %s (session %s)", match.PartnerID, match.Role, match.SessionID)

	sig := signalclient.New(
		c.api.SessionURL(match.SessionID, endpointID),
		c.opts.LoggerFactory.NewLogger("signaling"),
	)
	if err := sig.Connect(ctx); err != nil {
		return "", err
	}

	ep, err := endpoint.New(endpoint.Config{
		EndpointID:         endpointID,
		SessionID:          match.SessionID,
		Role:               match.Role,
		ICEServers:         iceServers,
		NegotiationTimeout: c.opts.NegotiationTimeout,
		Log:                c.opts.LoggerFactory.NewLogger("endpoint"),
	}, sig, handle)
	if err != nil {
		sig.Close()
		return "", err
	}

	var reason endpoint.EndReason
	ep.OnStateChange(func(s endpoint.State) {
		if c.events.OnConnectionStateChanged != nil {
			c.events.OnConnectionStateChanged(s)
		}
	})
	ep.OnRemoteTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if c.events.OnRemoteStreamReady != nil {
			c.events.OnRemoteStreamReady(track, receiver)
		}
	})
	ep.OnEnded(func(r endpoint.EndReason) {
		reason = r
		if c.events.OnSessionEnded != nil {
			c.events.OnSessionEnded(r)
		}
	})

	err = ep.Run(ctx)
	return reason, err
}

// fetchICEServers never blocks call setup on the credential path: a broker
// or server failure just means connecting without relay servers.
func (c *Client) fetchICEServers(ctx context.Context) []webrtc.ICEServer {
	credCtx, cancel := context.WithTimeout(ctx, c.opts.CredentialTimeout)
	defer cancel()

	set, err := c.api.FetchICE(credCtx)
	if err != nil {
		c.log.Warnf("relay credential fetch failed, continuing without: %v", err)
		return nil
	}
	if set.Fallback {
		c.log.Info("using fallback relay credentials")
	}
	return turncred.ICEServers(set)
}

// waitForMatch registers with the waiting room and polls until matched,
// cancelled, or timed out. Cancellation synchronously removes the waiting
// entry so no late match is delivered to a participant no longer listening.
func (c *Client) waitForMatch(ctx context.Context, endpointID string) (models.MatchResult, error) {
	res, err := c.api.RegisterMatch(ctx, endpointID, c.opts.Queue)
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("register for matching: %w", err)
	}
	if res.Status == models.MatchStatusMatched {
		return res, nil
	}

	if c.events.OnWaiting != nil {
		c.events.OnWaiting()
	}

	poll := time.NewTicker(c.opts.PollInterval)
	defer poll.Stop()
	refresh := time.NewTicker(c.opts.RegisterRefresh)
	defer refresh.Stop()
	deadline := time.NewTimer(c.opts.MaxWait)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			c.cancelRegistration(endpointID)
			return models.MatchResult{}, ctx.Err()

		case <-deadline.C:
			c.cancelRegistration(endpointID)
			return models.MatchResult{}, ErrMatchTimedOut

		case <-poll.C:
			res, err := c.api.PollMatch(ctx, endpointID)
			if err != nil {
				c.log.Warnf("match poll failed: %v", err)
				continue
			}
			if res.Status == models.MatchStatusMatched {
				return res, nil
			}

		case <-refresh.C:
			res, err := c.api.RegisterMatch(ctx, endpointID, c.opts.Queue)
			if err != nil {
				c.log.Warnf("re-registration failed: %v", err)
				continue
			}
			if res.Status == models.MatchStatusMatched {
				return res, nil
			}
		}
	}
}

// cancelRegistration runs on its own short context because the caller's
// context is typically already cancelled when we get here.
func (c *Client) cancelRegistration(endpointID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.api.CancelMatch(ctx, endpointID, c.opts.Queue); err != nil {
		c.log.Warnf("cancel registration: %v", err)
	}
}
