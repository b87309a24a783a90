// Package turncred obtains short-lived relay (TURN) credentials from an
// external broker. Connectivity degrades rather than blocks: any broker
// failure substitutes the static fallback set, so call setup never stalls on
// the credential path.
package turncred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mediline/consult/config"
	"github.com/mediline/consult/internal/models"
	"github.com/pion/webrtc/v4"
)

const fallbackTTL = 5 * time.Minute

// Provider fetches one RelayCredentialSet per call attempt. No retries and
// no caching: tokens are short-lived and call setup is infrequent relative
// to token lifetime, and the fallback is always available.
type Provider struct {
	brokerURL string
	apiKey    string
	timeout   time.Duration
	fallback  []models.ICEServer

	client *http.Client
}

func NewProvider(cfg config.TurnConfig) *Provider {
	var fallback []models.ICEServer
	if len(cfg.StunURLs) > 0 {
		fallback = append(fallback, models.ICEServer{URLs: cfg.StunURLs})
	}
	if len(cfg.FallbackURLs) > 0 {
		fallback = append(fallback, models.ICEServer{
			URLs:       cfg.FallbackURLs,
			Username:   cfg.FallbackUser,
			Credential: cfg.FallbackCred,
		})
	}
	return &Provider{
		brokerURL: cfg.BrokerURL,
		apiKey:    cfg.APIKey,
		timeout:   cfg.FetchTimeout,
		fallback:  fallback,
		client:    &http.Client{},
	}
}

// Fetch returns the broker-issued credential set, or the static fallback on
// any transport error, timeout, or non-2xx status. The error return is
// reserved for a cancelled context; broker failure is not an error here.
func (p *Provider) Fetch(ctx context.Context) (models.RelayCredentialSet, error) {
	if p.brokerURL == "" {
		return p.fallbackSet(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	servers, err := p.fetchFromBroker(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return models.RelayCredentialSet{}, ctx.Err()
		}
		return p.fallbackSet(), nil
	}

	return models.RelayCredentialSet{
		Servers:  servers,
		IssuedAt: time.Now(),
		TTL:      fallbackTTL,
	}, nil
}

func (p *Provider) fetchFromBroker(ctx context.Context) ([]models.ICEServer, error) {
	brokerURL, err := url.Parse(p.brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	query := brokerURL.Query()
	query.Set("apiKey", p.apiKey)
	brokerURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, brokerURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build broker request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("broker status %d", resp.StatusCode)
	}

	var servers []models.ICEServer
	if err := json.NewDecoder(resp.Body).Decode(&servers); err != nil {
		return nil, fmt.Errorf("decode broker response: %w", err)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("broker returned no servers")
	}
	return servers, nil
}

func (p *Provider) fallbackSet() models.RelayCredentialSet {
	servers := make([]models.ICEServer, len(p.fallback))
	copy(servers, p.fallback)
	return models.RelayCredentialSet{
		Servers:  servers,
		IssuedAt: time.Now(),
		TTL:      fallbackTTL,
		Fallback: true,
	}
}

// ICEServers converts a credential set into pion's configuration type.
func ICEServers(set models.RelayCredentialSet) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(set.Servers))
	for _, s := range set.Servers {
		server := webrtc.ICEServer{
			URLs:     s.URLs,
			Username: s.Username,
		}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
