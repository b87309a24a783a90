package call

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mediline/consult/internal/models"
)

// API is the participant's client for the consultation server's HTTP
// surface: login, relay credentials, and waiting-room matchmaking.
type API struct {
	baseURL string
	client  *http.Client
	token   string
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// LoginResult carries the bearer token and the endpoint identifier the
// signaling infrastructure assigned to this participant.
type LoginResult struct {
	Token      string `json:"token"`
	UserID     string `json:"user_id"`
	EndpointID string `json:"endpointId"`
}

func (a *API) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var res LoginResult
	err := a.do(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"username": username, "password": password}, &res)
	if err != nil {
		return LoginResult{}, err
	}
	a.token = res.Token
	return res, nil
}

func (a *API) FetchICE(ctx context.Context) (models.RelayCredentialSet, error) {
	var set models.RelayCredentialSet
	err := a.do(ctx, http.MethodGet, "/api/ice", nil, &set)
	return set, err
}

func (a *API) RegisterMatch(ctx context.Context, endpointID, queue string) (models.MatchResult, error) {
	var res models.MatchResult
	err := a.do(ctx, http.MethodPost, "/api/match",
		models.RegisterRequest{EndpointID: endpointID, Queue: queue}, &res)
	return res, err
}

func (a *API) PollMatch(ctx context.Context, endpointID string) (models.MatchResult, error) {
	var res models.MatchResult
	err := a.do(ctx, http.MethodGet, "/api/match/"+url.PathEscape(endpointID), nil, &res)
	return res, err
}

func (a *API) CancelMatch(ctx context.Context, endpointID, queue string) error {
	path := "/api/match/" + url.PathEscape(endpointID)
	if queue != "" {
		path += "?queue=" + url.QueryEscape(queue)
	}
	return a.do(ctx, http.MethodDelete, path, nil, nil)
}

// SessionURL is the websocket address for joining a session on the relay.
func (a *API) SessionURL(sessionID, endpointID string) string {
	wsBase := a.baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return fmt.Sprintf("%s/ws/session/%s?endpointId=%s",
		wsBase, url.PathEscape(sessionID), url.QueryEscape(endpointID))
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
