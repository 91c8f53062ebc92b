// Package falcon provides a client for the CrowdStrike Falcon control-plane
// endpoints used by the event stream: OAuth2 token minting, stream discovery,
// and the refresh-active-session action.
package falcon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	tokenPath         = "/oauth2/token"
	listStreamsPath   = "/sensors/entities/datafeed/v2"
	refreshStreamPath = "/sensors/entities/datafeed-actions/v1/%s"

	refreshActionName = "refresh_active_stream_session"
)

// Version is injected at build time via ldflags.
var Version = "dev"

// AuthenticationError indicates the backend did not return an access token.
// Not retried at this layer; retry policy belongs to the caller.
type AuthenticationError struct {
	StatusCode int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("falcon authentication failed (status %d): check credentials and cloud region", e.StatusCode)
}

// DiscoveryError indicates the stream discovery call failed. A successful
// call with zero partitions is not a DiscoveryError.
type DiscoveryError struct {
	StatusCode int
	Err        error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("falcon stream discovery failed: %v", e.Err)
	}
	return fmt.Sprintf("falcon stream discovery failed (status %d)", e.StatusCode)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// SessionToken is the short-lived bearer credential authorizing reads on one
// partition's data feed. Distinct from the OAuth2 access token.
type SessionToken struct {
	Token      string `json:"token"`
	Expiration string `json:"expiration"`
}

// StreamDescriptor is one partition as returned by discovery. Immutable
// snapshot; superseded by a refresh rather than mutated.
type StreamDescriptor struct {
	DataFeedURL             string       `json:"dataFeedURL"`
	SessionToken            SessionToken `json:"sessionToken"`
	RefreshActiveSessionURL string       `json:"refreshActiveSessionURL"`
	RefreshInterval         int64        `json:"refreshActiveSessionInterval"`
}

// Client calls the Falcon control-plane API. It is safe for concurrent use.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   *http.Client
}

// Config holds client construction parameters.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Timeout      time.Duration
}

// NewClient creates a new control-plane client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the resolved regional API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate mints an OAuth2 access token using the client-credentials
// flow. Returns an AuthenticationError when the backend rejects the
// credentials or returns no token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil || tr.AccessToken == "" {
		return "", &AuthenticationError{StatusCode: resp.StatusCode}
	}
	return tr.AccessToken, nil
}

type discoveryResponse struct {
	Resources []StreamDescriptor `json:"resources"`
	Errors    []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ListAvailableStreams asks the backend which partitions exist for the given
// consumer label. An empty slice with a nil error means there is nothing to
// stream; callers must treat that as a clean no-op, not a failure.
func (c *Client) ListAvailableStreams(ctx context.Context, token, appID string) ([]StreamDescriptor, error) {
	u := c.baseURL + listStreamsPath + "?appId=" + url.QueryEscape(appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &DiscoveryError{StatusCode: resp.StatusCode}
	}

	var dr discoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, &DiscoveryError{Err: fmt.Errorf("failed to decode discovery response: %w", err)}
	}
	return dr.Resources, nil
}

// RefreshStream performs the refresh-active-stream-session action for one
// partition. The appID is passed as an ownership key so the backend keeps
// routing this partition to the same consumer. Returns true only on HTTP 200.
func (c *Client) RefreshStream(ctx context.Context, token, partition, appID string) (bool, error) {
	u := fmt.Sprintf(c.baseURL+refreshStreamPath, partition) +
		"?action_name=" + refreshActionName + "&appId=" + url.QueryEscape(appID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "falconstream/"+Version)
}
