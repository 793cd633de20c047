package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shawkym/matrixsync/pkg/log"
)

// DefaultAPIPath is the client-server API prefix appended to the homeserver.
const DefaultAPIPath = "/_matrix/client/r0"

// maxDiscard bounds how much of an error body is drained so the connection
// can be reused.
const maxDiscard = 64 << 10

// ClientConfig configures a Client.
type ClientConfig struct {
	// HomeserverURL is the homeserver root, e.g. https://matrix.org.
	HomeserverURL string
	// APIPath overrides DefaultAPIPath.
	APIPath string
	// HTTPClient is borrowed for every request and never closed.
	// http.DefaultClient is used when nil. Deadlines come from the request
	// context only, so a client-level Timeout shorter than the long-poll
	// timeout will cut sync calls short.
	HTTPClient *http.Client
}

// Client issues Matrix client-server API calls. It holds no per-user state;
// access tokens are passed per call. A Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	homeserver := cleanBaseURL(cfg.HomeserverURL)
	if homeserver == "" {
		return nil, errors.New("matrix: homeserver URL is required")
	}
	parsed, err := url.Parse(homeserver)
	if err != nil {
		return nil, fmt.Errorf("matrix: invalid homeserver URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("matrix: homeserver URL %q must use http or https", cfg.HomeserverURL)
	}

	apiPath := cfg.APIPath
	if apiPath == "" {
		apiPath = DefaultAPIPath
	}
	apiPath = "/" + strings.Trim(apiPath, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    homeserver + apiPath,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the API base every endpoint is resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges a user identifier and password for an access token.
func (c *Client) Login(ctx context.Context, user, password string) (*LoginResponse, error) {
	payload := LoginRequest{
		Type:     "m.login.password",
		Password: password,
		User:     user,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("matrix: failed to marshal login payload: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/login", "", nil, body)
	if err != nil {
		return nil, err
	}

	var result LoginResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &DecodeError{Type: "LoginResponse", Err: err}
	}
	if result.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}

	log.WithFields(map[string]interface{}{
		"user_id":     result.UserID,
		"home_server": result.HomeServer,
	}).Info("matrix login succeeded")
	return &result, nil
}

// Sync performs one sync call. It keeps no cursor; the caller supplies
// Since in params.
func (c *Client) Sync(ctx context.Context, accessToken string, params SyncParameters) (*SyncResponse, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodGet, "/sync", accessToken, params.Query(), nil)
	if err != nil {
		return nil, err
	}

	var result SyncResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if errors.Is(err, ErrDecode) {
			return nil, err
		}
		return nil, &DecodeError{Type: "SyncResponse", Err: err}
	}
	return &result, nil
}

// do sends one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path, accessToken string, query url.Values, body []byte) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("matrix: failed to create %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matrix: %s %s request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDiscard))
		log.WithFields(map[string]interface{}{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Debug("matrix request rejected")
		return nil, &HTTPStatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("matrix: failed to read %s response: %w", path, err)
	}
	log.WithFields(map[string]interface{}{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
		"bytes":  len(respBody),
	}).Debug("matrix request completed")
	return respBody, nil
}

func cleanBaseURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if idx := strings.Index(trimmed, "/_matrix"); idx != -1 {
		return trimmed[:idx]
	}
	return trimmed
}

// Localpart returns the part of a user ID between "@" and ":", or the input
// unchanged when it is not a full user ID.
func Localpart(userID string) string {
	if strings.HasPrefix(userID, "@") {
		trimmed := strings.TrimPrefix(userID, "@")
		if idx := strings.Index(trimmed, ":"); idx != -1 {
			return trimmed[:idx]
		}
	}
	return userID
}

// RoomTimelineFilter builds an inline sync filter restricting the response
// to roomIDs with at most limit timeline events per room.
func RoomTimelineFilter(roomIDs []string, limit int) (string, error) {
	if limit <= 0 {
		limit = 50
	}
	type timelineFilter struct {
		Limit int `json:"limit"`
	}
	type roomFilter struct {
		Rooms    []string       `json:"rooms,omitempty"`
		Timeline timelineFilter `json:"timeline"`
	}
	filter := struct {
		Room roomFilter `json:"room"`
	}{
		Room: roomFilter{Rooms: roomIDs, Timeline: timelineFilter{Limit: limit}},
	}
	data, err := json.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("matrix: failed to marshal filter: %w", err)
	}
	return string(data), nil
}
