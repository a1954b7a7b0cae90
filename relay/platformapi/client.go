// Package platformapi is the vendor platform HTTP client the remote
// relay sink uses to exchange a device token for SFU room credentials.
// Credential acquisition itself is out of scope (spec §1 names it as
// an external collaborator); this package only implements the two
// retry-idempotent endpoints the relay's reconnect loop calls. It uses
// github.com/hashicorp/go-retryablehttp for the retry-with-backoff
// behavior spec.md §6 asks for ("other 4xx/5xx retried with backoff"),
// the one dependency in the retrieval pack purpose-built for that
// contract (present transitively via hashicorp-nomad's vendor tree;
// used here directly rather than hand-rolling retry logic on
// net/http).
package platformapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// DeviceInfo is the response body of GET /internal/platform/v1/device-info.
type DeviceInfo struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	ProjectID               string `json:"project_id"`
	RetainRecordingsSeconds *int   `json:"retain_recordings_seconds,omitempty"`
}

// RemoteSessionCredentials is the response body of
// POST /internal/platform/v1/devices/{id}/remote-sessions: the SFU
// room URL and join token.
type RemoteSessionCredentials struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// ErrUnauthorized is returned when the vendor API responds 401; the
// caller is expected to refresh its device token and retry.
var ErrUnauthorized = fmt.Errorf("platformapi: unauthorized")

// Client talks to the vendor platform API using a caller-supplied
// device token.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	logger  zerolog.Logger
}

// New constructs a Client. timeout bounds each individual HTTP attempt
// (cmd/fgcore-bridge sets it from FG_RELAY_API_TIMEOUT); the
// retryablehttp client applies its own
// exponential backoff across attempts on top of that.
func New(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 5
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil // the teacher's structured zerolog logger replaces retryablehttp's own logging below
	rc.CheckRetry = checkRetry
	rc.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		logger.Debug().Int("status", resp.StatusCode).Str("url", resp.Request.URL.String()).Msg("platformapi: response")
	}

	return &Client{baseURL: baseURL, token: token, http: rc, logger: logger}
}

// checkRetry retries on connection errors and on every 4xx/5xx status
// except 401 (the caller must refresh its token, not retry blindly).
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return false, nil
	}
	if resp.StatusCode == 0 || resp.StatusCode >= 400 {
		return true, nil
	}
	return false, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("platformapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "DeviceToken "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// DeviceInfo fetches this device's registration from the vendor platform.
func (c *Client) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/internal/platform/v1/device-info", nil)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("platformapi: device-info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return DeviceInfo{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return DeviceInfo{}, fmt.Errorf("platformapi: device-info: unexpected status %d", resp.StatusCode)
	}

	var info DeviceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return DeviceInfo{}, fmt.Errorf("platformapi: decode device-info: %w", err)
	}
	return info, nil
}

// RemoteSession requests SFU room credentials for deviceID.
func (c *Client) RemoteSession(ctx context.Context, deviceID string) (RemoteSessionCredentials, error) {
	path := fmt.Sprintf("/internal/platform/v1/devices/%s/remote-sessions", deviceID)
	resp, err := c.do(ctx, http.MethodPost, path, []byte("{}"))
	if err != nil {
		return RemoteSessionCredentials{}, fmt.Errorf("platformapi: remote-sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return RemoteSessionCredentials{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return RemoteSessionCredentials{}, fmt.Errorf("platformapi: remote-sessions: unexpected status %d", resp.StatusCode)
	}

	var creds RemoteSessionCredentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return RemoteSessionCredentials{}, fmt.Errorf("platformapi: decode remote-sessions: %w", err)
	}
	return creds, nil
}
