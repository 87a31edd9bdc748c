// client.go is a minimal Hetzner Cloud API client covering the server
// operations the backend needs: create, get, delete, power actions, and
// password reset. It talks JSON over the public REST API; every remote
// failure is wrapped into a provider.BackendError so callers see a single
// error kind regardless of cause.
package hetzner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/serverfleet/serverfleet/internal/provider"
)

const defaultAPIURL = "https://api.hetzner.cloud/v1"

// client is the raw API client. It is not exported; the Backend type is the
// public surface.
type client struct {
	apiURL     string
	token      string
	httpClient *http.Client
}

func newClient(apiURL, token string, timeout time.Duration) *client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &client{
		apiURL:     apiURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiServer mirrors the subset of the hcloud server schema we consume.
type apiServer struct {
	ID      int64             `json:"id"`
	Name    string            `json:"name"`
	Status  string            `json:"status"`
	Created time.Time         `json:"created"`
	Labels  map[string]string `json:"labels"`

	PublicNet struct {
		IPv4 struct {
			IP string `json:"ip"`
		} `json:"ipv4"`
	} `json:"public_net"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createServerRequest struct {
	Name       string            `json:"name"`
	ServerType string            `json:"server_type"`
	Image      string            `json:"image"`
	Location   string            `json:"location,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

type createServerResponse struct {
	Server       apiServer `json:"server"`
	RootPassword string    `json:"root_password"`
}

type getServerResponse struct {
	Server apiServer `json:"server"`
}

type resetPasswordResponse struct {
	RootPassword string `json:"root_password"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// do performs one API request. A non-2xx response or transport failure comes
// back as a *provider.BackendError for op.
func (c *client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return provider.NewBackendError(op, 0, "encode request", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reqBody)
	if err != nil {
		return provider.NewBackendError(op, 0, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.NewBackendError(op, 0, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var remote errorResponse
		msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		if decodeErr := json.NewDecoder(resp.Body).Decode(&remote); decodeErr == nil && remote.Error.Message != "" {
			msg = fmt.Sprintf("%s (%s)", remote.Error.Message, remote.Error.Code)
		}
		return provider.NewBackendError(op, resp.StatusCode, msg, nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return provider.NewBackendError(op, resp.StatusCode, "decode response", err)
		}
	}
	return nil
}

func (c *client) createServer(ctx context.Context, req createServerRequest) (*createServerResponse, error) {
	var out createServerResponse
	if err := c.do(ctx, "create", http.MethodPost, "/servers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) getServer(ctx context.Context, serverID string) (*apiServer, error) {
	var out getServerResponse
	if err := c.do(ctx, "get_info", http.MethodGet, "/servers/"+serverID, nil, &out); err != nil {
		return nil, err
	}
	return &out.Server, nil
}

func (c *client) deleteServer(ctx context.Context, serverID string) error {
	return c.do(ctx, "delete", http.MethodDelete, "/servers/"+serverID, nil, nil)
}

// serverAction triggers one of the hcloud server actions (poweron, poweroff,
// reboot).
func (c *client) serverAction(ctx context.Context, serverID, action string) error {
	return c.do(ctx, action, http.MethodPost, "/servers/"+serverID+"/actions/"+action, struct{}{}, nil)
}

func (c *client) resetPassword(ctx context.Context, serverID string) (string, error) {
	var out resetPasswordResponse
	if err := c.do(ctx, "reset_password", http.MethodPost, "/servers/"+serverID+"/actions/reset_password", struct{}{}, &out); err != nil {
		return "", err
	}
	return out.RootPassword, nil
}
