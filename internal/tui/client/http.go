package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/termstream/termstream/internal/session"
	"github.com/termstream/termstream/internal/ws"
)

// HTTPClient makes REST calls to the termstream server.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ListSessions fetches GET /api/sessions.
func (c *HTTPClient) ListSessions() ([]session.Info, error) {
	var out []session.Info
	if err := c.do(http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenSession sends POST /api/sessions. An empty mode lets the server pick.
func (c *HTTPClient) OpenSession(mode, name string) (*session.Info, error) {
	var out session.Info
	if err := c.do(http.MethodPost, "/api/sessions", ws.OpenRequest{Mode: mode, Name: name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseSession sends DELETE /api/sessions/{id}.
func (c *HTTPClient) CloseSession(id string) error {
	return c.do(http.MethodDelete, "/api/sessions/"+id, nil, nil)
}

// Health fetches GET /api/health.
func (c *HTTPClient) Health() (*ws.Health, error) {
	var h ws.Health
	if err := c.do(http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HTTPClient) do(method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e ws.ErrorPayload
		respBody, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(respBody, &e) == nil && e.Message != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Message)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, string(respBody))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
