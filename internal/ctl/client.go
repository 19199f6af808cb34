package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"avatard/pkg/types"
)

// Client is a thin HTTP client for the avatard daemon.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 0},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er types.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, er.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Status fetches the daemon-wide status document.
func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var st types.StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// SubmitTask submits a one-shot task and waits for its outcome.
func (c *Client) SubmitTask(ctx context.Context, req types.SubmitTaskRequest) (types.TaskResponse, error) {
	var resp types.TaskResponse
	err := c.do(ctx, http.MethodPost, "/tasks", req, &resp)
	return resp, err
}

// StartSession opens a streaming session.
func (c *Client) StartSession(ctx context.Context, req types.StartSessionRequest) (types.StartSessionResponse, error) {
	var resp types.StartSessionResponse
	err := c.do(ctx, http.MethodPost, "/sessions", req, &resp)
	return resp, err
}

// StopSession tears a session down. Idempotent.
func (c *Client) StopSession(ctx context.Context, id string) (types.StopSessionResponse, error) {
	var resp types.StopSessionResponse
	err := c.do(ctx, http.MethodDelete, "/sessions/"+id, nil, &resp)
	return resp, err
}

// SessionStatus fetches one session's status projection.
func (c *Client) SessionStatus(ctx context.Context, id string) (types.SessionStatusResponse, error) {
	var resp types.SessionStatusResponse
	err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, &resp)
	return resp, err
}

// probeEndpoint GETs a liveness endpoint and returns its body text.
func (c *Client) probeEndpoint(ctx context.Context, path string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return string(b), resp.StatusCode, nil
}
