// Package api is the HTTP client syncctl uses to talk to the sync server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/convivencia/phidiasync/internal/common"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for baseURL. token may be empty for login.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken replaces the bearer token sent with each request.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var res LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Logout ends the current session. It reports whether the server actually
// revoked a live session.
func (c *Client) Logout(ctx context.Context) (bool, error) {
	var res struct {
		SessionEnded bool `json:"session_ended"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, &res); err != nil {
		return false, err
	}
	return res.SessionEnded, nil
}

// Trigger starts a run and returns its id without waiting for it.
func (c *Client) Trigger(ctx context.Context) (string, error) {
	var res struct {
		RunID string `json:"run_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sync/runs", nil, nil, &res); err != nil {
		return "", err
	}
	return res.RunID, nil
}

func (c *Client) Abort(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/sync/runs/"+url.PathEscape(runID)+"/abort", nil, nil, nil)
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var res Status
	if err := c.do(ctx, http.MethodGet, "/sync/status", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) History(ctx context.Context, limit, offset int) ([]Run, error) {
	var res struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/sync/history", page(limit, offset), nil, &res); err != nil {
		return nil, err
	}
	return res.Runs, nil
}

// Run returns one run with all of its phase logs.
func (c *Client) Run(ctx context.Context, runID string) (*Run, []Log, error) {
	var res struct {
		Run  Run   `json:"run"`
		Logs []Log `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/sync/runs/"+url.PathEscape(runID), nil, nil, &res); err != nil {
		return nil, nil, err
	}
	return &res.Run, res.Logs, nil
}

func (c *Client) Logs(ctx context.Context, f LogFilter, limit, offset int) ([]Log, error) {
	q := page(limit, offset)
	if f.RunID != "" {
		q.Set("run_id", f.RunID)
	}
	if f.Phase != "" {
		q.Set("phase", f.Phase)
	}
	var res struct {
		Logs []Log `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/sync/logs", q, nil, &res); err != nil {
		return nil, err
	}
	return res.Logs, nil
}

func page(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &Error{StatusCode: resp.StatusCode, Code: e.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
