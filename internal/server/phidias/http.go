package phidias

import (
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
)

// HTTPClient implements Client over the Phidias REST API:
//
//	GET {base}/api/v1/students?since=&cursor=&limit=
//	GET {base}/api/v1/trackings/{id}/records?since=&cursor=&limit=
type HTTPClient struct {
	baseURL *url.URL
	token   string
	hc      *http.Client
}

// NewHTTPClient returns a client for baseURL authenticating with token.
// A nil hc means http.DefaultClient.
func NewHTTPClient(baseURL, token string, hc *http.Client) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse phidias base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("phidias base url %q must be absolute", baseURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{baseURL: u, token: token, hc: hc}, nil
}

func (c *HTTPClient) FetchStudents(ctx context.Context, req PageRequest) (*Page, error) {
	return c.get(ctx, "api/v1/students", req)
}

func (c *HTTPClient) FetchTracking(ctx context.Context, trackingID string, req PageRequest) (*Page, error) {
	return c.get(ctx, "api/v1/trackings/"+url.PathEscape(trackingID)+"/records", req)
}

type envelope struct {
	Records    []json.RawMessage `json:"records"`
	NextCursor string            `json:"next_cursor"`
	Marker     string            `json:"marker"`
}

func (c *HTTPClient) get(ctx context.Context, path string, req PageRequest) (*Page, error) {
	u := c.baseURL.JoinPath(path)
	q := u.Query()
	if !req.Since.IsZero() {
		q.Set("since", req.Since.UTC().Format(time.RFC3339Nano))
	}
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		// The caller's own cancellation is not an upstream failure.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, err
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.Canceled) {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	page := &Page{Records: env.Records, NextCursor: env.NextCursor}
	if env.Marker != "" {
		m, err := time.Parse(time.RFC3339Nano, env.Marker)
		if err != nil {
			return nil, fmt.Errorf("%w: marker %q: %v", ErrBadResponse, env.Marker, err)
		}
		page.Marker = m
	} else {
		page.Marker = newestModified(env.Records)
	}

	return page, nil
}

func statusError(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &StatusError{StatusCode: code, Err: ErrUnauthorized}
	case code == http.StatusTooManyRequests:
		return &StatusError{StatusCode: code, Err: ErrRateLimited, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case code >= 500:
		return &StatusError{StatusCode: code, Err: ErrUnavailable, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	default:
		return &StatusError{StatusCode: code, Err: fmt.Errorf("phidias: unexpected status %s", strings.TrimSpace(resp.Status))}
	}
}

// retryAfter parses delay-seconds or an HTTP date. Unparseable values yield 0.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// newestModified derives a page marker from the records' modified_at field
// when the envelope does not carry one.
func newestModified(records []json.RawMessage) time.Time {
	var newest time.Time
	for _, raw := range records {
		var r struct {
			ModifiedAt string `json:"modified_at"`
		}
		if json.Unmarshal(raw, &r) != nil || r.ModifiedAt == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, r.ModifiedAt)
		if err != nil {
			continue
		}
		if t.After(newest) {
			newest = t
		}
	}
	return newest
}
