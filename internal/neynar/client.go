// Package neynar is a small client for the Neynar Farcaster API.
package neynar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// User is the subset of a Farcaster profile the server uses.
type User struct {
	FID         uint64 `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
}

type Notification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	TargetURL string `json:"target_url"`
}

type notificationRequest struct {
	TargetFIDs   []uint64     `json:"target_fids"`
	Notification Notification `json:"notification"`
}

var ErrNoAPIKey = errors.New("neynar api key is not configured")

type Client struct {
	baseURL string
	apiKey  string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         strings.TrimSpace(apiKey),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Enabled() bool { return c != nil && c.apiKey != "" }

// UsersByAddress resolves verified addresses to Farcaster users. Keys of
// the result are lowercased addresses; unknown addresses are absent.
func (c *Client) UsersByAddress(ctx context.Context, addresses ...string) (map[string][]User, error) {
	if !c.Enabled() {
		return nil, ErrNoAPIKey
	}
	q := url.Values{}
	q.Set("addresses", strings.Join(addresses, ","))
	raw := make(map[string][]User)
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/v2/farcaster/user/bulk-by-address?"+q.Encode(), nil, &raw, true); err != nil {
		return nil, err
	}
	out := make(map[string][]User, len(raw))
	for k, v := range raw {
		out[strings.ToLower(k)] = v
	}
	return out, nil
}

// UserByAddress returns the first user for address, or nil.
func (c *Client) UserByAddress(ctx context.Context, address string) (*User, error) {
	users, err := c.UsersByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	list := users[strings.ToLower(address)]
	if len(list) == 0 {
		return nil, nil
	}
	u := list[0]
	return &u, nil
}

func (c *Client) PublishFrameNotification(ctx context.Context, fids []uint64, n Notification) error {
	if !c.Enabled() {
		return ErrNoAPIKey
	}
	req := notificationRequest{TargetFIDs: fids, Notification: n}
	return c.doJSON(ctx, fasthttp.MethodPost, "/v2/farcaster/frame/notifications", req, nil, false)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-neynar-experimental", "false")

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.deadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				if out != nil {
					if err := json.Unmarshal(resp.Body(), out); err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
				}
				return nil
			}
			err = fmt.Errorf("neynar api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return err
			}
		} else {
			err = fmt.Errorf("request failed: %w", err)
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// 100ms, 200ms, 400ms ...
func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
