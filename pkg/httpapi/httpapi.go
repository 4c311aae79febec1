// Package httpapi is the thin HTTP transport shared by the provider clients.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultUserAgent = "repsync/1.0"

// StatusError is a non-2xx response. The status code drives the caller's
// error classification (429 vs 5xx vs 4xx).
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// Client issues JSON GET requests with shared transport settings. Rate
// limiting and retries are the caller's concern, not the transport's.
type Client struct {
	http      *http.Client
	userAgent string
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a transport client.
func New(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get fetches rawURL with query and headers applied, returning the response
// body. Non-2xx responses return a *StatusError with a bounded body excerpt.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, headers map[string]string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "httpapi: parse url %s", rawURL)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "httpapi: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "httpapi: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, eris.Wrap(err, "httpapi: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := string(body)
		if len(excerpt) > 512 {
			excerpt = excerpt[:512]
		}
		return nil, &StatusError{Code: resp.StatusCode, URL: redactURL(u), Body: excerpt}
	}
	return body, nil
}

// redactURL masks userinfo and credential-bearing query parameters. Status
// errors end up in logs, so the URL in them must never carry a key.
func redactURL(u *url.URL) string {
	q := u.Query()
	masked := false
	for k := range q {
		switch strings.ToLower(k) {
		case "api_key", "apikey", "key", "token", "access_token":
			q.Set(k, "REDACTED")
			masked = true
		}
	}
	if !masked {
		return u.Redacted()
	}
	clean := *u
	clean.RawQuery = q.Encode()
	return clean.Redacted()
}
