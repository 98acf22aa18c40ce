// Package transport sends RFC 3161 requests to a Time-Stamp Authority over
// HTTP (RFC 3161 Section 3.4) and fetches OCSP responses.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"

	"github.com/remiblancher/trustedts/internal/log"
)

const (
	// ContentTypeQuery is the media type of a DER TimeStampReq.
	ContentTypeQuery = "application/timestamp-query"
	// ContentTypeReply is the media type of a DER TimeStampResp.
	ContentTypeReply = "application/timestamp-reply"

	// DefaultMaxResponseSize caps TSA response bodies.
	DefaultMaxResponseSize = 1 << 20
	// DefaultTimeout bounds a whole request when the context has no deadline.
	DefaultTimeout = 30 * time.Second
)

// Reply is a TSA answer together with the client-side time at which it
// was fully received. ReceivedAt is the expected time for validation.
type Reply struct {
	Body       []byte
	ReceivedAt time.Time
}

// Client posts timestamp requests to one TSA endpoint.
// A Client is safe for concurrent use.
type Client struct {
	url        string
	httpClient *http.Client
	username   string
	password   string
	headers    http.Header
	maxSize    int64
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client, including its proxy
// and timeout settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout. A client passed to WithHTTPClient
// is copied first and left unchanged.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// WithBasicAuth sends HTTP basic credentials with every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHeader adds a request header. Content-Type cannot be overridden.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Add(key, value) }
}

// WithMaxResponseSize caps the accepted response body size.
func WithMaxResponseSize(n int64) Option {
	return func(c *Client) { c.maxSize = n }
}

// WithClock sets the clock used for Reply.ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewHTTPClient returns an HTTP client that honours HTTP_PROXY, HTTPS_PROXY
// and NO_PROXY.
func NewHTTPClient(timeout time.Duration) *http.Client {
	proxy := httpproxy.FromEnvironment().ProxyFunc()
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = func(r *http.Request) (*url.URL, error) {
		return proxy(r.URL)
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// New creates a Client for the TSA at rawURL.
func New(rawURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid TSA URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid TSA URL %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid TSA URL %q: missing host", rawURL)
	}

	c := &Client{
		url:        u.String(),
		httpClient: NewHTTPClient(DefaultTimeout),
		headers:    make(http.Header),
		maxSize:    DefaultMaxResponseSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the TSA endpoint.
func (c *Client) URL() string { return c.url }

// Timestamp posts a DER TimeStampReq and returns the DER TimeStampResp.
// It fails unless the TSA answers HTTP 200 with a timestamp-reply body.
func (c *Client) Timestamp(ctx context.Context, reqDER []byte) (*Reply, error) {
	logger := log.GetLogger(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqDER))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", ContentTypeQuery)
	req.Header.Set("Accept", ContentTypeReply)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	logger.Debugf("posting %d byte timestamp request to %s", len(reqDER), c.url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send timestamp request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("TSA returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := checkMediaType(resp.Header.Get("Content-Type"), ContentTypeReply); err != nil {
		return nil, err
	}

	body, err := readLimited(resp.Body, c.maxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read timestamp response: %w", err)
	}
	receivedAt := c.now()
	logger.Debugf("received %d byte timestamp response at %s", len(body), receivedAt.UTC().Format(time.RFC3339Nano))

	return &Reply{Body: body, ReceivedAt: receivedAt}, nil
}

func checkMediaType(header, want string) error {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil || !strings.EqualFold(mt, want) {
		return fmt.Errorf("unexpected response content type %q, want %s", header, want)
	}
	return nil
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > max {
		return nil, fmt.Errorf("response exceeds %d bytes", max)
	}
	return body, nil
}
