// Package http provides the network side of the offline cache manager.
package http

import (
	"errors"
	"fmt"
	nethttp "net/http"
	"time"
)

// conditionalHeaders would let an origin answer 304, which can neither be
// stored nor replayed to a client that did not send them.
var conditionalHeaders = []string{
	"If-Match",
	"If-None-Match",
	"If-Modified-Since",
	"If-Unmodified-Since",
	"If-Range",
}

// Accept-Encoding is left to the transport, which then decodes gzip
// bodies before they are stored.
var encodingHeaders = []string{"Accept-Encoding"}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Client performs outbound requests on behalf of the cache manager.
// It satisfies offline.Network.
type Client struct {
	client    *nethttp.Client
	headers   nethttp.Header
	userAgent string
	timeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout sets a timeout on a private copy of the HTTP client. It
// applies whichever client the other options select.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(c *Client) {
		if headers == nil {
			return
		}
		c.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(nethttp.Header)
		}
		c.headers.Set(key, value)
	}
}

// WithUserAgent sets the User-Agent for requests that do not carry one.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{client: nethttp.DefaultClient}
	for _, opt := range opts {
		opt(c)
		if c.client == nil {
			c.client = nethttp.DefaultClient
		}
	}
	if c.timeout > 0 {
		cp := *c.client
		cp.Timeout = c.timeout
		c.client = &cp
	}
	return c
}

// Do sends req upstream. The request is cloned and stripped of hop-by-hop
// headers and of headers that would change the shape of the stored body.
// Redirects are followed by the underlying client.
func (c *Client) Do(req *nethttp.Request) (*nethttp.Response, error) {
	if req.URL == nil || !req.URL.IsAbs() {
		return nil, errors.New("request URL must be absolute")
	}
	out, err := c.newRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", out.Method, out.URL.Redacted(), err)
	}
	return resp, nil
}

func (c *Client) newRequest(req *nethttp.Request) (*nethttp.Request, error) {
	out, err := nethttp.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, err
	}
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = make(nethttp.Header)
	}
	for _, name := range hopHeaders {
		out.Header.Del(name)
	}
	for _, name := range conditionalHeaders {
		out.Header.Del(name)
	}
	for _, name := range encodingHeaders {
		out.Header.Del(name)
	}
	for key, values := range c.headers {
		out.Header.Del(key)
		for _, value := range values {
			out.Header.Add(key, value)
		}
	}
	if out.Header.Get("User-Agent") == "" && c.userAgent != "" {
		out.Header.Set("User-Agent", c.userAgent)
	}
	if req.ContentLength > 0 {
		out.ContentLength = req.ContentLength
	}
	return out, nil
}
