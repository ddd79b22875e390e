// Package webpush delivers VAPID-authenticated, payload-less pushes to push
// service endpoints and classifies their responses.
package webpush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultTimeout bounds one delivery call.
const DefaultTimeout = 10 * time.Second

// bodySnippetMax caps how much of a push service response is kept for
// diagnostics.
const bodySnippetMax = 600

// Request is one push. The body is always empty; the service worker fetches
// the notification content itself.
type Request struct {
	Endpoint string
	// Token is the signed VAPID JWT.
	Token string
	// PublicKey is the application server key, base64url.
	PublicKey string
	TTL       time.Duration
	Urgency   string
	Topic     string
}

// Header returns the request headers as sent on the wire.
func (r Request) Header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "WebPush "+r.Token)
	h.Set("Crypto-Key", "p256ecdsa="+r.PublicKey)
	h.Set("TTL", strconv.FormatInt(int64(r.TTL/time.Second), 10))
	if r.Urgency != "" {
		h.Set("Urgency", r.Urgency)
	}
	if r.Topic != "" {
		h.Set("Topic", r.Topic)
	}
	return h
}

// Response is what the push service answered.
type Response struct {
	StatusCode int         `json:"status"`
	Status     string      `json:"statusText"`
	Header     http.Header `json:"headers"`
	Body       string      `json:"bodySnippet"`
}

// Sender delivers one push.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Client is the HTTP Sender.
type Client struct {
	hc      *http.Client
	timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client (tests, custom transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTimeout sets the deadline used when the caller's context has none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	if c.hc == nil {
		c.hc = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: c.timeout,
			},
		}
	}
	return c
}

// Send POSTs an empty body to req.Endpoint. A non-nil error means no HTTP
// response was obtained (timeout, connection failure) and is transient.
// A deadline already on ctx wins over the client timeout.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, http.NoBody)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("build request: %w", err)}
	}
	hr.Header = req.Header()
	hr.ContentLength = 0

	resp, err := c.hc.Do(hr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TransientError{Err: fmt.Errorf("push timed out: %w", err)}
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetMax))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       string(snippet),
	}, nil
}
