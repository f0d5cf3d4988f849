package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/proxy"
)

// maxRedirects bounds replay redirect chains; the archive redirects
// between timestamps but never this deep for a live snapshot.
const maxRedirects = 10

// Client is the HTTP transport shared by the snapshot fetcher and the
// index queries. Every request carries a randomized browser
// fingerprint unless a fixed User-Agent was configured.
type Client struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
}

// ClientOption is a function that configures Client
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithUserAgent pins a fixed User-Agent instead of per-request
// fingerprints.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHeader adds a custom header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithProxy sets an HTTP or HTTPS proxy.
func WithProxy(proxyURL string) ClientOption {
	return func(c *Client) {
		if proxyURL == "" {
			return
		}
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return
		}
		c.transport().Proxy = http.ProxyURL(parsed)
	}
}

// WithSOCKS5Proxy routes requests through a SOCKS5 proxy.
func WithSOCKS5Proxy(proxyAddr string, auth *proxy.Auth) ClientOption {
	return func(c *Client) {
		if proxyAddr == "" {
			return
		}

		if strings.HasPrefix(proxyAddr, "socks5://") {
			parsed, err := url.Parse(proxyAddr)
			if err != nil {
				return
			}
			proxyAddr = parsed.Host
			if parsed.User != nil {
				password, _ := parsed.User.Password()
				auth = &proxy.Auth{
					User:     parsed.User.Username(),
					Password: password,
				}
			}
		}

		dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, proxy.Direct)
		if err != nil {
			return
		}
		c.transport().DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		if !skip {
			return
		}
		t := c.transport()
		if t.TLSClientConfig == nil {
			t.TLSClientConfig = &tls.Config{}
		}
		t.TLSClientConfig.InsecureSkipVerify = true
	}
}

// WithHTTP3 switches the transport to HTTP/3 over QUIC.
func WithHTTP3(enable bool) ClientOption {
	return func(c *Client) {
		if !enable {
			return
		}
		c.client.Transport = &http3.Transport{}
	}
}

// WithHTTPClient replaces the underlying http.Client. Used by tests
// against httptest servers.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// transport returns the underlying *http.Transport, creating one if
// something else was installed.
func (c *Client) transport() *http.Transport {
	if t, ok := c.client.Transport.(*http.Transport); ok {
		return t
	}
	t := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	c.client.Transport = t
	return t
}

// NewClient creates a new archive HTTP client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	return c
}

// Get performs a GET with fingerprinted headers. Transport failures
// come back wrapped as *TransportError; the caller owns the response
// body on success.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating GET request: %w", err)
	}

	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "GET " + rawURL, Err: err}
	}
	return resp, nil
}

// setHeaders applies either the pinned User-Agent or a fresh random
// fingerprint, then any configured extras.
func (c *Client) setHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "*/*")
	} else {
		RandomFingerprint().Apply(req)
	}
	req.Header.Set("Accept-Encoding", "identity")

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
}
