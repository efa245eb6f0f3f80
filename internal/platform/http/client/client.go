// Package client provides the outbound HTTP client used for the chat platform
// and the remote account services.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CodeMC/bot/internal/platform/config"
)

var (
	ErrSSRFBlocked      = errors.New("request blocked by SSRF protection")
	ErrResponseTooLarge = errors.New("response body too large")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrHostUnresolvable = errors.New("host could not be resolved")
)

// HTTPClient is the shared interface for outbound HTTP requests.
// Implemented by ContextClient; remote adapters depend on it so tests can
// substitute any transport.
type HTTPClient interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Resolver abstracts DNS resolution for testing.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Client is an HTTP client with bounded behavior and optional SSRF protection.
// Redirects are never followed: Jenkins answers successful mutations with
// 302, and callers need to see that status.
type Client struct {
	cfg        *config.OutboundHTTPConfig
	httpClient *http.Client
	resolver   Resolver // nil uses net.DefaultResolver
}

// New creates a new client.
// The client ignores proxy environment variables (HTTP_PROXY, HTTPS_PROXY, NO_PROXY).
func New(cfg *config.OutboundHTTPConfig) *Client {
	if cfg == nil {
		defaults := config.OutboundHTTPConfigDefaults()
		cfg = &defaults
	}

	c := &Client{cfg: cfg}

	dialer := &net.Dialer{
		Timeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
	}

	transport := &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cfg.SSRFMode == "strict" {
				if err := c.checkSSRF(ctx, addr); err != nil {
					return nil, err
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}

	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return c
}

// SetResolver sets a custom DNS resolver (for testing).
func (c *Client) SetResolver(r Resolver) {
	c.resolver = r
}

func (c *Client) getResolver() Resolver {
	if c.resolver != nil {
		return c.resolver
	}
	return net.DefaultResolver
}

// checkSSRF validates a dialer address in host:port form.
func (c *Client) checkSSRF(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return c.checkSSRFHost(ctx, host)
}

// checkSSRFHost rejects loopback, private and link-local destinations.
// Handles IPv6 bracket notation (e.g., "[::1]").
func (c *Client) checkSSRFHost(ctx context.Context, host string) error {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	lowerHost := strings.ToLower(host)
	if lowerHost == "localhost" || lowerHost == "localhost.localdomain" {
		return fmt.Errorf("%w: localhost is blocked", ErrSSRFBlocked)
	}

	if ip := net.ParseIP(host); ip != nil {
		if !IsAllowedIP(ip) {
			return fmt.Errorf("%w: IP %s is blocked", ErrSSRFBlocked, ip)
		}
		return nil
	}

	ipAddrs, err := c.getResolver().LookupIPAddr(ctx, host)
	if err != nil {
		// Fail closed.
		return fmt.Errorf("%w: %s: %v", ErrHostUnresolvable, host, err)
	}

	for _, ipAddr := range ipAddrs {
		if !IsAllowedIP(ipAddr.IP) {
			return fmt.Errorf("%w: %s resolves to blocked IP %s", ErrSSRFBlocked, host, ipAddr.IP)
		}
	}

	return nil
}

// IsAllowedIP reports whether ip is a public unicast address.
func IsAllowedIP(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast())
}

// Do performs an HTTP request. In strict SSRF mode the target host is
// checked before any connection is made.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.URL == nil || req.URL.Host == "" {
		return nil, ErrInvalidURL
	}
	if c.cfg.SSRFMode == "strict" {
		if err := c.checkSSRFHost(req.Context(), req.URL.Hostname()); err != nil {
			return nil, err
		}
	}
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	return c.httpClient.Do(req)
}

// ReadBody reads a response body, enforcing MaxResponseBytes.
func (c *Client) ReadBody(resp *http.Response) ([]byte, error) {
	return ReadLimited(resp.Body, c.cfg.MaxResponseBytes)
}

// ReadLimited reads r up to limit bytes and fails when more are available.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

// IsSSRFError returns true if the error is an SSRF blocking error.
func IsSSRFError(err error) bool {
	return errors.Is(err, ErrSSRFBlocked) || errors.Is(err, ErrHostUnresolvable)
}

// ContextClient wraps Client to provide a context-first Do method.
type ContextClient struct {
	client *Client
}

// NewContextClient creates a ContextClient adapter.
func NewContextClient(c *Client) *ContextClient {
	return &ContextClient{client: c}
}

// Do performs an HTTP request, using the provided context.
func (c *ContextClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(ctx))
}

var _ HTTPClient = (*ContextClient)(nil)
