// Package httpclient provides the HTTP client the CLI uses to reach the
// daemon's control API.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/recwake/errors"
)

// LocalClient wraps http.Client and refuses to talk to anything but a
// loopback address. The control API is unauthenticated, so a job command
// must never leave the host because of a mistyped server.address.
type LocalClient struct {
	*http.Client
	allowedSchemes []string
	allowRemote    bool
}

// Options customizes a LocalClient.
type Options struct {
	AllowedSchemes []string // Default: ["http"]
	AllowRemote    bool     // permit non-loopback hosts
}

// NewLocalClient creates a loopback-only client.
func NewLocalClient(timeout time.Duration) *LocalClient {
	return NewLocalClientWithOptions(timeout, Options{})
}

// NewLocalClientWithOptions creates a client with custom restrictions.
func NewLocalClientWithOptions(timeout time.Duration, opts Options) *LocalClient {
	allowedSchemes := []string{"http"}
	if opts.AllowedSchemes != nil {
		allowedSchemes = opts.AllowedSchemes
	}

	client := &LocalClient{
		Client:         &http.Client{Timeout: timeout},
		allowedSchemes: allowedSchemes,
		allowRemote:    opts.AllowRemote,
	}

	// The API never redirects.
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if !client.allowRemote {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, _, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				for _, ip := range ips {
					if !ip.IsLoopback() {
						return nil, errors.Newf("non-loopback address blocked: %s", ip)
					}
				}
				return dialer.DialContext(ctx, network, addr)
			},
			MaxIdleConns:    4,
			IdleConnTimeout: 30 * time.Second,
		}
	}

	return client
}

// validateURL checks scheme and host before a request is built.
func (c *LocalClient) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}
	if u.User != nil {
		return errors.New("URL must not carry credentials")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}
	if !c.allowRemote && !isLoopbackHost(hostname) {
		return errors.WithHint(
			errors.Newf("refusing non-loopback host %q", hostname),
			"the control API is unauthenticated; bind server.address to 127.0.0.1")
	}
	return nil
}

// ValidateURL parses and validates a URL string.
func (c *LocalClient) ValidateURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do validates the request URL and sends it.
func (c *LocalClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, err
	}
	return c.Client.Do(req)
}

// isLoopbackHost accepts "localhost" and loopback IP literals.
func isLoopbackHost(hostname string) bool {
	h := strings.ToLower(hostname)
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
