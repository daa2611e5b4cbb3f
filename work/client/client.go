package client

import (
	"net/http"
	"time"

	"audio-only-proxy/work/config"

	"go.uber.org/ratelimit"
)

// HeaderSettingClient wraps http.Client to automatically set the browser-like
// headers the token and manifest endpoints expect, and paces requests through
// a shared rate limiter.
type HeaderSettingClient struct {
	Client  *http.Client
	config  *config.Config
	limiter ratelimit.Limiter
}

// NewHeaderSettingClient builds the upstream client used for token and
// playlist fetches.
//
// The client itself has no overall timeout: the fetcher bounds each call with
// tokenTimeout or playlistTimeout through the request context, and both
// transports below stop on that context. With browserTLS set, HTTPS requests
// go through a transport presenting a Chrome TLS fingerprint; plain HTTP
// always uses the standard transport.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	// standard pooled transport
	var transport http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	// swap in the fingerprinting transport when asked to
	if cfg.BrowserTLS {
		transport = newBrowserRoundTripper()
	}

	return &HeaderSettingClient{
		Client: &http.Client{
			Transport: transport,
		},
		config:  cfg,
		limiter: ratelimit.New(cfg.MaxRequestsPerSecond),
	}
}

// Do waits for the rate limiter, sets the configured headers and sends req.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	// pace every upstream request through the shared limiter
	hsc.limiter.Take()
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Accept", "*/*")

	if hsc.config.ClientID != "" {
		req.Header.Set("Client-Id", hsc.config.ClientID)
	}
	if hsc.config.ReqOrigin != "" {
		req.Header.Set("Origin", hsc.config.ReqOrigin)
	}
	if hsc.config.ReqReferrer != "" {
		req.Header.Set("Referer", hsc.config.ReqReferrer)
	}
}
