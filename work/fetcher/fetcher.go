// Package fetcher downloads token and playlist documents from upstream and
// reports failures with the shared error taxonomy, so callers can tell an
// absent resource from a transient network problem.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"audio-only-proxy/work/buffer"
	"audio-only-proxy/work/config"
	"audio-only-proxy/work/logger"
	"audio-only-proxy/work/metrics"
	"audio-only-proxy/work/types"
	"audio-only-proxy/work/utils"
)

// MaxBodySize caps how much of an upstream response is read.
const MaxBodySize = 4 << 20

// bodyPool backs response body reads. Playlists are a few KB, so buffers
// start small and grow as needed.
var bodyPool = buffer.NewBufferPool(16 << 10)

// Upstream kinds, used as metric labels.
const (
	KindToken    = "token"
	KindPlaylist = "playlist"
)

// Doer sends HTTP requests. *client.HeaderSettingClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UpstreamError records a non-200 upstream response.
type UpstreamError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
}

// Fetcher performs the pipeline's two network calls.
type Fetcher struct {
	client Doer
	config *config.Config
}

// New creates a Fetcher sending requests through client.
func New(client Doer, cfg *config.Config) *Fetcher {
	return &Fetcher{client: client, config: cfg}
}

// FetchTokenText fetches a token endpoint response, bounded by the token timeout.
func (f *Fetcher) FetchTokenText(ctx context.Context, tokenURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.TokenTimeout)
	defer cancel()
	return f.fetch(ctx, KindToken, tokenURL)
}

// FetchPlaylistText fetches a manifest/playlist, bounded by the playlist timeout.
//
// Errors:
//   - types.ErrNotFound for HTTP 404
//   - types.ErrNetwork for transport failures, timeouts and other statuses
//   - types.ErrParse for an unusable URL or an oversized body
func (f *Fetcher) FetchPlaylistText(ctx context.Context, playlistURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.PlaylistTimeout)
	defer cancel()
	return f.fetch(ctx, KindPlaylist, playlistURL)
}

func (f *Fetcher) fetch(ctx context.Context, kind, rawURL string) (string, error) {
	start := time.Now()
	text, err := f.do(ctx, rawURL)

	metrics.UpstreamDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	outcome := types.Reason(err)
	metrics.UpstreamRequests.WithLabelValues(kind, outcome).Inc()

	if err != nil {
		logger.Warn("{fetcher - fetch} %s fetch of %s failed (%s): %v", kind, utils.LogURL(f.config, rawURL), outcome, err)
		return "", err
	}

	logger.Debug("{fetcher - fetch} %s fetch of %s returned %d bytes in %s",
		kind, utils.LogURL(f.config, rawURL), len(text), time.Since(start).Round(time.Millisecond))
	return text, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %v: %w", err, types.ErrParse)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %w", types.ErrNotFound, &UpstreamError{URL: rawURL, StatusCode: resp.StatusCode})
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: %w", types.ErrNetwork, &UpstreamError{URL: rawURL, StatusCode: resp.StatusCode})
	}

	text, exceeded, err := bodyPool.ReadString(resp.Body, MaxBodySize)
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", types.ErrNetwork, err)
	}
	if exceeded {
		return "", fmt.Errorf("body exceeds %d bytes: %w", MaxBodySize, types.ErrParse)
	}

	return text, nil
}
