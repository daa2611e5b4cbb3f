package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"audio-only-proxy/work/cache"
	"audio-only-proxy/work/config"
	"audio-only-proxy/work/fetcher"
	"audio-only-proxy/work/logger"
	"audio-only-proxy/work/metrics"
	"audio-only-proxy/work/parser"
	"audio-only-proxy/work/token"
	"audio-only-proxy/work/types"
	"audio-only-proxy/work/urls"
	"audio-only-proxy/work/utils"

	"golang.org/x/sync/singleflight"
)

// TextFetcher is the network side of the pipeline. *fetcher.Fetcher satisfies it.
type TextFetcher interface {
	FetchTokenText(ctx context.Context, tokenURL string) (string, error)
	FetchPlaylistText(ctx context.Context, playlistURL string) (string, error)
}

// Resolver turns a channel name into its audio-only stream URL, refreshing
// manifest credentials from the observed token request URL when needed.
type Resolver struct {
	// Now is the clock used for expiry checks. Tests replace it.
	Now func() time.Time

	store   *cache.Store
	fetcher TextFetcher
	config  *config.Config
	nonce   func() int

	manifests singleflight.Group // channel -> in-flight credential refresh
	streams   singleflight.Group // channel -> in-flight audio-only resolution
}

// New creates a Resolver over store, fetching upstream through f.
func New(store *cache.Store, f TextFetcher, cfg *config.Config) *Resolver {
	return &Resolver{
		Now:     time.Now,
		store:   store,
		fetcher: f,
		config:  cfg,
		nonce:   func() int { return rand.IntN(1_000_000) },
	}
}

// Store returns the credential cache the resolver reads and refreshes.
func (r *Resolver) Store() *cache.Store {
	return r.store
}

// ResolveAudioOnlyURL returns the audio-only variant URL for channel.
// Concurrent calls for the same channel share one token fetch and one
// playlist fetch; each caller still gives up when its own ctx is done.
func (r *Resolver) ResolveAudioOnlyURL(ctx context.Context, channel string) (string, error) {
	start := time.Now()

	streamURL, err := r.resolveAudioOnlyURL(ctx, channel)
	metrics.Resolutions.WithLabelValues(types.Reason(err)).Inc()

	if err != nil {
		logFailure("{resolver - ResolveAudioOnlyURL}", channel, err)
		return "", err
	}

	logger.Info("{resolver - ResolveAudioOnlyURL} resolved audio-only stream for %s in %s: %s",
		channel, time.Since(start).Round(time.Millisecond), utils.LogURL(r.config, streamURL))
	return streamURL, nil
}

func (r *Resolver) resolveAudioOnlyURL(ctx context.Context, channel string) (string, error) {
	channel, ok := urls.NormalizeChannel(channel)
	if !ok {
		return "", fmt.Errorf("invalid channel name: %w", types.ErrNotFound)
	}

	return coalesce(ctx, &r.streams, channel, func(ctx context.Context) (string, error) {
		text, err := r.fetchManifest(ctx, channel)
		if err != nil {
			return "", err
		}

		streamURL, ok := parser.ExtractAudioOnlyStreamURL(text)
		if !ok {
			return "", fmt.Errorf("no audio-only variant in manifest for %s: %w", channel, types.ErrNotFound)
		}
		return streamURL, nil
	})
}

// Variants lists the variants of channel's current master playlist.
func (r *Resolver) Variants(ctx context.Context, channel string) ([]types.Variant, error) {
	channel, ok := urls.NormalizeChannel(channel)
	if !ok {
		return nil, fmt.Errorf("invalid channel name: %w", types.ErrNotFound)
	}

	manifestURL, err := r.ManifestURL(ctx, channel)
	if err != nil {
		return nil, err
	}

	text, err := r.fetchPlaylist(ctx, channel, manifestURL)
	if err != nil {
		return nil, err
	}

	return parser.ListVariants(text, manifestURL)
}

// fetchManifest resolves a manifest URL for channel and downloads it.
func (r *Resolver) fetchManifest(ctx context.Context, channel string) (string, error) {
	manifestURL, err := r.ManifestURL(ctx, channel)
	if err != nil {
		return "", err
	}
	return r.fetchPlaylist(ctx, channel, manifestURL)
}

// fetchPlaylist downloads manifestURL. A 403 means the signed token was
// rejected, so the cached credential is dropped and the next call refreshes.
func (r *Resolver) fetchPlaylist(ctx context.Context, channel, manifestURL string) (string, error) {
	text, err := r.fetcher.FetchPlaylistText(ctx, manifestURL)
	if err == nil {
		return text, nil
	}

	var upstream *fetcher.UpstreamError
	if errors.As(err, &upstream) && upstream.StatusCode == http.StatusForbidden {
		logger.Warn("{resolver - fetchPlaylist} manifest for %s was rejected, dropping cached credential", channel)
		r.store.Invalidate(channel)
		metrics.TrackedChannels.Set(float64(r.store.Size()))
	}
	return "", fmt.Errorf("fetching manifest for %s: %w", channel, err)
}

// ManifestURL returns a usable manifest URL for channel: the cached one while
// it is outside the safety margin, otherwise a fresh one built from a new
// access token fetched via the observed token request URL.
//
// Errors:
//   - types.ErrNotFound if no token request URL has been observed
//   - types.ErrNetwork if the token endpoint fails or times out
//   - types.ErrParse if the token response cannot be understood
func (r *Resolver) ManifestURL(ctx context.Context, channel string) (string, error) {
	channel, ok := urls.NormalizeChannel(channel)
	if !ok {
		return "", fmt.Errorf("invalid channel name: %w", types.ErrNotFound)
	}

	if manifestURL, ok := r.cachedManifestURL(channel); ok {
		return manifestURL, nil
	}

	return coalesce(ctx, &r.manifests, channel, func(ctx context.Context) (string, error) {
		// Another refresh may have finished between the lookup and here.
		if manifestURL, err := r.store.ManifestURL(channel, r.Now()); err == nil {
			return manifestURL, nil
		}
		return r.refreshManifestURL(ctx, channel)
	})
}

func (r *Resolver) cachedManifestURL(channel string) (string, bool) {
	manifestURL, err := r.store.ManifestURL(channel, r.Now())
	switch {
	case err == nil:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		logger.Debug("{resolver - ManifestURL} using cached manifest URL for %s", channel)
		return manifestURL, true
	case errors.Is(err, types.ErrStale):
		metrics.CacheLookups.WithLabelValues("stale").Inc()
		logger.Debug("{resolver - ManifestURL} %v, refreshing", err)
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	return "", false
}

func (r *Resolver) refreshManifestURL(ctx context.Context, channel string) (string, error) {
	tokenURL, ok := r.store.TokenURL(channel)
	if !ok {
		return "", fmt.Errorf("no credentials observed yet for %s: %w", channel, types.ErrNotFound)
	}

	body, err := r.fetcher.FetchTokenText(ctx, tokenURL)
	if err != nil {
		return "", fmt.Errorf("fetching access token for %s: %w", channel, err)
	}

	cred, err := token.ParseResponse([]byte(body))
	if err != nil {
		return "", fmt.Errorf("access token for %s: %w", channel, err)
	}

	manifestURL := urls.BuildManifestURL(r.config.ManifestBaseURL, channel, cred.Token, cred.Signature, r.nonce())
	r.store.RecordManifestCredential(channel, manifestURL, cred.ExpiresAt)
	metrics.TrackedChannels.Set(float64(r.store.Size()))

	logger.Debug("{resolver - refreshManifestURL} refreshed manifest URL for %s, expires in %s",
		channel, utils.FormatDuration(time.Unix(cred.ExpiresAt, 0).Sub(r.Now())))
	return manifestURL, nil
}

// coalesce runs fn once per key for all concurrent callers. fn is detached
// from the caller's cancellation so one caller leaving does not fail the
// others; the fetcher's own timeouts still bound it.
func coalesce(ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (string, error)) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.CoalescedResolutions.Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", types.ErrNetwork, ctx.Err())
	}
}

// logFailure logs err at the level its kind deserves.
func logFailure(prefix, channel string, err error) {
	switch {
	case errors.Is(err, types.ErrParse):
		logger.Error("%s %s: %v", prefix, channel, err)
	case errors.Is(err, types.ErrNetwork):
		logger.Warn("%s %s: %v", prefix, channel, err)
	default:
		logger.Info("%s %s: %v", prefix, channel, err)
	}
}
