// Package observer receives the token and manifest request URLs a page makes
// and records them as channel credentials. Observation is passive: nothing
// here performs network I/O.
package observer

import (
	"fmt"

	"audio-only-proxy/work/cache"
	"audio-only-proxy/work/config"
	"audio-only-proxy/work/logger"
	"audio-only-proxy/work/metrics"
	"audio-only-proxy/work/token"
	"audio-only-proxy/work/urls"
	"audio-only-proxy/work/utils"

	"github.com/panjf2000/ants/v2"
)

// Kind classifies an observed URL.
type Kind string

const (
	KindToken    Kind = "token"
	KindManifest Kind = "manifest"
	KindIgnored  Kind = "ignored"
)

// Observer is told about every outgoing request URL.
type Observer interface {
	ObserveRequest(rawURL string)
}

// Recorder writes observed credentials into a Store.
type Recorder struct {
	store  *cache.Store
	config *config.Config
}

// NewRecorder creates a Recorder writing into store.
func NewRecorder(store *cache.Store, cfg *config.Config) *Recorder {
	return &Recorder{store: store, config: cfg}
}

// ObserveRequest implements Observer.
func (r *Recorder) ObserveRequest(rawURL string) {
	r.Observe(rawURL)
}

// Observe records rawURL if it is a token or manifest request and reports
// what it was taken for. A manifest URL is only cached when its token
// carries a usable expiry.
func (r *Recorder) Observe(rawURL string) Kind {
	kind, err := r.observe(rawURL)
	metrics.ObservedRequests.WithLabelValues(string(kind)).Inc()

	if err != nil {
		logger.Debug("{observer - Observe} ignoring %s: %v", utils.LogURL(r.config, rawURL), err)
	}
	return kind
}

func (r *Recorder) observe(rawURL string) (Kind, error) {
	if channel, ok := urls.ChannelFromTokenURL(rawURL); ok {
		r.store.RecordTokenURL(channel, rawURL)
		logger.Debug("{observer - observe} token request URL recorded for %s", channel)
		return KindToken, nil
	}

	channel, ok := urls.ChannelFromManifestURL(rawURL)
	if !ok {
		return KindIgnored, fmt.Errorf("not a token or manifest request")
	}

	tokenText, ok := urls.QueryValue(rawURL, "token")
	if !ok || tokenText == "" {
		return KindIgnored, fmt.Errorf("manifest request for %s has no token", channel)
	}

	expires, err := token.ParseExpiry(tokenText)
	if err != nil {
		return KindIgnored, fmt.Errorf("manifest request for %s: %w", channel, err)
	}

	r.store.RecordManifestCredential(channel, urls.AppendAllowAudioOnly(rawURL), expires)
	metrics.TrackedChannels.Set(float64(r.store.Size()))

	logger.Debug("{observer - observe} manifest credential recorded for %s, expires at %d", channel, expires)
	return KindManifest, nil
}

// NewPool builds the worker pool observations run on. The pool never blocks a
// submitter: once every worker is busy Submit fails with ants.ErrPoolOverload
// and Async falls back to running the observation inline.
func NewPool(size int) (*ants.Pool, error) {
	return ants.NewPool(size, ants.WithPreAlloc(true), ants.WithNonblocking(true))
}

// Async hands observations to a worker pool. With a pool from NewPool the
// caller never queues behind busy workers; at worst it does the work itself.
type Async struct {
	next Observer
	pool *ants.Pool
}

// NewAsync wraps next so observations run on pool.
func NewAsync(next Observer, pool *ants.Pool) *Async {
	return &Async{next: next, pool: pool}
}

// ObserveRequest implements Observer. When the pool refuses the task, because
// it is saturated or already released, the observation runs inline instead of
// being lost.
func (a *Async) ObserveRequest(rawURL string) {
	err := a.pool.Submit(func() {
		a.next.ObserveRequest(rawURL)
	})
	if err != nil {
		logger.Warn("{observer - ObserveRequest} worker pool rejected observation, running inline: %v", err)
		a.next.ObserveRequest(rawURL)
	}
}
