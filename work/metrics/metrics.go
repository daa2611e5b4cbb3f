package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolutions counts audio-only resolution requests by outcome.
// The "result" label is "ok" or a failure reason (not_found, network, parse, other).
var Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "audio_proxy_resolutions_total",
	Help: "Audio-only stream resolutions by result",
}, []string{"result"})

// CacheLookups counts manifest credential lookups: hit, miss or stale.
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "audio_proxy_cache_lookups_total",
	Help: "Manifest credential cache lookups by result",
}, []string{"result"})

// UpstreamRequests counts token and playlist fetches.
// "kind" is token or playlist, "outcome" is ok, not_found, network or parse.
var UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "audio_proxy_upstream_requests_total",
	Help: "Upstream token and playlist requests by outcome",
}, []string{"kind", "outcome"})

// UpstreamDuration observes how long upstream fetches take.
var UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "audio_proxy_upstream_request_seconds",
	Help:    "Upstream request latency",
	Buckets: prometheus.DefBuckets,
}, []string{"kind"})

// ObservedRequests counts request observations by classification (token, manifest, ignored).
var ObservedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "audio_proxy_observed_requests_total",
	Help: "Request URLs reported by the observer hook",
}, []string{"kind"})

// CoalescedResolutions counts callers that shared an in-flight resolution.
var CoalescedResolutions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "audio_proxy_coalesced_resolutions_total",
	Help: "Resolutions answered by another caller's in-flight request",
})

// TrackedChannels is the number of channels with a cached manifest credential.
var TrackedChannels = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "audio_proxy_tracked_channels",
	Help: "Channels with a cached manifest credential",
})
