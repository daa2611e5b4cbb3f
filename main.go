package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"audio-only-proxy/work/cache"
	"audio-only-proxy/work/client"
	"audio-only-proxy/work/config"
	"audio-only-proxy/work/fetcher"
	"audio-only-proxy/work/handlers"
	"audio-only-proxy/work/logger"
	"audio-only-proxy/work/metrics"
	"audio-only-proxy/work/middleware"
	"audio-only-proxy/work/observer"
	"audio-only-proxy/work/resolver"
	"audio-only-proxy/work/types"
)

var (
	Version = "v0.1.0" // default version
)

// app holds the components built from one configuration. A restart swaps
// them out wholesale; handlers always go through the current set.
type app struct {
	mu       sync.RWMutex
	config   *config.Config
	store    *cache.Store
	resolver *resolver.Resolver
	recorder *observer.Recorder
	pool     *ants.Pool
}

// newApp builds the pipeline for cfg.
func newApp(cfg *config.Config, pool *ants.Pool) (*app, error) {
	a := &app{pool: pool}
	if err := a.load(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// load replaces the store, client, fetcher, resolver and recorder with fresh
// ones for cfg. Everything cached under the old configuration is dropped.
func (a *app) load(cfg *config.Config) error {
	store, err := cache.NewStore(cfg.MaxTrackedChannels)
	if err != nil {
		return err
	}

	httpClient := client.NewHeaderSettingClient(cfg)
	res := resolver.New(store, fetcher.New(httpClient, cfg), cfg)
	rec := observer.NewRecorder(store, cfg)

	logger.SetLogLevel(cfg.LogLevel)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		a.store.Clear()
	}
	a.config = cfg
	a.store = store
	a.resolver = res
	a.recorder = rec
	metrics.TrackedChannels.Set(0)
	return nil
}

func (a *app) current() (*config.Config, *cache.Store, *resolver.Resolver) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config, a.store, a.resolver
}

// ResolveAudioOnlyURL implements handlers.AudioResolver.
func (a *app) ResolveAudioOnlyURL(ctx context.Context, channel string) (string, error) {
	_, _, res := a.current()
	return res.ResolveAudioOnlyURL(ctx, channel)
}

// Variants implements handlers.AudioResolver.
func (a *app) Variants(ctx context.Context, channel string) ([]types.Variant, error) {
	_, _, res := a.current()
	return res.Variants(ctx, channel)
}

// ObserveRequest implements observer.Observer.
func (a *app) ObserveRequest(rawURL string) {
	a.mu.RLock()
	rec := a.recorder
	a.mu.RUnlock()
	rec.ObserveRequest(rawURL)
}

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// observations run on a bounded, nonblocking pool; overflow runs inline
	workerPool, err := observer.NewPool(cfg.WorkerThreads)
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	application, err := newApp(cfg, workerPool)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	// Setup HTTP routes
	router := mux.NewRouter()

	// extension endpoints
	router.HandleFunc("/api/observe", corsMiddleware(handlers.HandleObserve(observer.NewAsync(application, workerPool)))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/message", corsMiddleware(handlers.HandleMessage(application))).Methods("POST", "OPTIONS")

	// player endpoint
	router.HandleFunc("/audio/{channel}", handlers.HandleAudio(application)).Methods("GET")

	router.HandleFunc("/api/channels/{channel}/variants", corsMiddleware(middleware.GzipMiddleware(handlers.HandleVariants(application)))).Methods("GET", "OPTIONS")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, application)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting Audio-Only Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Address: %s", addr)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Token Timeout: %s", cfg.TokenTimeout)
	logger.Info("  - Playlist Timeout: %s", cfg.PlaylistTimeout)
	logger.Info("  - Max Requests/sec: %d", cfg.MaxRequestsPerSecond)
	logger.Info("  - Max Tracked Channels: %d", cfg.MaxTrackedChannels)
	logger.Info("  - Browser TLS: %v", cfg.BrowserTLS)
	logger.Info("  - Log Level: %s", cfg.LogLevel)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// gracefully restart if it's requested to do.
	go func() {
		for {
			<-restartChan
			logger.Info("Graceful restart requested...")

			// CLEAR CONFIG CACHE FIRST
			config.ClearConfigCache()
			newConfig := config.LoadConfig()

			if err := application.load(newConfig); err != nil {
				logger.Error("Graceful restart failed, keeping previous state: %v", err)
				continue
			}
			if newConfig.ListenPort != cfg.ListenPort {
				logger.Warn("listenPort changed to %d; it takes effect on the next process start", newConfig.ListenPort)
			}

			logger.Info("Graceful restart completed - credential cache cleared")
		}
	}()

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// fire us up
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
