package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"audio-only-proxy/work/logger"
	"audio-only-proxy/work/middleware"
	"audio-only-proxy/work/types"
	"audio-only-proxy/work/urls"
	"audio-only-proxy/work/utils"

	"github.com/gorilla/mux"
)

// StatsResponse is the admin overview of the credential cache and process.
type StatsResponse struct {
	TrackedChannels    int    `json:"trackedChannels"`    // Channels with any known credential
	TokenURLs          int    `json:"tokenUrls"`          // Channels with an observed token request URL
	CachedManifests    int    `json:"cachedManifests"`    // Channels with a manifest credential
	UsableManifests    int    `json:"usableManifests"`    // Manifest credentials outside the safety margin
	Uptime             string `json:"uptime"`             // Time since start
	MemoryUsage        string `json:"memoryUsage"`        // Current heap allocation
	WorkerThreads      int    `json:"workerThreads"`      // Observer pool size
	RunningWorkers     int    `json:"runningWorkers"`     // Observer workers currently busy
	LogLevel           string `json:"logLevel"`           // Active log level
	BrowserTLS         bool   `json:"browserTLS"`         // Browser TLS fingerprint in use upstream
	SafetyMarginSecs   int64  `json:"safetyMarginSecs"`   // Seconds before expiry a credential is refreshed
	MaxTrackedChannels int    `json:"maxTrackedChannels"` // Bound on remembered token URLs
}

var (
	// adminStartTime is used for uptime in the stats endpoint.
	adminStartTime = time.Now()

	// restartChan signals the main loop to reload configuration and drop
	// every cached credential.
	restartChan = make(chan bool, 1)
)

// setupAdminRoutes registers the administrative API on router.
func setupAdminRoutes(router *mux.Router, a *app) {
	router.HandleFunc("/api/stats", corsMiddleware(middleware.GzipMiddleware(handleGetStats(a)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/channels", corsMiddleware(middleware.GzipMiddleware(handleGetAllChannels(a)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/channels/{channel}", corsMiddleware(handleForgetChannel(a))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(middleware.GzipMiddleware(handleGetLogs))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(handleClearLogs)).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/restart", corsMiddleware(handleRestart)).Methods("POST", "OPTIONS")

	logger.Info("{admin - setupAdminRoutes} admin interface initialized")
}

// corsMiddleware lets the extension and browser-based tools call the API from
// any origin and answers preflight requests.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("{admin - corsMiddleware} %s %s", r.Method, r.URL.Path)

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// handleGetStats reports cache occupancy and process health.
func handleGetStats(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		cfg, store, _ := a.current()
		states := store.Snapshot(time.Now())

		stats := StatsResponse{
			TrackedChannels:    len(states),
			CachedManifests:    store.Size(),
			Uptime:             utils.FormatDuration(time.Since(adminStartTime)),
			WorkerThreads:      cfg.WorkerThreads,
			RunningWorkers:     a.pool.Running(),
			LogLevel:           logger.GetLogLevel(),
			BrowserTLS:         cfg.BrowserTLS,
			SafetyMarginSecs:   types.SafetyMarginSeconds,
			MaxTrackedChannels: cfg.MaxTrackedChannels,
		}
		for _, st := range states {
			if st.TokenURL != "" {
				stats.TokenURLs++
			}
			if st.Usable {
				stats.UsableManifests++
			}
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		stats.MemoryUsage = utils.FormatBytes(int64(m.Alloc))

		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.Error("{admin - handleGetStats} failed to encode stats: %v", err)
			http.Error(w, "Failed to encode stats", http.StatusInternalServerError)
		}
	}
}

// handleGetAllChannels lists every channel the cache knows about. Signed
// URLs are obfuscated when obfuscateUrls is set.
func handleGetAllChannels(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		cfg, store, _ := a.current()
		states := store.Snapshot(time.Now())
		for i := range states {
			states[i].TokenURL = utils.LogURL(cfg, states[i].TokenURL)
			states[i].ManifestURL = utils.LogURL(cfg, states[i].ManifestURL)
		}

		if err := json.NewEncoder(w).Encode(states); err != nil {
			logger.Error("{admin - handleGetAllChannels} failed to encode channels: %v", err)
			http.Error(w, "Failed to encode channels", http.StatusInternalServerError)
		}
	}
}

// handleForgetChannel drops the cached credentials of one channel.
func handleForgetChannel(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		channel, ok := urls.NormalizeChannel(mux.Vars(r)["channel"])
		if !ok {
			http.Error(w, "Invalid channel name", http.StatusBadRequest)
			return
		}

		_, store, _ := a.current()
		store.Forget(channel)
		logger.Info("{admin - handleForgetChannel} credentials for %s dropped via admin interface", channel)

		json.NewEncoder(w).Encode(map[string]string{
			"status":  "success",
			"channel": channel,
		})
	}
}

// handleGetLogs returns the recent log entries, oldest first.
func handleGetLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(logger.Entries()); err != nil {
		http.Error(w, "Failed to encode logs", http.StatusInternalServerError)
	}
}

// handleClearLogs empties the recent log entries.
func handleClearLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	logger.ClearEntries()
	logger.Info("{admin - handleClearLogs} log entries cleared via admin interface")

	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// handleRestart asks the main loop to reload configuration and clear all
// cached credentials. The signal is sent after the response is written.
func handleRestart(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	logger.Info("{admin - handleRestart} restart requested via admin interface")

	json.NewEncoder(w).Encode(map[string]string{
		"status":  "restart_initiated",
		"message": fmt.Sprintf("Restarting Audio-Only Proxy %s...", Version),
	})

	go func() {
		time.Sleep(500 * time.Millisecond)
		select {
		case restartChan <- true:
		default:
			logger.Debug("{admin - handleRestart} restart already pending")
		}
	}()
}
