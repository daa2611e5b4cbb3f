package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"
)

// DefaultConfigPath is used when AUDIO_PROXY_CONFIG is not set.
const DefaultConfigPath = "/settings/config.json"

// Config holds all application configuration values for the audio-only proxy.
// It covers the HTTP listener, logging, upstream request behaviour and the
// endpoints used to rebuild manifest URLs.
type Config struct {
	ListenPort           int           `json:"listenPort"`           // Port the HTTP API listens on
	LogLevel             string        `json:"logLevel"`             // DEBUG, INFO, WARN or ERROR
	Debug                bool          `json:"debug"`                // Forces DEBUG logging
	ObfuscateUrls        bool          `json:"obfuscateUrls"`        // Obfuscate signed URLs in logs and admin output
	TokenTimeout         time.Duration `json:"tokenTimeout"`         // Timeout for a token endpoint request
	PlaylistTimeout      time.Duration `json:"playlistTimeout"`      // Timeout for a manifest/playlist request
	MaxRequestsPerSecond int           `json:"maxRequestsPerSecond"` // Upstream request rate limit
	WorkerThreads        int           `json:"workerThreads"`        // Size of the observer worker pool
	MaxTrackedChannels   int           `json:"maxTrackedChannels"`   // Bound on remembered token-request URLs
	ManifestBaseURL      string        `json:"manifestBaseURL"`      // Prefix used when rebuilding manifest URLs
	UserAgent            string        `json:"userAgent"`            // HTTP User-Agent header for upstream requests
	ClientID             string        `json:"clientID"`             // Client-Id header sent to the token endpoint
	ReqOrigin            string        `json:"reqOrigin"`            // HTTP Origin header for upstream requests
	ReqReferrer          string        `json:"reqReferrer"`          // HTTP Referer header for upstream requests
	BrowserTLS           bool          `json:"browserTLS"`           // Use a browser-like TLS fingerprint upstream
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "10s") are parsed into time.Duration values.
type ConfigFile struct {
	ListenPort           int    `json:"listenPort"`
	LogLevel             string `json:"logLevel"`
	Debug                bool   `json:"debug"`
	ObfuscateUrls        bool   `json:"obfuscateUrls"`
	TokenTimeout         string `json:"tokenTimeout"`    // Duration as string (e.g., "10s")
	PlaylistTimeout      string `json:"playlistTimeout"` // Duration as string (e.g., "10s")
	MaxRequestsPerSecond int    `json:"maxRequestsPerSecond"`
	WorkerThreads        int    `json:"workerThreads"`
	MaxTrackedChannels   int    `json:"maxTrackedChannels"`
	ManifestBaseURL      string `json:"manifestBaseURL"`
	UserAgent            string `json:"userAgent"`
	ClientID             string `json:"clientID"`
	ReqOrigin            string `json:"reqOrigin"`
	ReqReferrer          string `json:"reqReferrer"`
	BrowserTLS           bool   `json:"browserTLS"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// Path returns the configuration file location, honouring AUDIO_PROXY_CONFIG.
func Path() string {
	if p := os.Getenv("AUDIO_PROXY_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from Path().
//   - Falls back to default config if file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := Path()
	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Manifest base: %s", obfuscateURL(config.ManifestBaseURL))
		log.Printf("  Token timeout: %s", config.TokenTimeout)
		log.Printf("  Playlist timeout: %s", config.PlaylistTimeout)
		log.Printf("  Max requests/sec: %d", config.MaxRequestsPerSecond)
		log.Printf("  Browser TLS: %v", config.BrowserTLS)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left at zero and filled by validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenPort:           cf.ListenPort,
		LogLevel:             cf.LogLevel,
		Debug:                cf.Debug,
		ObfuscateUrls:        cf.ObfuscateUrls,
		MaxRequestsPerSecond: cf.MaxRequestsPerSecond,
		WorkerThreads:        cf.WorkerThreads,
		MaxTrackedChannels:   cf.MaxTrackedChannels,
		ManifestBaseURL:      cf.ManifestBaseURL,
		UserAgent:            cf.UserAgent,
		ClientID:             cf.ClientID,
		ReqOrigin:            cf.ReqOrigin,
		ReqReferrer:          cf.ReqReferrer,
		BrowserTLS:           cf.BrowserTLS,
	}

	var err error
	if cf.TokenTimeout != "" {
		if config.TokenTimeout, err = time.ParseDuration(cf.TokenTimeout); err != nil {
			return nil, fmt.Errorf("invalid tokenTimeout: %w", err)
		}
	}
	if cf.PlaylistTimeout != "" {
		if config.PlaylistTimeout, err = time.ParseDuration(cf.PlaylistTimeout); err != nil {
			return nil, fmt.Errorf("invalid playlistTimeout: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration used when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenPort:           8080,
		LogLevel:             "INFO",
		TokenTimeout:         10 * time.Second,
		PlaylistTimeout:      10 * time.Second,
		MaxRequestsPerSecond: 10,
		WorkerThreads:        4,
		MaxTrackedChannels:   1000,
		ManifestBaseURL:      "https://usher.ttvnw.net/api/channel/hls/",
		UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ReqOrigin:            "https://www.twitch.tv",
		ReqReferrer:          "https://www.twitch.tv/",
	}
}

// validateAndSetDefaults fills in defaults for missing or invalid values.
func validateAndSetDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.ListenPort <= 0 || config.ListenPort > 65535 {
		config.ListenPort = defaults.ListenPort
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.Debug {
		config.LogLevel = "DEBUG"
	}
	if config.TokenTimeout <= 0 {
		config.TokenTimeout = defaults.TokenTimeout
	}
	if config.PlaylistTimeout <= 0 {
		config.PlaylistTimeout = defaults.PlaylistTimeout
	}
	if config.MaxRequestsPerSecond <= 0 {
		config.MaxRequestsPerSecond = defaults.MaxRequestsPerSecond
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = defaults.WorkerThreads
	}
	if config.MaxTrackedChannels <= 0 {
		config.MaxTrackedChannels = defaults.MaxTrackedChannels
	}
	if config.ManifestBaseURL == "" {
		config.ManifestBaseURL = defaults.ManifestBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	// ClientID, ReqOrigin and ReqReferrer may remain empty
}

// Default returns a validated default configuration without touching the cache.
func Default() *Config {
	cfg := getDefaultConfig()
	validateAndSetDefaults(cfg)
	return cfg
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		ListenPort:           8080,
		LogLevel:             "INFO",
		Debug:                false,
		ObfuscateUrls:        true,
		TokenTimeout:         "10s",
		PlaylistTimeout:      "10s",
		MaxRequestsPerSecond: 10,
		WorkerThreads:        4,
		MaxTrackedChannels:   1000,
		ManifestBaseURL:      "https://usher.ttvnw.net/api/channel/hls/",
		UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ClientID:             "",
		ReqOrigin:            "https://www.twitch.tv",
		ReqReferrer:          "https://www.twitch.tv/",
		BrowserTLS:           false,
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// obfuscateURL masks the path and query of a URL for logging.
//
// Example:
//
//	Input:  "https://usher.ttvnw.net/api/channel/hls/foo.m3u8?token=abc"
//	Output: "https://usher.ttvnw.net/***?***"
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
