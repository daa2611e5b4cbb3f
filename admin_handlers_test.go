package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"audio-only-proxy/work/config"
	"audio-only-proxy/work/logger"
	"audio-only-proxy/work/observer"
	"audio-only-proxy/work/types"

	"github.com/gorilla/mux"
)

func newTestApp(t *testing.T, cfg *config.Config) (*app, *mux.Router) {
	t.Helper()
	pool, err := observer.NewPool(1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Release)

	a, err := newApp(cfg, pool)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	router := mux.NewRouter()
	setupAdminRoutes(router, a)
	return a, router
}

func TestAdminChannelsObfuscated(t *testing.T) {
	cfg := config.Default()
	cfg.ObfuscateUrls = true
	a, router := newTestApp(t, cfg)

	_, store, _ := a.current()
	store.RecordTokenURL("foo", "https://api.twitch.tv/api/channels/foo/access_token?oauth=secret")
	store.RecordManifestCredential("foo", "https://usher.ttvnw.net/api/channel/hls/foo.m3u8?token=secret", time.Now().Unix()+3600)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/channels", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("signed URL leaked: %s", rec.Body.String())
	}

	var states []types.ChannelState
	if err := json.NewDecoder(rec.Body).Decode(&states); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(states) != 1 || states[0].Channel != "foo" || !states[0].Usable {
		t.Errorf("states = %+v", states)
	}
}

func TestAdminForgetChannel(t *testing.T) {
	a, router := newTestApp(t, config.Default())
	_, store, _ := a.current()
	store.RecordTokenURL("foo", "https://api.twitch.tv/api/channels/foo/access_token")
	store.RecordManifestCredential("foo", "https://usher.ttvnw.net/api/channel/hls/foo.m3u8", time.Now().Unix()+3600)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/channels/Foo", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := store.TokenURL("foo"); ok {
		t.Errorf("token URL still cached")
	}
	if store.Size() != 0 {
		t.Errorf("manifest credential still cached")
	}
}

func TestAdminStats(t *testing.T) {
	a, router := newTestApp(t, config.Default())
	_, store, _ := a.current()
	now := time.Now().Unix()
	store.RecordTokenURL("foo", "https://api.twitch.tv/api/channels/foo/access_token")
	store.RecordManifestCredential("foo", "https://usher.ttvnw.net/api/channel/hls/foo.m3u8", now+3600)
	store.RecordManifestCredential("bar", "https://usher.ttvnw.net/api/channel/hls/bar.m3u8", now+10)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var stats StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TrackedChannels != 2 || stats.TokenURLs != 1 || stats.CachedManifests != 2 || stats.UsableManifests != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAdminReloadClearsCredentials(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	_, oldStore, _ := a.current()
	oldStore.RecordTokenURL("foo", "https://api.twitch.tv/api/channels/foo/access_token")

	if err := a.load(config.Default()); err != nil {
		t.Fatalf("load: %v", err)
	}

	_, newStore, _ := a.current()
	if _, ok := newStore.TokenURL("foo"); ok {
		t.Errorf("credentials survived reload")
	}
	if _, ok := oldStore.TokenURL("foo"); ok {
		t.Errorf("old store was not cleared")
	}
}

func TestAdminLogs(t *testing.T) {
	_, router := newTestApp(t, config.Default())
	logger.Info("{admin_test} marker entry")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	if !strings.Contains(rec.Body.String(), "marker entry") {
		t.Errorf("logs missing marker: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/logs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, e := range logger.Entries() {
		if strings.Contains(e.Message, "marker entry") {
			t.Errorf("entry survived clear: %+v", e)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	_, router := newTestApp(t, config.Default())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}
