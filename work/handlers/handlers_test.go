package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"audio-only-proxy/work/types"

	"github.com/gorilla/mux"
)

const audioURL = "https://video-edge.example.net/v1/playlist/audio_only.m3u8"

type fakeResolver struct {
	mu       sync.Mutex
	channels []string
	err      error
}

func (f *fakeResolver) ResolveAudioOnlyURL(ctx context.Context, channel string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	if f.err != nil {
		return "", f.err
	}
	return audioURL, nil
}

func (f *fakeResolver) Variants(ctx context.Context, channel string) ([]types.Variant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []types.Variant{{Name: "audio_only", URL: audioURL, AudioOnly: true}}, nil
}

type fakeObserver struct {
	urls []string
}

func (f *fakeObserver) ObserveRequest(rawURL string) {
	f.urls = append(f.urls, rawURL)
}

func postMessage(t *testing.T, h http.HandlerFunc, body string) (*httptest.ResponseRecorder, types.MessageResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)

	var resp types.MessageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		err         error
		wantStatus  int
		wantURL     bool
		wantChannel string
	}{
		{
			name:        "resolve by channel",
			body:        `{"command":"resolveAudioUrl","channel":"foo"}`,
			wantStatus:  http.StatusOK,
			wantURL:     true,
			wantChannel: "foo",
		},
		{
			name:        "resolve by page url",
			body:        `{"command":"resolveAudioUrl","pageUrl":"https://www.twitch.tv/Foo?referrer=raid"}`,
			wantStatus:  http.StatusOK,
			wantURL:     true,
			wantChannel: "foo",
		},
		{
			name:       "reserved page",
			body:       `{"command":"resolveAudioUrl","pageUrl":"https://www.twitch.tv/directory/following"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:        "resolution fails",
			body:        `{"command":"resolveAudioUrl","channel":"foo"}`,
			err:         fmt.Errorf("no credentials: %w", types.ErrNotFound),
			wantStatus:  http.StatusOK,
			wantChannel: "foo",
		},
		{
			name:       "unknown command",
			body:       `{"command":"somethingElse","channel":"foo"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed json",
			body:       `{"command":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{err: tt.err}
			rec, resp := postMessage(t, HandleMessage(res), tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantURL {
				if resp.StreamURL == nil || *resp.StreamURL != audioURL {
					t.Errorf("streamUrl = %v, want %q", resp.StreamURL, audioURL)
				}
			} else if resp.StreamURL != nil {
				t.Errorf("streamUrl = %q, want null", *resp.StreamURL)
			}
			if !strings.Contains(rec.Body.String(), `"streamUrl"`) {
				t.Errorf("body %q lacks streamUrl key", rec.Body.String())
			}

			if tt.wantChannel == "" {
				if len(res.channels) != 0 {
					t.Errorf("resolver called for %v", res.channels)
				}
			} else if len(res.channels) != 1 || res.channels[0] != tt.wantChannel {
				t.Errorf("resolver called with %v, want [%s]", res.channels, tt.wantChannel)
			}
		})
	}
}

func TestHandleObserve(t *testing.T) {
	obs := &fakeObserver{}
	h := HandleObserve(obs)

	req := httptest.NewRequest(http.MethodPost, "/api/observe",
		strings.NewReader(`{"url":"https://api.twitch.tv/api/channels/foo/access_token"}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if len(obs.urls) != 1 {
		t.Fatalf("observed %d urls, want 1", len(obs.urls))
	}

	for _, body := range []string{`not json`, `{}`} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/api/observe", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
	if len(obs.urls) != 1 {
		t.Errorf("bad requests reached the observer")
	}
}

func TestHandleAudio(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "redirect", wantStatus: http.StatusFound},
		{name: "not found", err: types.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "upstream down", err: types.ErrNetwork, wantStatus: http.StatusBadGateway},
		{name: "bad token", err: types.ErrParse, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := mux.NewRouter()
			router.HandleFunc("/audio/{channel}", HandleAudio(&fakeResolver{err: tt.err}))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audio/foo", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusFound && rec.Header().Get("Location") != audioURL {
				t.Errorf("Location = %q", rec.Header().Get("Location"))
			}
		})
	}
}

func TestHandleVariants(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/channels/{channel}/variants", HandleVariants(&fakeResolver{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/channels/foo/variants", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var variants []types.Variant
	if err := json.NewDecoder(rec.Body).Decode(&variants); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(variants) != 1 || !variants[0].AudioOnly {
		t.Errorf("variants = %+v", variants)
	}
}
