package client

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"audio-only-proxy/work/config"
)

func TestDoSetsConfiguredHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.UserAgent = "test-agent/1.0"
	cfg.ClientID = "client-123"
	cfg.ReqOrigin = "https://www.twitch.tv"
	cfg.ReqReferrer = "https://www.twitch.tv/foo"

	hsc := NewHeaderSettingClient(cfg)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := hsc.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	want := map[string]string{
		"User-Agent": "test-agent/1.0",
		"Client-Id":  "client-123",
		"Origin":     "https://www.twitch.tv",
		"Referer":    "https://www.twitch.tv/foo",
		"Accept":     "*/*",
	}
	for k, v := range want {
		if got.Get(k) != v {
			t.Errorf("header %s = %q, want %q", k, got.Get(k), v)
		}
	}
}

func TestDoOmitsEmptyOptionalHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.ClientID = ""
	cfg.ReqOrigin = ""
	cfg.ReqReferrer = ""

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := NewHeaderSettingClient(cfg).Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	for _, k := range []string{"Client-Id", "Origin", "Referer"} {
		if got.Get(k) != "" {
			t.Errorf("header %s should be unset, got %q", k, got.Get(k))
		}
	}
}

func TestBrowserTLSTransportFallsBackForPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "plain")
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.BrowserTLS = true
	hsc := NewHeaderSettingClient(cfg)

	if _, ok := hsc.Client.Transport.(*browserRoundTripper); !ok {
		t.Fatalf("transport = %T, want *browserRoundTripper", hsc.Client.Transport)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := hsc.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "plain" {
		t.Errorf("body = %q", body)
	}
}

// silentListener accepts TCP connections and never writes to them.
func silentListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	var conns []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}

func TestBrowserTLSHandshakeHonoursDeadline(t *testing.T) {
	addr := silentListener(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+addr+"/playlist.m3u8", nil)

	start := time.Now()
	_, err := newBrowserRoundTripper().RoundTrip(req)
	if err == nil {
		t.Fatal("RoundTrip succeeded against a silent server")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("RoundTrip returned after %s, want about 200ms", elapsed)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestBrowserTLSHandshakeHonoursCancel(t *testing.T) {
	addr := silentListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+addr+"/", nil)
	time.AfterFunc(100*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := newBrowserRoundTripper().RoundTrip(req)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RoundTrip ignored cancellation")
	}
}

func TestBrowserTLSResponseReadHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())
	rt := newBrowserRoundTripper()
	rt.rootCAs = roots

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/slow.m3u8", nil)

	start := time.Now()
	_, err := rt.RoundTrip(req)
	if err == nil {
		t.Fatal("RoundTrip succeeded against a stalled handler")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("RoundTrip returned after %s, want about 300ms", elapsed)
	}
}
