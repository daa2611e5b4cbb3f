package client

import (
	"bufio"
	"context"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// browserRoundTripper dials HTTPS with a Chrome TLS fingerprint and speaks
// HTTP/2 when the server negotiates it. Plain HTTP goes through the default
// transport.
type browserRoundTripper struct {
	dialer      *net.Dialer
	h2Transport *http2.Transport
	fallback    http.RoundTripper
	rootCAs     *x509.CertPool // nil means the system roots
}

func newBrowserRoundTripper() *browserRoundTripper {
	return &browserRoundTripper{
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 60 * time.Second,
		},
		h2Transport: &http2.Transport{},
		fallback:    http.DefaultTransport,
	}
}

// RoundTrip sends req over a fresh connection. Every step after the dial is
// bound to req.Context(): its deadline is set on the connection, and the
// connection is closed as soon as the context ends, so neither the handshake
// nor the response read can outlive the caller's timeout.
func (t *browserRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.fallback.RoundTrip(req)
	}

	ctx := req.Context()
	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// bound the connection by the request for its whole life
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	fail := func(err error) (*http.Response, error) {
		stop()
		conn.Close()
		return nil, contextError(ctx, err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: req.URL.Hostname(), RootCAs: t.rootCAs}, utls.HelloChrome_120)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fail(err)
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2Transport.NewClientConn(tlsConn)
		if err != nil {
			return fail(err)
		}
		resp, err := h2Conn.RoundTrip(req)
		if err != nil {
			return fail(err)
		}
		resp.Body = &connCloser{ReadCloser: resp.Body, conn: tlsConn, stop: stop}
		return resp, nil
	}

	if err := req.Write(tlsConn); err != nil {
		return fail(err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(tlsConn), req)
	if err != nil {
		return fail(err)
	}
	resp.Body = &connCloser{ReadCloser: resp.Body, conn: tlsConn, stop: stop}
	return resp, nil
}

// contextError reports the context's error in place of err when the request
// failed because its context ended. The connection deadline can fire a moment
// before the context's own timer does.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

// connCloser closes the dedicated connection together with the body and
// releases the context watch.
type connCloser struct {
	io.ReadCloser
	conn net.Conn
	stop func() bool
}

func (c *connCloser) Close() error {
	c.stop()
	c.ReadCloser.Close()
	return c.conn.Close()
}
