package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"audio-only-proxy/work/logger"

	"github.com/klauspost/compress/gzip"
)

// gzipWriterPool keeps gzip writers around between responses so the admin and
// variants endpoints do not allocate a compressor per request. Writers use
// BestSpeed: the payloads are small JSON documents where latency matters more
// than the last few percent of compression.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter routes the response body through a gzip writer while
// headers and the status code still go to the wrapped http.ResponseWriter.
// It remembers whether the header was sent so a handler's explicit status
// (a 404 from the variants endpoint, say) is the one the client sees.
type gzipResponseWriter struct {
	io.Writer                // gzip writer for the body
	http.ResponseWriter      // original writer for headers and status
	wroteHeader         bool // WriteHeader already forwarded
}

// WriteHeader forwards status once and drops any Content-Length the handler
// set, since it describes the uncompressed body.
func (w *gzipResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

// Write compresses b into the response. A handler that never called
// WriteHeader gets an implicit 200 before the first chunk, matching what
// net/http does for an unwrapped writer.
func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// Flush pushes whatever the gzip writer has buffered out to the client, then
// flushes the underlying writer if it supports it.
func (w *gzipResponseWriter) Flush() {
	// drain the compressor first so the flush carries real data
	if gzw, ok := w.Writer.(*gzip.Writer); ok {
		gzw.Flush()
	}

	// then the connection
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// GzipMiddleware wraps an http.HandlerFunc with transparent gzip compression.
// Requests whose Accept-Encoding advertises gzip get their body compressed
// through a pooled writer; every other request reaches next untouched.
//
// Compressed responses carry Vary: Accept-Encoding so shared caches keep the
// two encodings apart. The pooled writer is closed and returned to the pool in
// a deferred call, so it is never leaked even when next panics.
func GzipMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		// pass through if the client doesn't accept gzip encoding
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next(w, r)
			return
		}

		// advertise the encoding before any handler output
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")

		// acquire a writer from the pool and point it at this response
		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			if err := gz.Close(); err != nil {
				logger.Error("{middleware/compression - GzipMiddleware} closing gzip writer for %s %s: %v", r.Method, r.URL.Path, err)
			}
			gzipWriterPool.Put(gz)
		}()

		// hand off to the next handler with the compressing writer
		next(&gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	}
}
