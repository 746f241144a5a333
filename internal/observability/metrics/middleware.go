package metrics

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// ResponseRecorder wraps an http.ResponseWriter to capture the status code and
// the number of body bytes written while keeping Flusher, Hijacker and
// ReaderFrom available to the handler.
type ResponseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

// NewResponseRecorder returns a recorder whose status defaults to 200.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status is the status code sent to the client.
func (rr *ResponseRecorder) Status() int {
	return rr.status
}

// BytesWritten is the number of body bytes sent to the client.
func (rr *ResponseRecorder) BytesWritten() int64 {
	return rr.bytes
}

func (rr *ResponseRecorder) WriteHeader(status int) {
	if !rr.wroteHeader {
		rr.status = status
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *ResponseRecorder) Write(p []byte) (int, error) {
	rr.wroteHeader = true
	n, err := rr.ResponseWriter.Write(p)
	rr.bytes += int64(n)
	return n, err
}

func (rr *ResponseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rr *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// ReadFrom keeps sendfile available for file delivery.
func (rr *ResponseRecorder) ReadFrom(r io.Reader) (int64, error) {
	rr.wroteHeader = true
	var (
		n   int64
		err error
	)
	if readerFrom, ok := rr.ResponseWriter.(io.ReaderFrom); ok {
		n, err = readerFrom.ReadFrom(r)
	} else {
		n, err = io.Copy(rr.ResponseWriter, r)
	}
	rr.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// HTTPMiddleware records request metrics labelled by the chi route pattern.
// It must be installed with Router.Use so the pattern is populated by the
// time the handler returns.
func HTTPMiddleware(recorder *Recorder) func(http.Handler) http.Handler {
	rec := recorder
	if rec == nil {
		rec = Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rr := NewResponseRecorder(w)
			start := time.Now()
			rec.requestStarted()
			defer rec.requestFinished()

			next.ServeHTTP(rr, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			rec.ObserveRequest(r.Method, route, rr.Status(), time.Since(start))
		})
	}
}
