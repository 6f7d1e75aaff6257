package api

import (
	"net/http"
	"time"

	"github.com/kjk/despacho/httputil"
	"github.com/kjk/despacho/log"
	"github.com/klauspost/compress/gzhttp"
)

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS,PUT,DELETE")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// WithCORS adds permissive CORS headers to every response and answers
// every OPTIONS request with an empty 200
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w.Header())
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithLogging writes every request to the access log
func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		cw := httputil.NewCapturingResponseWriter(w)
		next.ServeHTTP(cw, r)
		dur := time.Since(start)
		code := cw.Status()
		log.IfErrf(log.HTTPRequest(r, code, cw.Size, dur))
		log.Verbosef("%s %s %d %d bytes in %s\n", r.Method, r.URL.Path, code, cw.Size, dur)
	})
}

// WithCompression gzips responses for clients that accept it
func WithCompression(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
