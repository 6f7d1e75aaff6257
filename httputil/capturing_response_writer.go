package httputil

import "net/http"

// CapturingResponseWriter remembers the status code and the number of
// bytes written, for access logs
type CapturingResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Size       int64
}

func NewCapturingResponseWriter(w http.ResponseWriter) *CapturingResponseWriter {
	return &CapturingResponseWriter{ResponseWriter: w}
}

func (w *CapturingResponseWriter) WriteHeader(statusCode int) {
	if w.StatusCode == 0 {
		w.StatusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *CapturingResponseWriter) Write(d []byte) (int, error) {
	if w.StatusCode == 0 {
		w.StatusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(d)
	w.Size += int64(n)
	return n, err
}

// Status returns the status sent to the client, 200 if the handler never
// wrote anything
func (w *CapturingResponseWriter) Status() int {
	if w.StatusCode == 0 {
		return http.StatusOK
	}
	return w.StatusCode
}

func (w *CapturingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap is used by http.ResponseController
func (w *CapturingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
