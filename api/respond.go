package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kjk/despacho/log"
	"github.com/kjk/despacho/records"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	d, err := json.Marshal(v)
	if err != nil {
		log.Errorf("json.Marshal() failed with '%s'\n", err)
		code = http.StatusInternalServerError
		d = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(d)
}

func writeText(w http.ResponseWriter, code int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(s))
}

// writeError sends {"error": msg} with the status matching err
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := records.HTTPStatus(err)
	var me *records.MethodNotAllowedError
	if errors.As(err, &me) {
		w.Header().Set("Allow", me.AllowHeader())
		writeJSON(w, code, errorResponse{Error: "Method not allowed"})
		return
	}
	if code >= 500 {
		log.Errorf("%s %s failed with '%s'\n", r.Method, r.URL.Path, err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func methodNotAllowed(r *http.Request, allowed ...string) error {
	return &records.MethodNotAllowedError{Method: r.Method, Allowed: allowed}
}
