// Package api is the HTTP interface of the dispatch log:
//
//	POST /api/records      write a record, returns {ok, id}
//	GET  /api/records      newest records, ?limit=N (default 100)
//	GET  /api/descargas    all records as a CSV download
//	POST /api/commit       append a record to the GitHub file (if configured)
//	GET  /api/health       liveness
//
// Anything else is a static file. Every response has CORS headers.
package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/kjk/despacho/log"
	"github.com/kjk/despacho/records"
)

// max size of POST body
const maxBodySize = 1 << 20

type Options struct {
	Service *records.Service
	// Commit serves /api/commit, nil disables it
	Commit http.Handler
	// Assets serves everything that is not /api/..., nil means 404
	Assets http.Handler
}

type handler struct {
	svc *records.Service
}

// NewHandler returns the complete HTTP handler, with logging, CORS and
// compression
func NewHandler(opts *Options) http.Handler {
	h := &handler{svc: opts.Service}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/records", h.handleRecords)
	mux.HandleFunc("/api/descargas", h.handleDescargas)
	mux.HandleFunc("/api/health", handleHealth)
	if opts.Commit != nil {
		mux.Handle("/api/commit", opts.Commit)
	}
	assets := opts.Assets
	if assets == nil {
		assets = http.NotFoundHandler()
	}
	mux.Handle("/", assets)
	return WithLogging(WithCORS(WithCompression(mux)))
}

// readBody reads at most maxBodySize bytes
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	d, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, &records.ValidationError{Msg: "request body too large"}
		}
		return nil, &records.ValidationError{Msg: "failed to read request body: " + err.Error()}
	}
	return d, nil
}

type writeResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

type listResponse struct {
	Items []*records.Record `json:"items"`
}

// parseLimit returns def for a missing limit
func parseLimit(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, &records.ValidationError{Msg: "limit must be a positive integer"}
	}
	return n, nil
}

// /api/records
func (h *handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		limit, err := parseLimit(r.URL.Query().Get("limit"), h.svc.DefaultLimit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, err := h.svc.List(ctx, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Items: items})
	case http.MethodPost:
		d, err := readBody(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		payload, err := records.DecodePayload(d)
		if err != nil {
			writeError(w, r, err)
			return
		}
		rec, err := h.svc.Write(ctx, payload)
		if err != nil {
			writeError(w, r, err)
			return
		}
		log.EventFromRequest(r, "record.written", "id", rec.ID, "ts", rec.Ts)
		writeJSON(w, http.StatusOK, writeResponse{OK: true, ID: rec.ID})
	default:
		writeError(w, r, methodNotAllowed(r, "GET", "POST", "OPTIONS"))
	}
}

// /api/descargas
func (h *handler) handleDescargas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, methodNotAllowed(r, "GET", "OPTIONS"))
		return
	}
	// render fully first so that a failure can still be reported as JSON
	var buf bytes.Buffer
	n, err := h.svc.ExportCSV(r.Context(), &buf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.EventFromRequest(r, "export.csv", "rows", n)
	hdr := w.Header()
	hdr.Set("Content-Type", records.CSVContentType)
	hdr.Set("Content-Disposition", `attachment; filename="`+h.svc.CSVFileName()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// /api/health
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok")
}
