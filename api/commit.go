package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kjk/despacho/log"
	"github.com/kjk/despacho/records"
)

// RawAppender appends a JSON record to the remote file as is
type RawAppender interface {
	AppendRaw(ctx context.Context, rec json.RawMessage) error
}

// CommitHandler appends {action: "append", record: {...}} to the GitHub
// file. Responses are plain text.
type CommitHandler struct {
	Repo RawAppender
	// ConfigErr is returned for every valid request if the GitHub client
	// couldn't be configured, e.g. because there's no token
	ConfigErr error
}

type commitRequest struct {
	Action string          `json:"action"`
	Record json.RawMessage `json:"record"`
}

func isJSONObject(d json.RawMessage) bool {
	d = bytes.TrimSpace(d)
	return len(d) > 0 && d[0] == '{'
}

func (h *CommitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	d, err := readBody(w, r)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	var req commitRequest
	if err = json.Unmarshal(d, &req); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Action != "append" || !isJSONObject(req.Record) {
		writeText(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if h.ConfigErr != nil {
		log.Errorf("commit: %s\n", h.ConfigErr)
		writeText(w, http.StatusInternalServerError, h.ConfigErr.Error())
		return
	}

	err = h.Repo.AppendRaw(r.Context(), req.Record)
	if err != nil {
		log.ErrorEventFromRequest(r, err, "commit.failed")
		code, msg := commitErrorResponse(err)
		writeText(w, code, msg)
		return
	}
	log.EventFromRequest(r, "commit.appended", "size", len(req.Record))
	writeText(w, http.StatusOK, "OK")
}

func commitErrorResponse(err error) (int, string) {
	var ue *records.UpstreamError
	if errors.As(err, &ue) {
		code := records.HTTPStatus(err)
		if ue.Op == records.OpFetch {
			return code, "Failed to fetch file metadata"
		}
		return code, "Failed to update file: " + ue.Body
	}
	var ve *records.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, "Invalid payload"
	}
	return http.StatusInternalServerError, "Error: " + err.Error()
}

// NewCommitServer is the standalone deployment of CommitHandler, answering
// on every path
func NewCommitServer(h *CommitHandler) http.Handler {
	return WithLogging(WithCORS(h))
}
