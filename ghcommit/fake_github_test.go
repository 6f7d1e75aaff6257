package ghcommit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeGitHub implements the contents API for a single file, including
// sha checks on PUT
type fakeGitHub struct {
	t     *testing.T
	token string
	path  string

	mu      sync.Mutex
	exists  bool
	content []byte
	sha     string
	commits []putRequest
	// called before a PUT is checked, to simulate a concurrent commit
	beforePut func(g *fakeGitHub)
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *httptest.Server) {
	g := &fakeGitHub{
		t:     t,
		token: "secret-token",
		path:  "/repos/acme/despachos/contents/descargas.json",
	}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, srv
}

// setFile replaces the file as if someone else committed it
func (g *fakeGitHub) setFile(content string) {
	g.exists = true
	g.content = []byte(content)
	g.sha = fmt.Sprintf("sha-ext-%d", len(g.commits)+100)
}

func (g *fakeGitHub) items() []json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	var res []json.RawMessage
	if err := json.Unmarshal(g.content, &res); err != nil {
		g.t.Fatalf("file is not a JSON array: %s", err)
	}
	return res
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// wrap base64 lines like GitHub does
func wrapLines(s string, n int) string {
	var sb strings.Builder
	for len(s) > n {
		sb.WriteString(s[:n])
		sb.WriteByte('\n')
		s = s[n:]
	}
	sb.WriteString(s)
	return sb.String()
}

func (g *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer "+g.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}
	if r.URL.Path != g.path {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("ref") != "main" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No commit found for the ref"})
			return
		}
		if !g.exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"sha":      g.sha,
			"encoding": "base64",
			"content":  wrapLines(base64.StdEncoding.EncodeToString(g.content), 60) + "\n",
		})
	case http.MethodPut:
		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
			return
		}
		if g.beforePut != nil {
			g.beforePut(g)
		}
		if g.exists && req.SHA != g.sha {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "descargas.json does not match " + req.SHA})
			return
		}
		if !g.exists && req.SHA != "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "sha wasn't supplied"})
			return
		}
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "content is not valid Base64"})
			return
		}
		status := http.StatusOK
		if !g.exists {
			status = http.StatusCreated
		}
		g.commits = append(g.commits, req)
		g.exists = true
		g.content = content
		g.sha = fmt.Sprintf("sha-%d", len(g.commits))
		writeJSON(w, status, map[string]any{"content": map[string]string{"sha": g.sha}})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "Not allowed"})
	}
}
