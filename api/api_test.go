package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjk/despacho/index"
	"github.com/kjk/despacho/kv"
	"github.com/kjk/despacho/records"
	"github.com/kjk/despacho/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenRepo struct{}

func (brokenRepo) Append(ctx context.Context, rec *records.Record) error {
	return &records.PersistenceError{Op: "write record", Err: errors.New("store is down")}
}

func (brokenRepo) List(ctx context.Context, limit int) ([]*records.Record, error) {
	return nil, &records.PersistenceError{Op: "read index", Err: errors.New("store is down")}
}

func newTestService() *records.Service {
	store := kv.NewMemory()
	svc := records.NewService(records.NewKVRepository(store, index.NewKVIndex(store)))
	svc.Now = func() time.Time {
		return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func newTestHandler(t *testing.T) http.Handler {
	assets := &server.Server{
		Handlers: []server.Handler{
			server.NewInMemoryFilesHandler("/index.html", []byte("<h1>Despacho</h1>")),
		},
	}
	return NewHandler(&Options{
		Service: newTestService(),
		Commit:  &CommitHandler{Repo: &fakeAppender{}},
		Assets:  assets,
	})
}

func do(h http.Handler, method, uri, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, uri, nil)
	} else {
		r = httptest.NewRequest(method, uri, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func assertCORS(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	h := w.Header()
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,OPTIONS,PUT,DELETE", h.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", h.Get("Access-Control-Allow-Headers"))
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

func TestPreflight(t *testing.T) {
	h := newTestHandler(t)
	for _, uri := range []string{"/api/records", "/api/descargas", "/anything/else"} {
		w := do(h, http.MethodOptions, uri, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
		assertCORS(t, w)
	}
}

func TestWriteAndList(t *testing.T) {
	h := newTestHandler(t)
	w := do(h, http.MethodPost, "/api/records", `{"tecnico":"Ana","material":"Cable","cantidad":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assertCORS(t, w)
	var wr struct {
		OK bool   `json:"ok"`
		ID string `json:"id"`
	}
	decodeJSON(t, w, &wr)
	assert.True(t, wr.OK)
	assert.Len(t, wr.ID, 36)

	w = do(h, http.MethodGet, "/api/records?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assertCORS(t, w)
	var lr struct {
		Items []map[string]any `json:"items"`
	}
	decodeJSON(t, w, &lr)
	require.Len(t, lr.Items, 1)
	it := lr.Items[0]
	assert.Equal(t, wr.ID, it["id"])
	assert.Equal(t, "Cable", it["material"])
	assert.Equal(t, float64(5), it["cantidad"])
	assert.Equal(t, float64(time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC).UnixMilli()), it["ts"])
}

func TestWriteEmptyBody(t *testing.T) {
	h := newTestHandler(t)
	w := do(h, http.MethodPost, "/api/records", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWriteMalformed(t *testing.T) {
	h := newTestHandler(t)
	for _, body := range []string{"{", "[1,2]", `"x"`} {
		w := do(h, http.MethodPost, "/api/records", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body: %s", body)
		assertCORS(t, w)
		var er errorResponse
		decodeJSON(t, w, &er)
		assert.NotEmpty(t, er.Error)
	}
}

func TestListEmpty(t *testing.T) {
	h := newTestHandler(t)
	w := do(h, http.MethodGet, "/api/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
}

func TestListBadLimit(t *testing.T) {
	h := newTestHandler(t)
	for _, limit := range []string{"abc", "0", "-3", "1.5"} {
		w := do(h, http.MethodGet, "/api/records?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit: %s", limit)
	}
}

func TestListLimit(t *testing.T) {
	h := newTestHandler(t)
	for i := 0; i < 5; i++ {
		w := do(h, http.MethodPost, "/api/records", `{}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(h, http.MethodGet, "/api/records?limit=2", "")
	var lr struct {
		Items []map[string]any `json:"items"`
	}
	decodeJSON(t, w, &lr)
	assert.Len(t, lr.Items, 2)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	w := do(h, http.MethodPut, "/api/records", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Allow"))
	assertCORS(t, w)

	w = do(h, http.MethodDelete, "/api/descargas", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Allow"))

	w = do(h, http.MethodGet, "/api/commit", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Allow"))
}

func TestDescargas(t *testing.T) {
	h := newTestHandler(t)
	w := do(h, http.MethodGet, "/api/descargas", "")
	require.Equal(t, http.StatusOK, w.Code)
	assertCORS(t, w)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="despachos_2025-03-14.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "id,ts,tecnico,material,cantidad,po,comentarios", w.Body.String())

	do(h, http.MethodPost, "/api/records", `{"material":"Tubo \"PVC\""}`)
	w = do(h, http.MethodGet, "/api/descargas", "")
	lines := strings.Split(w.Body.String(), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"Tubo ""PVC"""`)
}

func TestStoreFailure(t *testing.T) {
	h := NewHandler(&Options{Service: records.NewService(brokenRepo{})})
	w := do(h, http.MethodPost, "/api/records", `{}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assertCORS(t, w)
	var er errorResponse
	decodeJSON(t, w, &er)
	assert.Contains(t, er.Error, "store is down")

	w = do(h, http.MethodGet, "/api/records", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	w = do(h, http.MethodGet, "/api/descargas", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestStaticFallback(t *testing.T) {
	h := newTestHandler(t)
	w := do(h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<h1>Despacho</h1>", w.Body.String())
	assertCORS(t, w)

	w = do(h, http.MethodGet, "/api/records/extra", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// no assets configured
	h = NewHandler(&Options{Service: newTestService()})
	w = do(h, http.MethodGet, "/index.html", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assertCORS(t, w)
}

func TestStaticDirUnknownPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>Despacho</h1>"), 0644))
	assets, err := server.NewDirServer(dir)
	require.NoError(t, err)
	h := NewHandler(&Options{Service: newTestService(), Assets: assets})

	for _, uri := range []string{"/.env", "/files/", "/backup.db", "/index.php?x=1", "/nope"} {
		w := do(h, http.MethodGet, uri, "")
		assert.Equal(t, http.StatusNotFound, w.Code, "uri: %s", uri)
		assertCORS(t, w)
	}
	w := do(h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	w := do(h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestCompression(t *testing.T) {
	h := newTestHandler(t)
	long := strings.Repeat("cable de cobre ", 200)
	for i := 0; i < 3; i++ {
		do(h, http.MethodPost, "/api/records", `{"comentarios":"`+long+`"}`)
	}
	r := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	d, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(d), "cable de cobre")
}
