package httputil

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var (
	serveFileMu sync.Mutex
)

func fileExists(path string) bool {
	st, err := os.Lstat(path)
	return err == nil && st.Mode().IsRegular()
}

// MimeTypeFromFileName returns content type based on file extension
func MimeTypeFromFileName(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".webmanifest":
		return "application/manifest+json"
	}
	return mime.TypeByExtension(ext)
}

func CanServeCompressed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".html", ".txt", ".css", ".js", ".xml", ".json", ".svg":
		return true
	}
	return false
}

// ServeFileMaybeBr serves a brotli-compressed version of path if the client
// accepts it, creating path.br next to path on first use. Returns false if
// it didn't write a response.
func ServeFileMaybeBr(w http.ResponseWriter, r *http.Request, path string) bool {
	if r == nil || !CanServeCompressed(path) {
		return false
	}
	enc := r.Header.Get("Accept-Encoding")
	if !strings.Contains(enc, "br") {
		return false
	}
	pathBr := path + ".br"
	if !fileExists(pathBr) {
		if !fileExists(path) {
			return false
		}
		serveFileMu.Lock()
		err := compressBr(path, pathBr)
		serveFileMu.Unlock()
		if err != nil {
			return false
		}
	}
	f, err := os.Open(pathBr)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return false
	}
	ct := MimeTypeFromFileName(path)
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	// https://www.maxcdn.com/blog/accept-encoding-its-vary-important/
	// prevent caching non-compressed version
	w.Header().Add("Vary", "Accept-Encoding")
	w.Header().Set("Content-Encoding", "br")
	http.ServeContent(w, r, path, st.ModTime(), f)
	return true
}

// ServeFile serves path, compressed if possible
func ServeFile(w http.ResponseWriter, r *http.Request, path string) {
	if ServeFileMaybeBr(w, r, path) {
		return
	}
	ct := MimeTypeFromFileName(path)
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeFile(w, r, path)
}

func compressBr(path string, pathBr string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dst, err := os.Create(pathBr)
	if err != nil {
		return err
	}
	w := brotli.NewWriterLevel(dst, brotli.BestCompression)
	_, err = io.Copy(w, f)
	err2 := w.Close()
	err3 := dst.Close()

	if err != nil || err2 != nil || err3 != nil {
		os.Remove(pathBr)
		if err != nil {
			return err
		}
		if err2 != nil {
			return err2
		}
		return err3
	}
	return nil
}
