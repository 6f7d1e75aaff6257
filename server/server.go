// Package server serves the static front-end: every request that isn't
// an API call is looked up among the known files.
package server

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kjk/despacho/httputil"
)

type HandlerFunc = func(w http.ResponseWriter, r *http.Request)

// Handler represents one or more urls and their content
type Handler interface {
	// returns a handler for this url
	// if nil, doesn't handle this url
	Get(url string) HandlerFunc
	// get all urls handled by this Handler
	URLS() []string
}

// Server serves files from its Handlers
type Server struct {
	Handlers []Handler
	// if true supports clean urls i.e. /foo will match /foo.html URL
	CleanURLS bool
	// if true forces clean urls i.e. /foo.html will redirect to /foo
	ForceCleanURLS bool
}

func panicIf(cond bool, args ...any) {
	if !cond {
		return
	}
	if len(args) == 0 {
		panic("condition is true")
	}
	s := fmt.Sprintf("%v", args[0])
	panic(fmt.Sprintf(s, args[1:]...))
}

func serve404File(w http.ResponseWriter, path string) {
	d, err := os.ReadFile(path)
	if err != nil {
		http.NotFound(w, nil)
		return
	}
	ctype := httputil.MimeTypeFromFileName(path)
	if ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(d)
}

func makeServeFile(path string) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(path, "404.html") {
			serve404File(w, path)
			return
		}
		httputil.ServeFile(w, r, path)
	}
}

// MakeServeContent returns a handler serving d. uri is only used to guess
// content type.
func MakeServeContent(uri string, d []byte, code int, modTime time.Time) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if code != http.StatusOK {
			ctype := httputil.MimeTypeFromFileName(uri)
			if ctype != "" {
				w.Header().Set("Content-Type", ctype)
			}
			w.WriteHeader(code)
			_, _ = w.Write(d)
			return
		}
		http.ServeContent(w, r, uri, modTime, bytes.NewReader(d))
	}
}

// DirHandler serves files in a directory. The directory is scanned once,
// files added later are not served.
type DirHandler struct {
	Dir       string
	URLPrefix string

	URL   []string
	paths map[string]string // lower-cased url => path
}

func (h *DirHandler) Get(url string) HandlerFunc {
	// urls are case-insensitive
	if path, ok := h.paths[strings.ToLower(url)]; ok {
		return makeServeFile(path)
	}
	return nil
}

func (h *DirHandler) URLS() []string {
	return h.URL
}

func getURLSForFiles(startDir string, urlPrefix string, acceptFile func(string) bool) (urls []string, paths []string) {
	_ = filepath.WalkDir(startDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		// pre-compressed files are served by ServeFile
		if strings.HasSuffix(filePath, ".br") {
			return nil
		}
		if acceptFile != nil && !acceptFile(filePath) {
			return nil
		}
		dir := strings.TrimPrefix(filePath, startDir)
		dir = filepath.ToSlash(dir)
		dir = strings.TrimPrefix(dir, "/")
		uri := path.Join(urlPrefix, dir)
		urls = append(urls, uri)
		paths = append(paths, filePath)
		return nil
	})
	return
}

func NewDirHandler(dir string, urlPrefix string, acceptFile func(string) bool) *DirHandler {
	if urlPrefix == "" {
		urlPrefix = "/"
	}
	urls, paths := getURLSForFiles(dir, urlPrefix, acceptFile)
	h := &DirHandler{
		Dir:       dir,
		URLPrefix: urlPrefix,
		URL:       urls,
		paths:     map[string]string{},
	}
	for i, uri := range urls {
		h.paths[strings.ToLower(uri)] = paths[i]
	}
	return h
}

// InMemoryFilesHandler serves content kept in memory
type InMemoryFilesHandler struct {
	files   map[string][]byte
	modTime time.Time
}

func (h *InMemoryFilesHandler) Get(uri string) HandlerFunc {
	for path, d := range h.files {
		if strings.EqualFold(path, uri) {
			code := http.StatusOK
			if strings.HasSuffix(uri, html404) {
				code = http.StatusNotFound
			}
			return MakeServeContent(uri, d, code, h.modTime)
		}
	}
	return nil
}

func (h *InMemoryFilesHandler) URLS() []string {
	var urls []string
	for path := range h.files {
		urls = append(urls, path)
	}
	return urls
}

func (h *InMemoryFilesHandler) Add(uri string, body []byte) {
	panicIf(strings.Contains(uri, "://"), "got absolute url '%s'", uri)
	// in case uri is a windows path, convert to unix path
	uri = strings.ReplaceAll(uri, "\\", "/")
	panicIf(!strings.HasPrefix(uri, "/"), "url '%s' must start with '/'", uri)
	h.files[uri] = body
}

func NewInMemoryFilesHandler(uri string, d []byte) *InMemoryFilesHandler {
	h := &InMemoryFilesHandler{
		files:   map[string][]byte{},
		modTime: time.Now(),
	}
	h.Add(uri, d)
	return h
}

func (s *Server) FindHandlerExact(uri string) HandlerFunc {
	for _, h := range s.Handlers {
		if send := h.Get(uri); send != nil {
			return send
		}
	}
	return nil
}

func commonExt(uri string) bool {
	ext := strings.ToLower(filepath.Ext(uri))
	switch ext {
	case ".html", ".js", ".css", ".txt", ".xml":
		return true
	}
	return false
}

const (
	html404 = "/404.html"
)

// Gen404Candidates returns 404.html urls to try for uri, closest first
func Gen404Candidates(uri string) []string {
	idx := strings.LastIndex(uri, "/")
	if idx == -1 || idx == 0 {
		return []string{html404}
	}

	var res []string
	rest := uri
	for idx >= 0 {
		last := rest[idx:]
		if last != "/" && !commonExt(last) {
			res = append(res, path.Join(rest, html404))
		}
		rest = rest[:idx]
		idx = strings.LastIndex(rest, "/")
	}
	res = append(res, html404)
	return res
}

func trimExt(s string) string {
	return strings.TrimSuffix(s, filepath.Ext(s))
}

func makePermRedirect(uri string) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			uri = uri + "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, uri, http.StatusMovedPermanently)
	}
}

// FindHandler returns a handler for uri. If there's no file for uri it
// returns the closest 404.html and is404 = true.
func (s *Server) FindHandler(uri string) (h HandlerFunc, is404 bool) {
	if strings.HasSuffix(uri, "/") {
		uri = path.Join(uri, "/index.html")
	}
	if h = s.FindHandlerExact(uri); h != nil {
		if s.ForceCleanURLS && strings.EqualFold(filepath.Ext(uri), ".html") {
			h = makePermRedirect(trimExt(uri))
		}
		return h, false
	}

	// if we support clean urls, try find "/foo.html" for "/foo"
	if (s.CleanURLS || s.ForceCleanURLS) && !commonExt(uri) {
		if h = s.FindHandlerExact(uri + ".html"); h != nil {
			return h, false
		}
	}
	// try 404.html
	a := Gen404Candidates(uri)
	for _, uri404 := range a {
		if h = s.FindHandlerExact(uri404); h != nil {
			return h, true
		}
	}
	return nil, false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Path
	serve, _ := s.FindHandler(uri)
	if serve != nil {
		serve(w, r)
		return
	}
	http.NotFound(w, r)
}

// NewDirServer serves files from dir at "/"
func NewDirServer(dir string) (*Server, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("'%s' is not a directory", dir)
	}
	return &Server{
		Handlers:  []Handler{NewDirHandler(dir, "/", nil)},
		CleanURLS: true,
	}, nil
}
