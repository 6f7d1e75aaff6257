// Package ghcommit stores dispatch records in a JSON array file committed to
// a GitHub repository, using the contents API.
//
// Every append is fetch, modify, commit. The commit carries the sha of the
// file that was read, so GitHub rejects it if someone else committed in
// between. There's no retry: the caller sees the conflict.
package ghcommit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/kjk/despacho/httputil"
	"github.com/kjk/despacho/records"
)

const (
	DefaultAPIURL    = "https://api.github.com"
	DefaultBranch    = "main"
	DefaultPath      = "descargas.json"
	DefaultUserAgent = "despacho"
)

// ErrMissingToken is returned when no GitHub token is configured
var ErrMissingToken = &records.ConfigurationError{Msg: "Missing GitHub token in environment"}

type Config struct {
	Owner  string
	Repo   string
	Branch string
	// Path of the file inside the repository
	Path      string
	Token     string
	APIURL    string
	UserAgent string

	HTTPClient *http.Client
}

func (c *Config) setDefaults() {
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.HTTPClient == nil {
		c.HTTPClient = httputil.NewTimeoutClient(time.Second*15, time.Second*60)
	}
}

// Validate returns a *records.ConfigurationError for a missing token, owner
// or repository
func (c *Config) Validate() error {
	if c.Token == "" {
		return ErrMissingToken
	}
	if c.Owner == "" || c.Repo == "" {
		return &records.ConfigurationError{Msg: "Missing GitHub owner or repository in environment"}
	}
	return nil
}

// File is the content of the file and the sha identifying its version.
// Both are empty if the file doesn't exist yet.
type File struct {
	Content []byte
	SHA     string
}

type Client struct {
	config Config
}

func NewClient(config Config) (*Client, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{config: config}, nil
}

func (c *Client) Config() Config {
	return c.config
}

func escapePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ContentsURL is the contents API url of the file
func (c *Client) ContentsURL() string {
	cfg := &c.config
	uri := fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(cfg.Owner), url.PathEscape(cfg.Repo), escapePath(cfg.Path))
	return httputil.JoinURL(cfg.APIURL, uri)
}

func (c *Client) newRequest(op string) *requests.Builder {
	return requests.
		URL(c.ContentsURL()).
		Client(c.config.HTTPClient).
		Bearer(c.config.Token).
		UserAgent(c.config.UserAgent).
		Accept("application/vnd.github+json").
		Header("X-GitHub-Api-Version", "2022-11-28").
		AddValidator(checkStatus(op))
}

// checkStatus turns a non-2xx response into *records.UpstreamError with
// the body GitHub sent
func checkStatus(op string) requests.ResponseHandler {
	return func(res *http.Response) error {
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
		return &records.UpstreamError{
			Op:         op,
			StatusCode: res.StatusCode,
			Body:       string(body),
		}
	}
}

type contentsResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// decodeContent decodes base64 content as sent by GitHub, which wraps
// lines with '\n'
func decodeContent(s string) ([]byte, error) {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	return base64.StdEncoding.DecodeString(s)
}

// GetFile fetches the file. A missing file (404) is not an error, it
// returns an empty File.
func (c *Client) GetFile(ctx context.Context) (*File, error) {
	var res contentsResponse
	err := c.newRequest(records.OpFetch).
		Param("ref", c.config.Branch).
		ToJSON(&res).
		Fetch(ctx)
	if err != nil {
		var ue *records.UpstreamError
		if errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound {
			return &File{}, nil
		}
		return nil, err
	}
	if res.Encoding != "" && res.Encoding != "base64" {
		return nil, fmt.Errorf("ghcommit: unsupported content encoding '%s'", res.Encoding)
	}
	content, err := decodeContent(res.Content)
	if err != nil {
		return nil, fmt.Errorf("ghcommit: failed to decode file content: %w", err)
	}
	return &File{
		Content: content,
		SHA:     res.SHA,
	}, nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

// PutFile commits content. sha must be the sha of the version that was
// read, or empty to create the file.
func (c *Client) PutFile(ctx context.Context, content []byte, sha string, message string) error {
	body := &putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.config.Branch,
		SHA:     sha,
	}
	return c.newRequest(records.OpCommit).
		Put().
		BodyJSON(body).
		Fetch(ctx)
}
