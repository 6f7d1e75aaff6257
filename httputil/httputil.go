package httputil

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// NewTimeoutClient returns a client that gives up dialing after
// connectTimeout and on the whole request after requestTimeout
func NewTimeoutClient(connectTimeout time.Duration, requestTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: connectTimeout,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			Proxy:               http.ProxyFromEnvironment,
			TLSHandshakeTimeout: connectTimeout,
		},
		Timeout: requestTimeout,
	}
}

func NewDefaultTimeoutClient() *http.Client {
	return NewTimeoutClient(time.Second*30, time.Second*120)
}

func JoinURL(s1, s2 string) string {
	if strings.HasSuffix(s1, "/") {
		if strings.HasPrefix(s2, "/") {
			return s1 + s2[1:]
		}
		return s1 + s2
	}

	if strings.HasPrefix(s2, "/") {
		return s1 + s2
	}
	return s1 + "/" + s2
}

// GetBestRemoteAddress returns IP address of the request even for proxied requests
func GetBestRemoteAddress(r *http.Request) string {
	h := r.Header
	potentials := []string{h.Get("CF-Connecting-IP"), h.Get("X-Real-Ip"), h.Get("X-Forwarded-For"), r.RemoteAddr}
	for _, v := range potentials {
		// sometimes they are stored as "ip1, ip2, ip3" with ip1 being the best
		parts := strings.Split(v, ",")
		res := strings.TrimSpace(parts[0])
		if res != "" {
			return res
		}
	}
	return ""
}

func getHeader(h http.Header, hdrKey string, mapKey string, m map[string]any) {
	val := h.Get(hdrKey)
	if len(val) > 0 {
		m[mapKey] = val
	}
}

// GetRequestInfo adds request details to m, under m[key] if key is not empty
func GetRequestInfo(r *http.Request, m map[string]any, key string) {
	if r == nil {
		return
	}
	if key != "" {
		nm := map[string]any{}
		m[key] = nm
		m = nm
	}
	m["method"] = r.Method
	m["url"] = r.URL.String()
	m["ip"] = GetBestRemoteAddress(r)
	m["user_agent"] = r.UserAgent()
	getHeader(r.Header, "Referer", "referrer", m)
	getHeader(r.Header, "Origin", "origin", m)
	getHeader(r.Header, "Content-Type", "content_type", m)
}
