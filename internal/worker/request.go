package worker

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/9esati/swcache/internal/cache"
)

// RequestMode 对应 fetch 规范中的 request.mode。
type RequestMode string

const (
	ModeNavigate   RequestMode = "navigate"
	ModeSameOrigin RequestMode = "same-origin"
	ModeNoCORS     RequestMode = "no-cors"
	ModeCORS       RequestMode = "cors"
)

// Request 是一次被拦截的页面请求，URL 始终为绝对地址。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
	Mode   RequestMode
}

// NewRequest 解析绝对 URL 并根据请求头推断 mode。
func NewRequest(method, rawURL string, header http.Header) (*Request, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("request url must be absolute: %s", rawURL)
	}
	if header == nil {
		header = http.Header{}
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: method,
		URL:    parsed,
		Header: header,
		Mode:   ModeFromHeader(method, header),
	}, nil
}

// Key 返回缓存键（method + URL）。
func (r *Request) Key() cache.Key {
	return cache.NewKey(r.Method, r.URL.String())
}

// IsNavigation 表示请求是否在加载新的顶层页面。
func (r *Request) IsNavigation() bool {
	return r != nil && r.Mode == ModeNavigate
}

// ModeFromHeader 优先使用 Sec-Fetch-Mode；旧客户端没有该头时，把接受 HTML 的 GET 视为页面导航。
func ModeFromHeader(method string, header http.Header) RequestMode {
	switch strings.ToLower(strings.TrimSpace(header.Get("Sec-Fetch-Mode"))) {
	case "navigate", "nested-navigate":
		return ModeNavigate
	case "same-origin":
		return ModeSameOrigin
	case "no-cors":
		return ModeNoCORS
	case "cors", "websocket":
		return ModeCORS
	}
	if method == http.MethodGet && strings.Contains(strings.ToLower(header.Get("Accept")), "text/html") {
		return ModeNavigate
	}
	return ModeNoCORS
}
