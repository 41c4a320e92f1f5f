package worker

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/9esati/swcache/internal/cache"
)

// ClassifyResponse 根据最终 URL（跟随重定向之后）判断响应类型：
// 与站点同源为 basic；跨域但带 Access-Control-Allow-Origin 为 cors；其余为 opaque。
func ClassifyResponse(origin *url.URL, final *url.URL, header http.Header) cache.ResponseType {
	if origin == nil || final == nil {
		return cache.ResponseOpaque
	}
	if SameOrigin(origin, final) {
		return cache.ResponseBasic
	}
	if header.Get("Access-Control-Allow-Origin") != "" {
		return cache.ResponseCORS
	}
	return cache.ResponseOpaque
}

// Eligible 判断响应是否允许写入缓存：必须是 200，且内容可被安全检查（非 opaque）。
func Eligible(resp *cache.Response) bool {
	if resp == nil || resp.Status != http.StatusOK {
		return false
	}
	switch resp.Type {
	case cache.ResponseBasic, cache.ResponseCORS:
		return true
	default:
		return false
	}
}

// SameOrigin 比较 scheme + host + 端口（缺省端口按 scheme 补齐）。
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	if !strings.EqualFold(a.Scheme, b.Scheme) {
		return false
	}
	return strings.EqualFold(a.Hostname(), b.Hostname()) && effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// OfflineResponse 构造网络与缓存都不可用时的兜底应答（408 + 可读提示）。
func OfflineResponse(rawURL, message string) *cache.Response {
	return &cache.Response{
		URL:    rawURL,
		Status: http.StatusRequestTimeout,
		Header: http.Header{
			"Content-Type": []string{"text/html; charset=utf-8"},
		},
		Type:     cache.ResponseDefault,
		StoredAt: time.Now().UTC(),
		Body:     []byte(message),
	}
}
