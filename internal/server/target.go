package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/9esati/swcache/internal/config"
)

// Route 是一次请求解析出的目标：站点域名映射到源站，其余 Host 按正向代理处理。
type Route struct {
	// Host 是规范化后的请求 Host（小写、去掉端口与末尾的点）。
	Host string
	// BaseURL 是目标的 scheme://host[:port]，不含路径。
	BaseURL *url.URL
	// Site 表示请求命中站点域名。
	Site bool
	// ListenPort 记录当前监听端口，用于 X-Forwarded-Port。
	ListenPort int
}

// TargetURL 将请求路径与查询串拼接到 BaseURL 上。
func (r *Route) TargetURL(rawPath, rawQuery string) *url.URL {
	target := *r.BaseURL
	if rawPath == "" {
		rawPath = "/"
	}
	target.Path = rawPath
	target.RawPath = ""
	if unescaped, err := url.PathUnescape(rawPath); err == nil && unescaped != rawPath {
		target.Path = unescaped
		target.RawPath = rawPath
	}
	target.RawQuery = rawQuery
	target.Fragment = ""
	return &target
}

// TargetRegistry 根据 Host 解析请求目标，启动阶段创建一次并复用。
type TargetRegistry struct {
	siteHost      string
	origin        *url.URL
	defaultScheme string
	listenPort    int
}

// NewTargetRegistry 从站点配置构建解析器。
func NewTargetRegistry(cfg *config.Config) (*TargetRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	siteHost, _ := normalizeHost(cfg.Site.Domain)
	if siteHost == "" {
		return nil, fmt.Errorf("invalid site domain: %q", cfg.Site.Domain)
	}
	origin, err := cfg.Site.OriginURL()
	if err != nil {
		return nil, fmt.Errorf("invalid site origin: %w", err)
	}
	scheme := strings.ToLower(strings.TrimSpace(cfg.Site.DefaultScheme))
	if scheme == "" {
		scheme = "https"
	}
	return &TargetRegistry{
		siteHost:      siteHost,
		origin:        origin,
		defaultScheme: scheme,
		listenPort:    cfg.Global.ListenPort,
	}, nil
}

// Lookup 根据 Host 或 Host:port 解析目标；scheme 为空时使用 DefaultScheme。
func (r *TargetRegistry) Lookup(host, scheme string) (*Route, bool) {
	if r == nil {
		return nil, false
	}
	normalized, port := normalizeHost(host)
	if normalized == "" {
		return nil, false
	}

	if normalized == r.siteHost {
		base := &url.URL{Scheme: r.origin.Scheme, Host: r.origin.Host}
		return &Route{Host: normalized, BaseURL: base, Site: true, ListenPort: r.listenPort}, true
	}

	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme != "http" && scheme != "https" {
		scheme = r.defaultScheme
	}
	hostPort := normalized
	if port > 0 && port != r.listenPort {
		hostPort = net.JoinHostPort(normalized, strconv.Itoa(port))
	} else if strings.Contains(normalized, ":") {
		hostPort = "[" + normalized + "]"
	}
	return &Route{
		Host:       normalized,
		BaseURL:    &url.URL{Scheme: scheme, Host: hostPort},
		ListenPort: r.listenPort,
	}, true
}

// Origin 返回站点源地址的副本。
func (r *TargetRegistry) Origin() *url.URL {
	clone := *r.origin
	return &clone
}

// SiteHost 返回规范化后的站点域名。
func (r *TargetRegistry) SiteHost() string {
	return r.siteHost
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
