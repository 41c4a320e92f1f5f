package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedBackends = map[string]struct{}{
	"disk":   {},
	"badger": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	switch strings.ToLower(strings.TrimSpace(g.LogFormat)) {
	case "", "json", "text":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json|text")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedBackends[strings.ToLower(strings.TrimSpace(g.StorageBackend))]; !ok {
		return newFieldError("Global.StorageBackend", "仅支持 disk|badger")
	}
	if g.MaxBodyBytes <= 0 {
		return newFieldError("Global.MaxBodyBytes", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if err := c.validateSite(); err != nil {
		return err
	}
	if err := c.validateAdminHosts(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}

	for i, ms := range c.Notification.Vibrate {
		if ms < 0 {
			return newFieldError(indexedField("Notification.Vibrate", i), "不能为负数")
		}
	}
	if strings.TrimSpace(c.Notification.URL) != "" {
		if _, err := url.Parse(c.Notification.URL); err != nil {
			return newFieldError("Notification.URL", err.Error())
		}
	}

	return nil
}

func (c *Config) validateSite() error {
	s := c.Site
	if err := validateDomain(s.Domain); err != nil {
		return fmt.Errorf("Site.Domain: %w", err)
	}
	if err := validateUpstream(s.Origin); err != nil {
		return fmt.Errorf("Site.Origin: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(s.DefaultScheme)) {
	case "http", "https":
	default:
		return newFieldError("Site.DefaultScheme", "仅支持 http/https")
	}
	if strings.TrimSpace(s.ShellURL) == "" {
		return newFieldError("Site.ShellURL", "不能为空")
	}
	if _, err := s.ResolveURL(s.ShellURL); err != nil {
		return newFieldError("Site.ShellURL", err.Error())
	}
	return nil
}

// validateAdminHosts 保证诊断接口不会挂在站点域名上对外暴露。
func (c *Config) validateAdminHosts() error {
	site := strings.ToLower(strings.TrimSpace(c.Site.Domain))
	for i, host := range c.Global.AdminHosts {
		field := indexedField("Global.AdminHosts", i)
		name := strings.Trim(strings.ToLower(strings.TrimSpace(host)), "[]")
		if name == "" {
			return newFieldError(field, "不能为空")
		}
		if name == site {
			return newFieldError(field, "不能与 Site.Domain 相同")
		}
	}
	return nil
}

func (c *Config) validateWorker() error {
	w := c.Worker
	name := strings.TrimSpace(w.CacheName)
	if name == "" {
		return newFieldError("Worker.CacheName", "不能为空")
	}
	if strings.HasPrefix(name, ".") || strings.Contains(name, "/") {
		return newFieldError("Worker.CacheName", "不能以 . 开头或包含 /")
	}

	seen := make(map[string]struct{}, len(w.Precache))
	for i, raw := range w.Precache {
		field := indexedField("Worker.Precache", i)
		if strings.TrimSpace(raw) == "" {
			return newFieldError(field, "不能为空")
		}
		resolved, err := c.Site.ResolveURL(raw)
		if err != nil {
			return newFieldError(field, err.Error())
		}
		if err := validateUpstream(resolved); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if _, dup := seen[resolved]; dup {
			return newFieldError(field, "重复的 precache 地址: "+resolved)
		}
		seen[resolved] = struct{}{}
	}

	for i, host := range w.ExcludedHosts {
		if strings.TrimSpace(host) == "" {
			return newFieldError(indexedField("Worker.ExcludedHosts", i), "不能为空")
		}
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
