package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数（监听、日志、存储、上游）。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFormat       string   `mapstructure:"LogFormat"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	MaxBodyBytes    int64    `mapstructure:"MaxBodyBytes"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	AdminHosts      []string `mapstructure:"AdminHosts"`
}

// SiteConfig 描述被代理的站点：对外域名、真实源站以及离线兜底内容。
type SiteConfig struct {
	Name           string `mapstructure:"Name"`
	Domain         string `mapstructure:"Domain"`
	Origin         string `mapstructure:"Origin"`
	Scope          string `mapstructure:"Scope"`
	ShellURL       string `mapstructure:"ShellURL"`
	DefaultScheme  string `mapstructure:"DefaultScheme"`
	OfflineMessage string `mapstructure:"OfflineMessage"`
}

// WorkerConfig 决定缓存版本、precache 清单以及绕过缓存的主机。
type WorkerConfig struct {
	CacheName     string   `mapstructure:"CacheName"`
	Precache      []string `mapstructure:"Precache"`
	ExcludedHosts []string `mapstructure:"ExcludedHosts"`
}

// NotificationConfig 是 push 消息缺省字段的取值及通知的固定外观。
type NotificationConfig struct {
	Title   string `mapstructure:"Title"`
	Body    string `mapstructure:"Body"`
	Icon    string `mapstructure:"Icon"`
	Badge   string `mapstructure:"Badge"`
	URL     string `mapstructure:"URL"`
	Vibrate []int  `mapstructure:"Vibrate"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	Site         SiteConfig         `mapstructure:"Site"`
	Worker       WorkerConfig       `mapstructure:"Worker"`
	Notification NotificationConfig `mapstructure:"Notification"`
}

// OriginURL 返回解析后的源站地址（已通过 Validate 时不会出错）。
func (s SiteConfig) OriginURL() (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(s.Origin))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("origin must be absolute: %s", s.Origin)
	}
	return parsed, nil
}

// ResolveURL 将相对地址解析为源站下的绝对地址，绝对地址原样返回。
func (s SiteConfig) ResolveURL(raw string) (string, error) {
	base, err := s.OriginURL()
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// NormalizedExcludedHosts 返回去空白、转小写后的排除列表。
func (w WorkerConfig) NormalizedExcludedHosts() []string {
	result := make([]string, 0, len(w.ExcludedHosts))
	for _, host := range w.ExcludedHosts {
		if trimmed := strings.ToLower(strings.TrimSpace(host)); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
