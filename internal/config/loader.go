package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultCacheName      = "9esati-v2"
	defaultScope          = "/9esati/"
	defaultShellURL       = "/9esati/index.html"
	defaultOfflineMessage = "عذراً، لا يوجد اتصال بالإنترنت"
	defaultNotifyTitle    = "9esati"
	defaultNotifyBody     = "لديك إشعار جديد"
	defaultNotifyIcon     = "https://cdn-icons-png.flaticon.com/512/2237/2237987.png"
	defaultMaxBodyBytes   = 32 * 1024 * 1024
)

// DefaultPrecache 是站点外壳：页面、样式、脚本以及图标/字体资源。
var DefaultPrecache = []string{
	"/9esati/",
	"/9esati/index.html",
	"/9esati/style.css",
	"/9esati/script.js",
	"/9esati/firebase-config.js",
	"/9esati/manifest.json",
	"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css",
	"https://fonts.googleapis.com/css2?family=Tajawal:wght@300;400;500;700;800&display=swap",
}

// DefaultExcludedHosts 命中即绕过缓存：后端 API 与统计采集必须始终走网络。
var DefaultExcludedHosts = []string{"firebase", "google-analytics"}

// DefaultAdminHosts 只允许本机访问 /-/ 诊断与 push 注入接口。
var DefaultAdminHosts = []string{"localhost", "127.0.0.1", "::1"}

// DefaultVibrate 是通知的震动节奏（毫秒）。
var DefaultVibrate = []int{200, 100, 200}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageBackend", "disk")
	v.SetDefault("MaxBodyBytes", defaultMaxBodyBytes)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("AdminHosts", DefaultAdminHosts)

	v.SetDefault("Site.Name", defaultNotifyTitle)
	v.SetDefault("Site.Domain", "localhost")
	v.SetDefault("Site.Scope", defaultScope)
	v.SetDefault("Site.ShellURL", defaultShellURL)
	v.SetDefault("Site.DefaultScheme", "https")
	v.SetDefault("Site.OfflineMessage", defaultOfflineMessage)

	v.SetDefault("Worker.CacheName", defaultCacheName)
	v.SetDefault("Worker.Precache", DefaultPrecache)
	v.SetDefault("Worker.ExcludedHosts", DefaultExcludedHosts)

	v.SetDefault("Notification.Title", defaultNotifyTitle)
	v.SetDefault("Notification.Body", defaultNotifyBody)
	v.SetDefault("Notification.Icon", defaultNotifyIcon)
	v.SetDefault("Notification.Badge", defaultNotifyIcon)
	v.SetDefault("Notification.URL", defaultScope)
	v.SetDefault("Notification.Vibrate", DefaultVibrate)
}

// applyDefaults 兜底处理直接构造 Config（未经过 viper）时留空的字段。
func applyDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.StorageBackend == "" {
		g.StorageBackend = "disk"
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	if g.MaxBodyBytes == 0 {
		g.MaxBodyBytes = defaultMaxBodyBytes
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if len(g.AdminHosts) == 0 {
		g.AdminHosts = append([]string(nil), DefaultAdminHosts...)
	}

	s := &cfg.Site
	if s.Scope == "" {
		s.Scope = defaultScope
	}
	if s.ShellURL == "" {
		s.ShellURL = defaultShellURL
	}
	if s.DefaultScheme == "" {
		s.DefaultScheme = "https"
	}
	s.DefaultScheme = strings.ToLower(strings.TrimSpace(s.DefaultScheme))
	if s.OfflineMessage == "" {
		s.OfflineMessage = defaultOfflineMessage
	}

	n := &cfg.Notification
	if n.Title == "" {
		n.Title = defaultNotifyTitle
	}
	if n.Body == "" {
		n.Body = defaultNotifyBody
	}
	if n.URL == "" {
		n.URL = s.Scope
	}
	if n.Vibrate == nil {
		n.Vibrate = append([]int(nil), DefaultVibrate...)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
