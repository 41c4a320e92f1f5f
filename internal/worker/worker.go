package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/9esati/swcache/internal/cache"
	"github.com/9esati/swcache/internal/config"
	"github.com/9esati/swcache/internal/logging"
)

// Fetcher 发起真实的网络请求。网络不可达时返回 error；非 2xx 状态码照常返回响应。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// Notifier 负责展示与关闭系统通知。
type Notifier interface {
	Show(ctx context.Context, n Notification) (Notification, error)
	Close(ctx context.Context, id string) error
}

// Clients 描述 worker 可见的页面集合。
type Clients interface {
	// Claim 让 worker 立即接管已打开的页面，无需刷新。
	Claim(ctx context.Context) error
	// MatchAll 返回符合条件的页面，includeUncontrolled=false 时只返回已受控页面。
	MatchAll(ctx context.Context, opts MatchOptions) ([]Client, error)
	Focus(ctx context.Context, id string) (Client, error)
	OpenWindow(ctx context.Context, rawURL string) (Client, error)
}

// ClientType 区分页面窗口与其他上下文。
type ClientType string

const (
	ClientWindow ClientType = "window"
	ClientWorker ClientType = "worker"
)

// Client 是一个已打开的页面（标签页）。
type Client struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Type       ClientType `json:"type"`
	Focused    bool       `json:"focused"`
	Controlled bool       `json:"controlled"`
	LastSeen   time.Time  `json:"lastSeen"`
}

// MatchOptions 对应 clients.matchAll 的参数。
type MatchOptions struct {
	Type                ClientType
	IncludeUncontrolled bool
}

// NotificationDefaults 是 push 负载缺省字段的回退值以及通知的固定外观。
type NotificationDefaults struct {
	Title   string
	Body    string
	Icon    string
	Badge   string
	URL     string
	Vibrate []int
}

// Options 描述构造 Worker 所需的配置与协作者。
type Options struct {
	CacheName string
	Origin    *url.URL
	// Precache 为绝对地址列表，install 时全部写入。
	Precache      []string
	ExcludedHosts []string
	// ShellURL 为绝对地址，导航请求离线时以它作为兜底页面。
	ShellURL       string
	OfflineMessage string
	Notification   NotificationDefaults

	Storage  cache.Storage
	Fetcher  Fetcher
	Notifier Notifier
	Clients  Clients
	Logger   *logrus.Logger
}

// Worker 持有事件 handler 表与协作者，自身不保存任何跨事件状态。
type Worker struct {
	opts   Options
	logger *logrus.Logger
	table  *Table
}

// New 校验参数并构造 Worker。Notifier 为空时不注册 push 相关 handler。
func New(opts Options) (*Worker, error) {
	opts.CacheName = strings.TrimSpace(opts.CacheName)
	if opts.CacheName == "" {
		return nil, errors.New("cache name required")
	}
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, errors.New("absolute origin required")
	}
	if opts.Storage == nil {
		return nil, errors.New("storage required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	excluded := make([]string, 0, len(opts.ExcludedHosts))
	for _, host := range opts.ExcludedHosts {
		if trimmed := strings.ToLower(strings.TrimSpace(host)); trimmed != "" {
			excluded = append(excluded, trimmed)
		}
	}
	opts.ExcludedHosts = excluded
	opts.Precache = append([]string(nil), opts.Precache...)

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	w := &Worker{opts: opts, logger: logger}
	w.table = w.buildTable()
	return w, nil
}

// OptionsFromConfig 把配置中的相对地址统一解析为源站下的绝对地址。
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return Options{}, errors.New("config required")
	}
	origin, err := cfg.Site.OriginURL()
	if err != nil {
		return Options{}, fmt.Errorf("origin: %w", err)
	}
	precache := make([]string, 0, len(cfg.Worker.Precache))
	for _, raw := range cfg.Worker.Precache {
		resolved, err := cfg.Site.ResolveURL(raw)
		if err != nil {
			return Options{}, fmt.Errorf("precache %s: %w", raw, err)
		}
		precache = append(precache, resolved)
	}
	shell, err := cfg.Site.ResolveURL(cfg.Site.ShellURL)
	if err != nil {
		return Options{}, fmt.Errorf("shell url: %w", err)
	}
	return Options{
		CacheName:      cfg.Worker.CacheName,
		Origin:         origin,
		Precache:       precache,
		ExcludedHosts:  cfg.Worker.NormalizedExcludedHosts(),
		ShellURL:       shell,
		OfflineMessage: cfg.Site.OfflineMessage,
		Notification: NotificationDefaults{
			Title:   cfg.Notification.Title,
			Body:    cfg.Notification.Body,
			Icon:    cfg.Notification.Icon,
			Badge:   cfg.Notification.Badge,
			URL:     cfg.Notification.URL,
			Vibrate: append([]int(nil), cfg.Notification.Vibrate...),
		},
	}, nil
}

func (w *Worker) buildTable() *Table {
	table := NewTable()
	table.MustRegister(EventInstall, w.handleInstall)
	table.MustRegister(EventActivate, w.handleActivate)
	table.MustRegister(EventFetch, w.handleFetch)
	if w.opts.Notifier != nil {
		table.MustRegister(EventPush, w.handlePush)
		if w.opts.Clients != nil {
			table.MustRegister(EventNotificationClick, w.handleNotificationClick)
		}
	}
	return table
}

// Dispatch 把事件交给 handler 表处理。
func (w *Worker) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	return w.table.Dispatch(ctx, ev)
}

// Handlers 返回只读的 handler 表，供诊断接口展示。
func (w *Worker) Handlers() *Table {
	return w.table
}

// CacheName 返回当前版本的缓存名。
func (w *Worker) CacheName() string {
	return w.opts.CacheName
}

// Origin 返回站点源地址的副本。
func (w *Worker) Origin() *url.URL {
	clone := *w.opts.Origin
	return &clone
}

// Storage 返回底层存储，宿主用于查询缓存名与激活标记。
func (w *Worker) Storage() cache.Storage {
	return w.opts.Storage
}

// WithCacheName 返回使用另一缓存版本的 Worker，其余配置不变。
// 新版本安装失败时，宿主用它继续以旧版本提供服务。
func (w *Worker) WithCacheName(name string) (*Worker, error) {
	opts := w.opts
	opts.CacheName = name
	opts.Logger = w.logger
	return New(opts)
}

// ResolveURL 将相对地址解析到源站下。
func (w *Worker) ResolveURL(raw string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return w.opts.Origin.ResolveReference(ref).String(), nil
}

// IsExcluded 判断请求主机是否命中排除列表（子串匹配，不区分大小写）。
func (w *Worker) IsExcluded(target *url.URL) bool {
	if target == nil {
		return false
	}
	host := strings.ToLower(target.Hostname())
	for _, sub := range w.opts.ExcludedHosts {
		if strings.Contains(host, sub) {
			return true
		}
	}
	return false
}

func (w *Worker) eventLogger(event EventType) *logrus.Entry {
	return w.logger.WithFields(logging.EventFields(string(event), w.opts.CacheName))
}
