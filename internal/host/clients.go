package host

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/9esati/swcache/internal/worker"
)

// ErrClientNotFound 表示页面 ID 不存在。
var ErrClientNotFound = errors.New("client not found")

// ClientRegistry 记录经由代理加载的页面（按 X-Client-ID 区分），实现 worker.Clients。
// 代理无法真正打开浏览器窗口，OpenWindow 只登记一个待打开的页面。
type ClientRegistry struct {
	origin *url.URL
	now    func() time.Time

	mu      sync.RWMutex
	clients map[string]*worker.Client
}

// NewClientRegistry 创建页面注册表，相对 URL 以 origin 解析。
func NewClientRegistry(origin *url.URL) *ClientRegistry {
	return &ClientRegistry{
		origin:  origin,
		now:     time.Now,
		clients: make(map[string]*worker.Client),
	}
}

// Navigate 记录页面加载了新的顶层地址；id 为空时分配新 ID。
func (r *ClientRegistry) Navigate(id, rawURL string, controlled bool) worker.Client {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	resolved := r.resolve(rawURL)

	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[id]
	if !ok {
		client = &worker.Client{ID: id, Type: worker.ClientWindow}
		r.clients[id] = client
	}
	client.URL = resolved
	client.Controlled = client.Controlled || controlled
	client.LastSeen = r.now().UTC()
	return *client
}

// Remove 删除页面，返回删除前是否存在。
func (r *ClientRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// List 返回全部页面，按最近活动时间倒序。
func (r *ClientRegistry) List() []worker.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(worker.Client) bool { return true })
}

func (r *ClientRegistry) Claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		client.Controlled = true
	}
	return nil
}

func (r *ClientRegistry) MatchAll(ctx context.Context, opts worker.MatchOptions) ([]worker.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(c worker.Client) bool {
		if opts.Type != "" && c.Type != opts.Type {
			return false
		}
		return opts.IncludeUncontrolled || c.Controlled
	}), nil
}

// Focus 把指定页面设为唯一的焦点页面。
func (r *ClientRegistry) Focus(ctx context.Context, id string) (worker.Client, error) {
	if err := ctx.Err(); err != nil {
		return worker.Client{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.clients[id]
	if !ok {
		return worker.Client{}, ErrClientNotFound
	}
	for _, client := range r.clients {
		client.Focused = false
	}
	target.Focused = true
	target.LastSeen = r.now().UTC()
	return *target, nil
}

func (r *ClientRegistry) OpenWindow(ctx context.Context, rawURL string) (worker.Client, error) {
	if err := ctx.Err(); err != nil {
		return worker.Client{}, err
	}
	client := &worker.Client{
		ID:         uuid.NewString(),
		URL:        r.resolve(rawURL),
		Type:       worker.ClientWindow,
		Focused:    true,
		Controlled: true,
		LastSeen:   r.now().UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.clients {
		existing.Focused = false
	}
	r.clients[client.ID] = client
	return *client, nil
}

func (r *ClientRegistry) snapshotLocked(keep func(worker.Client) bool) []worker.Client {
	result := make([]worker.Client, 0, len(r.clients))
	for _, client := range r.clients {
		if keep(*client) {
			result = append(result, *client)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LastSeen.Equal(result[j].LastSeen) {
			return result[i].ID < result[j].ID
		}
		return result[i].LastSeen.After(result[j].LastSeen)
	})
	return result
}

func (r *ClientRegistry) resolve(rawURL string) string {
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || r.origin == nil {
		return rawURL
	}
	return r.origin.ResolveReference(ref).String()
}
