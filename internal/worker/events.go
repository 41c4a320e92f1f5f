package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/9esati/swcache/internal/cache"
)

// EventType 是 handler 表的键。
type EventType string

const (
	EventInstall           EventType = "install"
	EventActivate          EventType = "activate"
	EventFetch             EventType = "fetch"
	EventPush              EventType = "push"
	EventNotificationClick EventType = "notificationclick"
)

// Event 是宿主投递给 worker 的一次事件。
type Event interface {
	Type() EventType
}

// InstallEvent 触发 precache。
type InstallEvent struct{}

// ActivateEvent 触发旧版本清理与接管页面。
type ActivateEvent struct{}

// FetchEvent 携带一次被拦截的请求。
type FetchEvent struct {
	Request   *Request
	RequestID string
}

// PushEvent 携带服务端推送的原始负载，可能为空。
type PushEvent struct {
	Data []byte
}

// NotificationClickEvent 表示用户点击了某条通知。
type NotificationClickEvent struct {
	Notification Notification
}

func (InstallEvent) Type() EventType           { return EventInstall }
func (ActivateEvent) Type() EventType          { return EventActivate }
func (FetchEvent) Type() EventType             { return EventFetch }
func (PushEvent) Type() EventType              { return EventPush }
func (NotificationClickEvent) Type() EventType { return EventNotificationClick }

// Source 标记 fetch 结果的来源，用于日志与响应头。
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceShell       Source = "shell"
	SourceOffline     Source = "offline"
	SourcePassthrough Source = "passthrough"
)

// Outcome 是 handler 的返回值，不同事件只填充各自关心的字段。
type Outcome struct {
	// Response 是 fetch 的应答；Passthrough 为 true 时为空，由宿主直接转发。
	Response    *cache.Response
	Source      Source
	Passthrough bool

	// SkipWaiting 由 install 设置，要求宿主跳过等待立即激活。
	SkipWaiting bool
	// Deleted 是 activate 删除的旧缓存名。
	Deleted []string

	// Notification 是 push 展示出来的通知；负载为空或非法时为 nil。
	Notification *Notification
	// Client 是 notificationclick 聚焦或新开的页面，Opened 区分两者。
	Client *Client
	Opened bool
}

// HandlerFunc 处理单个事件。宿主会一直等待其返回，相当于 waitUntil/respondWith。
type HandlerFunc func(ctx context.Context, ev Event) (Outcome, error)

var (
	// ErrNoHandler 表示事件类型没有注册 handler。
	ErrNoHandler = errors.New("no handler registered for event")
	// ErrDuplicateHandler 表示事件类型已注册过 handler。
	ErrDuplicateHandler = errors.New("handler already registered")
	// ErrHandlerPanic 表示 handler 执行中 panic，已被转换为错误。
	ErrHandlerPanic = errors.New("handler panicked")
	// ErrUnexpectedEvent 表示 handler 收到了不属于它的事件结构。
	ErrUnexpectedEvent = errors.New("unexpected event payload")
)

// Table 以事件类型为键保存 handler，注册完成后只读。
type Table struct {
	mu       sync.RWMutex
	handlers map[EventType]HandlerFunc
}

// NewTable 创建空的 handler 表。
func NewTable() *Table {
	return &Table{handlers: make(map[EventType]HandlerFunc)}
}

// Register 为事件类型注册 handler，重复注册返回 ErrDuplicateHandler。
func (t *Table) Register(typ EventType, handler HandlerFunc) error {
	key := EventType(strings.ToLower(strings.TrimSpace(string(typ))))
	if key == "" {
		return errors.New("event type required")
	}
	if handler == nil {
		return errors.New("handler required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, key)
	}
	t.handlers[key] = handler
	return nil
}

// MustRegister 在注册失败时 panic，适合在构造阶段调用。
func (t *Table) MustRegister(typ EventType, handler HandlerFunc) {
	if err := t.Register(typ, handler); err != nil {
		panic(err)
	}
}

// Handler 返回事件类型对应的 handler。
func (t *Table) Handler(typ EventType) (HandlerFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handler, ok := t.handlers[typ]
	return handler, ok
}

// Types 返回已注册的事件类型，按字典序排列。
func (t *Table) Types() []EventType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	types := make([]EventType, 0, len(t.handlers))
	for typ := range t.handlers {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Dispatch 调用事件对应的 handler；handler panic 会被恢复并转换为 ErrHandlerPanic。
func (t *Table) Dispatch(ctx context.Context, ev Event) (out Outcome, err error) {
	if ev == nil {
		return Outcome{}, fmt.Errorf("%w: nil event", ErrUnexpectedEvent)
	}
	handler, ok := t.Handler(ev.Type())
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoHandler, ev.Type())
	}
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{}
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, ev.Type(), r)
		}
	}()
	return handler(ctx, ev)
}
