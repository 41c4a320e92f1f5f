package host

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/9esati/swcache/internal/worker"
)

// defaultNotificationLimit 是保留的通知上限，超出时丢弃最早的。
const defaultNotificationLimit = 100

// NotificationCenter 保存已展示且未关闭的通知，实现 worker.Notifier。
type NotificationCenter struct {
	limit int
	now   func() time.Time

	mu    sync.RWMutex
	items map[string]worker.Notification
	order []string
}

// NewNotificationCenter 创建通知中心，limit<=0 时使用默认上限。
func NewNotificationCenter(limit int) *NotificationCenter {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	return &NotificationCenter{
		limit: limit,
		now:   time.Now,
		items: make(map[string]worker.Notification),
	}
}

func (c *NotificationCenter) Show(ctx context.Context, n worker.Notification) (worker.Notification, error) {
	if err := ctx.Err(); err != nil {
		return worker.Notification{}, err
	}
	n.ID = uuid.NewString()
	n.CreatedAt = c.now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[n.ID] = n
	c.order = append(c.order, n.ID)
	for len(c.order) > c.limit {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
	return n, nil
}

// Close 关闭通知；已关闭或不存在的通知直接忽略。
func (c *NotificationCenter) Close(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return nil
	}
	delete(c.items, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (c *NotificationCenter) Get(id string) (worker.Notification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.items[id]
	return n, ok
}

// List 按展示顺序返回全部未关闭通知。
func (c *NotificationCenter) List() []worker.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]worker.Notification, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.items[id])
	}
	return result
}
