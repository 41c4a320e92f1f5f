package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PushMessage 是推送负载，缺省字段回退到 NotificationDefaults。
type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// NotificationData 随通知保存，点击时据此决定跳转页面。
type NotificationData struct {
	URL string `json:"url"`
}

// Notification 是展示给用户的一条系统通知。
type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Icon      string           `json:"icon,omitempty"`
	Badge     string           `json:"badge,omitempty"`
	Vibrate   []int            `json:"vibrate,omitempty"`
	Data      NotificationData `json:"data"`
	CreatedAt time.Time        `json:"createdAt"`
}

// handlePush 解析推送负载并展示通知。负载为空、null 或不是合法 JSON 时不展示任何内容。
func (w *Worker) handlePush(ctx context.Context, ev Event) (Outcome, error) {
	pe, ok := ev.(PushEvent)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}
	log := w.eventLogger(EventPush)

	if len(bytes.TrimSpace(pe.Data)) == 0 {
		log.Debug("push_empty")
		return Outcome{}, nil
	}
	var msg *PushMessage
	if err := json.Unmarshal(pe.Data, &msg); err != nil {
		log.WithError(err).Warn("push_payload_invalid")
		return Outcome{}, nil
	}
	if msg == nil {
		log.Debug("push_null")
		return Outcome{}, nil
	}

	defaults := w.opts.Notification
	n := Notification{
		Title:   firstNonEmpty(msg.Title, defaults.Title),
		Body:    firstNonEmpty(msg.Body, defaults.Body),
		Icon:    defaults.Icon,
		Badge:   defaults.Badge,
		Vibrate: append([]int(nil), defaults.Vibrate...),
		Data:    NotificationData{URL: firstNonEmpty(msg.URL, defaults.URL)},
	}

	shown, err := w.opts.Notifier.Show(ctx, n)
	if err != nil {
		log.WithError(err).Error("push_show_failed")
		return Outcome{}, fmt.Errorf("show notification: %w", err)
	}
	log.WithField("notification", shown.ID).Info("push_shown")
	return Outcome{Notification: &shown}, nil
}

// handleNotificationClick 关闭通知，然后聚焦已打开的目标页面；没有时新开一个。
// 比较前双方 URL 都解析为源站下的绝对地址。
func (w *Worker) handleNotificationClick(ctx context.Context, ev Event) (Outcome, error) {
	ne, ok := ev.(NotificationClickEvent)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}
	log := w.eventLogger(EventNotificationClick).WithField("notification", ne.Notification.ID)

	if ne.Notification.ID != "" {
		if err := w.opts.Notifier.Close(ctx, ne.Notification.ID); err != nil {
			log.WithError(err).Warn("notification_close_failed")
		}
	}

	target, err := w.ResolveURL(firstNonEmpty(ne.Notification.Data.URL, w.opts.Notification.URL))
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve notification url: %w", err)
	}

	clients, err := w.opts.Clients.MatchAll(ctx, MatchOptions{Type: ClientWindow})
	if err != nil {
		return Outcome{}, fmt.Errorf("match clients: %w", err)
	}
	for _, client := range clients {
		resolved, err := w.ResolveURL(client.URL)
		if err != nil || resolved != target {
			continue
		}
		focused, err := w.opts.Clients.Focus(ctx, client.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("focus client %s: %w", client.ID, err)
		}
		log.WithField("client", focused.ID).Info("notification_focus")
		return Outcome{Client: &focused}, nil
	}

	opened, err := w.opts.Clients.OpenWindow(ctx, target)
	if err != nil {
		return Outcome{}, fmt.Errorf("open window: %w", err)
	}
	log.WithField("client", opened.ID).Info("notification_open")
	return Outcome{Client: &opened, Opened: true}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
