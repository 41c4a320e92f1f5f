package worker

import (
	"context"
	"errors"
	"testing"
)

func TestPushShowsNotificationWithDefaults(t *testing.T) {
	env := newTestEnv(t, nil)

	out, err := env.worker.Dispatch(context.Background(), PushEvent{Data: []byte(`{"title":"Hi"}`)})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if out.Notification == nil {
		t.Fatalf("expected notification to be shown")
	}
	n := out.Notification
	if n.Title != "Hi" || n.Body != "new notification" {
		t.Fatalf("unexpected title/body: %q %q", n.Title, n.Body)
	}
	if n.Data.URL != "/app/" {
		t.Fatalf("default url should be used, got %s", n.Data.URL)
	}
	if len(n.Vibrate) != 3 || n.Vibrate[0] != 200 || n.Vibrate[1] != 100 {
		t.Fatalf("unexpected vibrate pattern %v", n.Vibrate)
	}
	if n.Icon == "" || n.Badge == "" {
		t.Fatalf("icon and badge should be fixed values")
	}
}

func TestPushKeepsPayloadURL(t *testing.T) {
	env := newTestEnv(t, nil)
	out, err := env.worker.Dispatch(context.Background(), PushEvent{Data: []byte(`{"title":"A","body":"B","url":"/x"}`)})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if out.Notification.Data.URL != "/x" || out.Notification.Body != "B" {
		t.Fatalf("payload fields should win: %+v", out.Notification)
	}
}

func TestPushIgnoresEmptyAndMalformedPayloads(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, payload := range [][]byte{nil, []byte("   "), []byte("{not json"), []byte("null"), []byte(" null\n")} {
		out, err := env.worker.Dispatch(context.Background(), PushEvent{Data: payload})
		if err != nil {
			t.Fatalf("payload %q should not error: %v", payload, err)
		}
		if out.Notification != nil {
			t.Fatalf("payload %q should not show a notification", payload)
		}
	}
	if len(env.notifier.shown) != 0 {
		t.Fatalf("no notification expected, got %d", len(env.notifier.shown))
	}
}

func TestNotificationClickFocusesExistingPage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.clients.clients = []Client{
		{ID: "c-1", URL: testOrigin + "/other", Type: ClientWindow, Controlled: true},
		{ID: "c-2", URL: testOrigin + "/x", Type: ClientWindow, Controlled: true},
	}

	out, err := env.worker.Dispatch(context.Background(), NotificationClickEvent{
		Notification: Notification{ID: "n-9", Data: NotificationData{URL: "/x"}},
	})
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if out.Opened || out.Client == nil || out.Client.ID != "c-2" {
		t.Fatalf("expected focus of c-2, got %+v", out)
	}
	if len(env.clients.opened) != 0 {
		t.Fatalf("no window should be opened")
	}
	if len(env.notifier.closed) != 1 || env.notifier.closed[0] != "n-9" {
		t.Fatalf("notification should be closed, got %v", env.notifier.closed)
	}
}

func TestNotificationClickOpensWindowWhenNoMatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.clients.clients = []Client{
		{ID: "c-1", URL: testOrigin + "/other", Type: ClientWindow, Controlled: true},
		// 未受控页面不参与匹配
		{ID: "c-2", URL: testOrigin + "/x", Type: ClientWindow},
	}

	out, err := env.worker.Dispatch(context.Background(), NotificationClickEvent{
		Notification: Notification{ID: "n-1", Data: NotificationData{URL: "/x"}},
	})
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if !out.Opened || out.Client == nil {
		t.Fatalf("expected new window, got %+v", out)
	}
	if out.Client.URL != testOrigin+"/x" {
		t.Fatalf("window should open at absolute url, got %s", out.Client.URL)
	}
}

func TestPushHandlersRequireNotifier(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Notifier = nil })
	_, err := env.worker.Dispatch(context.Background(), PushEvent{Data: []byte(`{}`)})
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler without notifier, got %v", err)
	}
}
