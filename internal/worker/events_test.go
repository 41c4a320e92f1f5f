package worker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/9esati/swcache/internal/cache"
)

func TestTableRejectsDuplicateRegistration(t *testing.T) {
	table := NewTable()
	noop := func(context.Context, Event) (Outcome, error) { return Outcome{}, nil }
	if err := table.Register(EventPush, noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := table.Register(EventPush, noop); !errors.Is(err, ErrDuplicateHandler) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := table.Register("", noop); err == nil {
		t.Fatalf("empty event type should be rejected")
	}
}

func TestTableDispatchUnknownEvent(t *testing.T) {
	table := NewTable()
	if _, err := table.Dispatch(context.Background(), InstallEvent{}); !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestTableDispatchRecoversPanic(t *testing.T) {
	table := NewTable()
	table.MustRegister(EventFetch, func(context.Context, Event) (Outcome, error) {
		panic("boom")
	})
	_, err := table.Dispatch(context.Background(), FetchEvent{})
	if !errors.Is(err, ErrHandlerPanic) {
		t.Fatalf("expected ErrHandlerPanic, got %v", err)
	}
}

func TestWorkerRegistersAllHandlers(t *testing.T) {
	env := newTestEnv(t, nil)
	types := env.worker.Handlers().Types()
	want := []EventType{EventActivate, EventFetch, EventInstall, EventNotificationClick, EventPush}
	if len(types) != len(want) {
		t.Fatalf("types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestWorkerKeepsNoStateBetweenInstances(t *testing.T) {
	env := newTestEnv(t, nil)
	env.servePrecache()
	env.install(t)

	// 新实例只依赖存储即可继续命中缓存
	fresh, err := New(env.worker.opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	env.fetcher.setOffline(true)
	req, _ := NewRequest(http.MethodGet, testOrigin+"/app/style.css", nil)
	out, err := fresh.Dispatch(context.Background(), FetchEvent{Request: req})
	if err != nil || out.Source != SourceCache {
		t.Fatalf("fresh worker should serve from cache, got %s %v", out.Source, err)
	}
}

func TestWithCacheNameSwitchesStore(t *testing.T) {
	env := newTestEnv(t, nil)
	old, err := env.worker.WithCacheName("site-v1")
	if err != nil {
		t.Fatalf("with cache name: %v", err)
	}
	if old.CacheName() != "site-v1" || env.worker.CacheName() != "site-v2" {
		t.Fatalf("clone should not mutate original")
	}
	if _, err := env.worker.WithCacheName(" "); err == nil {
		t.Fatalf("blank cache name should be rejected")
	}
}

func TestClassifyResponse(t *testing.T) {
	origin, _ := url.Parse(testOrigin)
	same, _ := url.Parse(testOrigin + ":443/app/")
	cross, _ := url.Parse("https://cdn.example.com/lib.js")

	if typ := ClassifyResponse(origin, same, http.Header{}); typ != cache.ResponseBasic {
		t.Fatalf("same origin should be basic, got %s", typ)
	}
	if typ := ClassifyResponse(origin, cross, http.Header{"Access-Control-Allow-Origin": []string{"*"}}); typ != cache.ResponseCORS {
		t.Fatalf("cross origin with ACAO should be cors, got %s", typ)
	}
	if typ := ClassifyResponse(origin, cross, http.Header{}); typ != cache.ResponseOpaque {
		t.Fatalf("cross origin without ACAO should be opaque, got %s", typ)
	}
}

func TestEligible(t *testing.T) {
	if Eligible(nil) {
		t.Fatalf("nil response is not eligible")
	}
	if !Eligible(&cache.Response{Status: 200, Type: cache.ResponseBasic}) {
		t.Fatalf("basic 200 should be eligible")
	}
	if Eligible(&cache.Response{Status: 200, Type: cache.ResponseOpaque}) {
		t.Fatalf("opaque should not be eligible")
	}
	if Eligible(&cache.Response{Status: 204, Type: cache.ResponseBasic}) {
		t.Fatalf("non-200 should not be eligible")
	}
}
