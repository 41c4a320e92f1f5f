package cache

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestFillWriterRespectsEligibility(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t).Open(ctx, "v1")
	writer := NewFillWriter(store, func(resp *Response) bool {
		return resp.Status == 200 && resp.Type == ResponseBasic
	})

	okKey := NewKey("GET", "https://site.local/ok.css")
	stored, err := writer.Fill(ctx, okKey, &Response{Status: 200, Type: ResponseBasic, Body: []byte("ok")})
	if err != nil || !stored {
		t.Fatalf("eligible response should be stored, stored=%v err=%v", stored, err)
	}

	opaqueKey := NewKey("GET", "https://cdn.example/x.css")
	stored, err = writer.Fill(ctx, opaqueKey, &Response{Status: 200, Type: ResponseOpaque})
	if err != nil || stored {
		t.Fatalf("opaque response must not be stored, stored=%v err=%v", stored, err)
	}
	if _, err := store.Match(ctx, opaqueKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("opaque response leaked into cache: %v", err)
	}
}

func TestFillWriterWithoutStore(t *testing.T) {
	writer := NewFillWriter(nil, func(*Response) bool { return true })
	if writer.Enabled() {
		t.Fatalf("writer without store must be disabled")
	}
	if _, err := writer.Fill(context.Background(), NewKey("GET", "x"), &Response{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestFillWriterDropsSetCookie(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t).Open(ctx, "v1")
	writer := NewFillWriter(store, func(*Response) bool { return true })

	key := NewKey("GET", "https://site.local/api/me")
	original := &Response{Status: 200, Type: ResponseBasic, Header: http.Header{}, Body: []byte("{}")}
	original.Header.Add("Set-Cookie", "session=user-1")
	original.Header.Add("Set-Cookie2", "legacy=1")
	original.Header.Set("Content-Type", "application/json")

	if stored, err := writer.Fill(ctx, key, original); err != nil || !stored {
		t.Fatalf("fill failed: stored=%v err=%v", stored, err)
	}
	cached, err := store.Match(ctx, key)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if cached.Header.Get("Set-Cookie") != "" || cached.Header.Get("Set-Cookie2") != "" {
		t.Fatalf("cookies must not be stored, got %v", cached.Header)
	}
	if cached.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("other headers should survive, got %v", cached.Header)
	}
	if original.Header.Get("Set-Cookie") != "session=user-1" {
		t.Fatalf("caller's response must keep its cookie")
	}
}
