package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/9esati/swcache/internal/cache"
)

const testOrigin = "https://9esati.example.org"

var errOffline = errors.New("network unreachable")

// stubFetcher 按 URL 返回预置响应，未预置的 URL 视为网络不可达。
type stubFetcher struct {
	mu        sync.Mutex
	responses map[string]*cache.Response
	failures  map[string]error
	offline   bool
	calls     map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		responses: make(map[string]*cache.Response),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *stubFetcher) serve(rawURL string, status int, typ cache.ResponseType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[rawURL] = &cache.Response{
		URL:    rawURL,
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Type:   typ,
		Body:   []byte(body),
	}
}

func (f *stubFetcher) fail(rawURL string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[rawURL] = err
}

func (f *stubFetcher) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *stubFetcher) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *stubFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *stubFetcher) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	key := req.URL.String()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if f.offline {
		return nil, errOffline
	}
	if err := f.failures[key]; err != nil {
		return nil, err
	}
	resp, ok := f.responses[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errOffline, key)
	}
	return resp.Clone(), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	shown  []Notification
	closed []string
	seq    int
}

func (n *recordingNotifier) Show(ctx context.Context, note Notification) (Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	note.ID = fmt.Sprintf("n-%d", n.seq)
	note.CreatedAt = time.Now()
	n.shown = append(n.shown, note)
	return note, nil
}

func (n *recordingNotifier) Close(ctx context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, id)
	return nil
}

type recordingClients struct {
	mu      sync.Mutex
	clients []Client
	claimed int
	focused []string
	opened  []string
}

func (c *recordingClients) Claim(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed++
	for i := range c.clients {
		c.clients[i].Controlled = true
	}
	return nil
}

func (c *recordingClients) MatchAll(ctx context.Context, opts MatchOptions) ([]Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []Client
	for _, client := range c.clients {
		if opts.Type != "" && client.Type != opts.Type {
			continue
		}
		if !opts.IncludeUncontrolled && !client.Controlled {
			continue
		}
		result = append(result, client)
	}
	return result, nil
}

func (c *recordingClients) Focus(ctx context.Context, id string) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.clients {
		if c.clients[i].ID == id {
			c.clients[i].Focused = true
			c.focused = append(c.focused, id)
			return c.clients[i], nil
		}
	}
	return Client{}, fmt.Errorf("client %s not found", id)
}

func (c *recordingClients) OpenWindow(ctx context.Context, rawURL string) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client := Client{ID: fmt.Sprintf("c-%d", len(c.clients)+1), URL: rawURL, Type: ClientWindow, Focused: true, Controlled: true}
	c.clients = append(c.clients, client)
	c.opened = append(c.opened, rawURL)
	return client, nil
}

type testEnv struct {
	worker   *Worker
	storage  cache.Storage
	fetcher  *stubFetcher
	notifier *recordingNotifier
	clients  *recordingClients
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	storage, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	origin, _ := url.Parse(testOrigin)
	env := &testEnv{
		storage:  storage,
		fetcher:  newStubFetcher(),
		notifier: &recordingNotifier{},
		clients:  &recordingClients{},
	}
	opts := Options{
		CacheName: "site-v2",
		Origin:    origin,
		Precache: []string{
			testOrigin + "/app/",
			testOrigin + "/app/index.html",
			testOrigin + "/app/style.css",
		},
		ExcludedHosts:  []string{"firebase", "google-analytics"},
		ShellURL:       testOrigin + "/app/index.html",
		OfflineMessage: "offline",
		Notification: NotificationDefaults{
			Title:   "9esati",
			Body:    "new notification",
			Icon:    "https://cdn.example.com/icon.png",
			Badge:   "https://cdn.example.com/icon.png",
			URL:     "/app/",
			Vibrate: []int{200, 100, 200},
		},
		Storage:  storage,
		Fetcher:  env.fetcher,
		Notifier: env.notifier,
		Clients:  env.clients,
	}
	if mutate != nil {
		mutate(&opts)
	}
	w, err := New(opts)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	env.worker = w
	return env
}

func (e *testEnv) servePrecache() {
	for _, u := range e.worker.opts.Precache {
		e.fetcher.serve(u, http.StatusOK, cache.ResponseBasic, "precache:"+u)
	}
}

func (e *testEnv) install(t *testing.T) Outcome {
	t.Helper()
	out, err := e.worker.Dispatch(context.Background(), InstallEvent{})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	return out
}

func (e *testEnv) fetch(t *testing.T, method, rawURL string, header http.Header) Outcome {
	t.Helper()
	req, err := NewRequest(method, rawURL, header)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	out, err := e.worker.Dispatch(context.Background(), FetchEvent{Request: req, RequestID: "req-1"})
	if err != nil {
		t.Fatalf("fetch %s: %v", rawURL, err)
	}
	return out
}

func navigationHeader() http.Header {
	return http.Header{
		"Sec-Fetch-Mode": []string{"navigate"},
		"Accept":         []string{"text/html"},
	}
}
