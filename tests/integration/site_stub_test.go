package integration

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
)

// siteStub 模拟被缓存的站点源站：页面外壳、静态资源与一个 API。
// broken=true 时直接断开连接，模拟网络不可用。
type siteStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu       sync.Mutex
	requests []RecordedRequest
	broken   bool
	version  string
}

// RecordedRequest 捕获每次请求的方法/路径/Headers，便于断言代理行为。
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
}

func newSiteStub(t *testing.T) *siteStub {
	t.Helper()

	stub := &siteStub{version: "v1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/9esati/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/9esati/", "/9esati/index.html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, "<html>shell %s</html>", stub.currentVersion())
		case "/9esati/style.css":
			w.Header().Set("Content-Type", "text/css")
			fmt.Fprintf(w, "/* %s */", stub.currentVersion())
		case "/9esati/script.js":
			w.Header().Set("Content-Type", "application/javascript")
			fmt.Fprintf(w, "// %s", stub.currentVersion())
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "session="+r.URL.Query().Get("user")+"; Path=/; HttpOnly")
		fmt.Fprint(w, `{"ok":true}`)
	})
	mux.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"version":%q}`, stub.currentVersion())
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.requests = append(stub.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Headers: r.Header.Clone()})
		broken := stub.broken
		stub.mu.Unlock()

		if broken {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			panic(http.ErrAbortHandler)
		}
		mux.ServeHTTP(w, r)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start site stub listener: %v", err)
	}
	stub.server = &http.Server{Handler: handler}
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = stub.server.Serve(listener)
	}()
	t.Cleanup(stub.Close)
	return stub
}

func (s *siteStub) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

func (s *siteStub) setBroken(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = broken
}

func (s *siteStub) setVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
}

func (s *siteStub) currentVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// hits 统计某路径收到的请求数。
func (s *siteStub) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, req := range s.requests {
		if req.Path == path {
			count++
		}
	}
	return count
}

func (s *siteStub) recorded() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}
