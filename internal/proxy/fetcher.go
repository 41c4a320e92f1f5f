package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/9esati/swcache/internal/cache"
	"github.com/9esati/swcache/internal/server"
	"github.com/9esati/swcache/internal/version"
	"github.com/9esati/swcache/internal/worker"
)

// ErrBodyTooLarge 表示响应体超过 MaxBodyBytes，按网络失败处理。
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// NetworkFetcher 通过共享 http.Client 执行真实请求，实现 worker.Fetcher。
// 响应体整体读入内存，以便 worker 决定是否写入缓存。
type NetworkFetcher struct {
	client  *http.Client
	origin  *url.URL
	maxBody int64
	logger  *logrus.Logger
}

// NewNetworkFetcher 创建 fetcher，origin 用于判断响应是 basic 还是 cors/opaque。
func NewNetworkFetcher(client *http.Client, origin *url.URL, maxBody int64, logger *logrus.Logger) *NetworkFetcher {
	if client == nil {
		client = server.NewUpstreamClient(nil)
	}
	return &NetworkFetcher{
		client:  client,
		origin:  origin,
		maxBody: maxBody,
		logger:  logger,
	}
}

// Fetch 发起请求并读取完整响应体；连接失败、超时或超出体积上限返回 error。
func (f *NetworkFetcher) Fetch(ctx context.Context, req *worker.Request) (*cache.Response, error) {
	started := time.Now()
	resp, err := f.do(ctx, req)
	if err != nil {
		f.logFetch(req, 0, started, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := f.readBody(resp.Body)
	if err != nil {
		f.logFetch(req, resp.StatusCode, started, err)
		return nil, err
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	result := &cache.Response{
		URL:      final.String(),
		Status:   resp.StatusCode,
		Header:   header,
		Type:     worker.ClassifyResponse(f.origin, final, resp.Header),
		StoredAt: time.Now().UTC(),
		Body:     body,
	}
	f.logFetch(req, resp.StatusCode, started, nil)
	return result, nil
}

// Stream 发起请求并返回未读取的响应，调用方负责关闭 Body。透传流量使用它。
func (f *NetworkFetcher) Stream(ctx context.Context, req *worker.Request) (*http.Response, error) {
	return f.do(ctx, req)
}

func (f *NetworkFetcher) do(ctx context.Context, req *worker.Request) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstream, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	server.CopyHeaders(upstream.Header, req.Header)
	upstream.Header.Del("Accept-Encoding")
	upstream.Header.Del("Host")
	if upstream.Header.Get("User-Agent") == "" {
		upstream.Header.Set("User-Agent", version.UserAgent())
	}
	upstream.Host = req.URL.Host
	return f.client.Do(upstream)
}

func (f *NetworkFetcher) readBody(r io.Reader) ([]byte, error) {
	if f.maxBody <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, f.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, f.maxBody)
	}
	return body, nil
}

func (f *NetworkFetcher) logFetch(req *worker.Request, status int, started time.Time, err error) {
	if f.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":          "network",
		"method":          req.Method,
		"upstream":        req.URL.String(),
		"upstream_status": status,
		"elapsed_ms":      time.Since(started).Milliseconds(),
	}
	if err != nil {
		f.logger.WithFields(fields).WithError(err).Warn("network_failed")
		return
	}
	f.logger.WithFields(fields).Debug("network_complete")
}
