package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/9esati/swcache/internal/logging"
	"github.com/9esati/swcache/internal/server"
	"github.com/9esati/swcache/internal/worker"
)

// 响应头：标记结果来源与是否命中缓存。
const (
	headerSource   = "X-Swcache-Source"
	headerCacheHit = "X-Swcache-Cache-Hit"
	headerClientID = "X-Client-ID"
)

// WorkerSource 提供当前处理 fetch 的 worker，没有激活版本时返回 nil。
// release 之前调用方可以安全使用该 worker 派发 fetch。
type WorkerSource interface {
	Acquire() (active *worker.Worker, release func())
}

// ClientTracker 记录页面导航，供 worker 在通知点击时匹配已打开页面。
type ClientTracker interface {
	Navigate(id, rawURL string, controlled bool) worker.Client
}

// Handler 把 Fiber 请求转换为 fetch 事件交给激活的 worker，并把 Outcome 写回客户端。
// 没有激活 worker 或请求命中排除主机时，直接流式透传到网络。
type Handler struct {
	workers WorkerSource
	network *NetworkFetcher
	clients ClientTracker
	logger  *logrus.Logger
}

// NewHandler constructs the fetch adapter. clients may be nil.
func NewHandler(workers WorkerSource, network *NetworkFetcher, clients ClientTracker, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		workers: workers,
		network: network,
		clients: clients,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.Route) error {
	started := time.Now()
	requestID := server.RequestID(c)

	target := route.TargetURL(string(c.Request().URI().Path()), string(c.Request().URI().QueryString()))
	header := fiberHeadersAsHTTP(c)

	req, err := worker.NewRequest(c.Method(), target.String(), header)
	if err != nil {
		h.logger.WithError(err).WithField("request_id", requestID).Warn("request_invalid")
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request", requestID)
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		active  *worker.Worker
		release = func() {}
	)
	if h.workers != nil {
		active, release = h.workers.Acquire()
	}
	if active == nil {
		release()
		addForwardedHeaders(req.Header, c, route)
		return h.passthrough(ctx, c, req, requestID, started)
	}
	// 排除主机按客户端原样透传，不追加也不删除任何头。
	if !active.IsExcluded(req.URL) {
		addForwardedHeaders(req.Header, c, route)
	}

	if req.IsNavigation() && h.clients != nil {
		if id := strings.TrimSpace(c.Get(headerClientID)); id != "" {
			h.clients.Navigate(id, target.String(), true)
		}
	}

	out, err := active.Dispatch(ctx, worker.FetchEvent{Request: req, RequestID: requestID})
	release()
	if err != nil {
		h.logResult(req, worker.SourceNetwork, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusInternalServerError, "worker_failed", requestID)
	}
	if out.Passthrough || out.Response == nil {
		return h.passthrough(ctx, c, req, requestID, started)
	}
	return h.writeOutcome(c, req, out, requestID, started)
}

func (h *Handler) writeOutcome(c fiber.Ctx, req *worker.Request, out worker.Outcome, requestID string, started time.Time) error {
	resp := out.Response
	copyResponseHeaders(c, resp.Header)
	setOutcomeHeaders(c, out.Source, requestID)
	c.Status(resp.Status)

	h.logResult(req, out.Source, requestID, resp.Status, started, nil)
	if req.Method == http.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

// passthrough 不经过缓存，直接把网络响应流式写回；网络失败时返回 502。
func (h *Handler) passthrough(ctx context.Context, c fiber.Ctx, req *worker.Request, requestID string, started time.Time) error {
	if h.network == nil {
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
	}
	resp, err := h.network.Stream(ctx, req)
	if err != nil {
		h.logResult(req, worker.SourcePassthrough, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	setOutcomeHeaders(c, worker.SourcePassthrough, requestID)
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		h.logResult(req, worker.SourcePassthrough, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(req, worker.SourcePassthrough, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code, requestID string) error {
	setRequestIDHeader(c, requestID)
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(req *worker.Request, source worker.Source, requestID string, status int, started time.Time, err error) {
	fields := logging.RequestFields(req.Method, req.URL.String(), string(source), requestID, isCacheHit(source))
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func isCacheHit(source worker.Source) bool {
	return source == worker.SourceCache || source == worker.SourceShell
}

func setOutcomeHeaders(c fiber.Ctx, source worker.Source, requestID string) {
	c.Set(headerSource, string(source))
	c.Set(headerCacheHit, strconv.FormatBool(isCacheHit(source)))
	setRequestIDHeader(c, requestID)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// addForwardedHeaders 追加 X-Forwarded-*，与常见反向代理保持一致。
func addForwardedHeaders(header http.Header, c fiber.Ctx, route *server.Route) {
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Protocol())
	header.Set("X-Forwarded-Port", routePort(route))
	header.Del(headerClientID)
}

// copyResponseHeaders 复制端到端头部；Content-Length 由 fasthttp 根据实际正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func routePort(route *server.Route) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return strconv.Itoa(route.ListenPort)
}
