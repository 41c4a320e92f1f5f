package server

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/9esati/swcache/internal/config"
)

// ProxyHandler answers every intercepted request whose Host resolved to a Route.
// Tests substitute it with recorders.
type ProxyHandler interface {
	Handle(fiber.Ctx, *Route) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *Route) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *Route) error {
	return f(c, route)
}

// AppOptions 汇总构建 Fiber app 所需的依赖。
type AppOptions struct {
	Logger     *logrus.Logger
	Targets    *TargetRegistry
	Proxy      ProxyHandler
	ListenPort int
	// BodyLimit 限制入站请求体大小，0 表示使用 Fiber 默认值。
	BodyLimit int
	// AdminHosts 是允许访问 /-/ 诊断接口的 Host，为空时只允许本机回环地址。
	AdminHosts []string
}

const (
	contextKeyRoute     = "_swcache_route"
	contextKeyRequestID = "_swcache_request_id"

	headerRequestID = "X-Request-ID"
)

// NewApp builds a Fiber application with Host based target resolution and
// structured error handling. Diagnostics routes under /-/ are registered by
// the caller after NewApp returns.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Targets == nil {
		return nil, errors.New("target registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	cfg := fiber.Config{
		CaseSensitive: true,
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	admin := newAdminHosts(opts.AdminHosts)

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts, admin))

	app.All("/*", func(c fiber.Ctx) error {
		if admin.serves(c) {
			return c.Next()
		}
		route, ok := c.Locals(contextKeyRoute).(*Route)
		if !ok || route == nil {
			return renderHostUnmapped(c, opts.Logger, "", opts.ListenPort)
		}
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

// requestContextMiddleware 分配请求 ID，并为非诊断请求解析目标 Route。
// 只有管理 Host 上的 /-/ 路径进入诊断接口，站点域名下的 /-/ 照常代理。
func requestContextMiddleware(opts AppOptions, admin adminHosts) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := inboundRequestID(c)
		c.Locals(contextKeyRequestID, reqID)
		c.Set(headerRequestID, reqID)

		if admin.serves(c) {
			return c.Next()
		}

		rawHost := strings.TrimSpace(getHostHeader(c))
		route, ok := opts.Targets.Lookup(rawHost, c.Get(fiber.HeaderXForwardedProto))
		if !ok {
			return renderHostUnmapped(c, opts.Logger, rawHost, opts.ListenPort)
		}

		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

// inboundRequestID 沿用上游代理传入的合法 UUID，否则生成新的。
func inboundRequestID(c fiber.Ctx) string {
	if raw := strings.TrimSpace(c.Get(headerRequestID)); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

func renderHostUnmapped(c fiber.Ctx, logger *logrus.Logger, host string, port int) error {
	logger.WithFields(logrus.Fields{
		"action": "host_lookup",
		"host":   host,
		"port":   port,
		"path":   string(c.Request().URI().Path()),
	}).Warn("host_unmapped")

	if host != "" {
		c.Set("X-Swcache-Host", host)
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "host_unmapped",
		"host":  host,
	})
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	reqID, _ := c.Locals(contextKeyRequestID).(string)
	return reqID
}

// adminHosts 是归一化（小写、去端口）后的管理 Host 集合。
type adminHosts map[string]struct{}

func newAdminHosts(hosts []string) adminHosts {
	if len(hosts) == 0 {
		hosts = config.DefaultAdminHosts
	}
	set := make(adminHosts, len(hosts))
	for _, raw := range hosts {
		raw = strings.TrimSpace(raw)
		if ip := net.ParseIP(strings.Trim(raw, "[]")); ip != nil {
			set[ip.String()] = struct{}{}
			continue
		}
		if host, _ := normalizeHost(raw); host != "" {
			set[strings.Trim(host, "[]")] = struct{}{}
		}
	}
	return set
}

// serves 判断请求是否由诊断接口处理：路径在 /-/ 下且 Host 属于管理 Host。
func (a adminHosts) serves(c fiber.Ctx) bool {
	if !strings.HasPrefix(string(c.Request().URI().Path()), "/-/") {
		return false
	}
	host, _ := normalizeHost(getHostHeader(c))
	_, ok := a[strings.Trim(host, "[]")]
	return ok
}
