package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/9esati/swcache/internal/cache"
	"github.com/9esati/swcache/internal/config"
	"github.com/9esati/swcache/internal/host"
	"github.com/9esati/swcache/internal/proxy"
	"github.com/9esati/swcache/internal/server"
	"github.com/9esati/swcache/internal/server/routes"
	"github.com/9esati/swcache/internal/worker"
)

const siteDomain = "9esati.local"

// adminHost 是诊断接口默认接受的本机 Host。
const adminHost = "localhost"

// siteEnv 组装与 CLI 相同的运行时：存储 → worker → 注册 → Fiber app。
type siteEnv struct {
	app           *fiber.App
	cfg           *config.Config
	storage       cache.Storage
	registration  *host.Registration
	clients       *host.ClientRegistry
	notifications *host.NotificationCenter
	logs          *bytes.Buffer
}

type envOptions struct {
	cacheName  string
	storageDir string
	backend    string
}

func siteConfig(origin string, opts envOptions) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:     5000,
			StoragePath:    opts.storageDir,
			StorageBackend: opts.backend,
			MaxBodyBytes:   1 << 20,
		},
		Site: config.SiteConfig{
			Name:           "9esati",
			Domain:         siteDomain,
			Origin:         origin,
			Scope:          "/9esati/",
			ShellURL:       "/9esati/index.html",
			DefaultScheme:  "https",
			OfflineMessage: "لا يوجد اتصال",
		},
		Worker: config.WorkerConfig{
			CacheName: opts.cacheName,
			Precache: []string{
				"/9esati/",
				"/9esati/index.html",
				"/9esati/style.css",
			},
			ExcludedHosts: []string{"firebase", "google-analytics"},
		},
		Notification: config.NotificationConfig{
			Title:   "9esati",
			Body:    "لديك إشعار جديد",
			Icon:    "https://cdn.example.com/icon.png",
			Badge:   "https://cdn.example.com/icon.png",
			URL:     "/9esati/",
			Vibrate: []int{200, 100, 200},
		},
	}
}

func newSiteEnv(t *testing.T, stub *siteStub, opts envOptions) *siteEnv {
	t.Helper()
	if opts.cacheName == "" {
		opts.cacheName = "9esati-v1"
	}
	if opts.storageDir == "" {
		opts.storageDir = t.TempDir()
	}
	cfg := siteConfig(stub.URL, opts)

	logger := logrus.New()
	logs := &bytes.Buffer{}
	logger.SetOutput(logs)
	logger.SetFormatter(&logrus.JSONFormatter{})

	storage, err := cache.NewStorage(cfg.Global.StorageBackend, cfg.Global.StoragePath)
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	workerOpts, err := worker.OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("worker options error: %v", err)
	}
	fetcher := proxy.NewNetworkFetcher(server.NewUpstreamClient(cfg), workerOpts.Origin, cfg.Global.MaxBodyBytes, logger)
	clients := host.NewClientRegistry(workerOpts.Origin)
	notifications := host.NewNotificationCenter(0)
	workerOpts.Storage = storage
	workerOpts.Fetcher = fetcher
	workerOpts.Clients = clients
	workerOpts.Notifier = notifications
	workerOpts.Logger = logger

	w, err := worker.New(workerOpts)
	if err != nil {
		t.Fatalf("worker error: %v", err)
	}
	registration := host.NewRegistration(w, cfg.Site.Scope, logger)

	targets, err := server.NewTargetRegistry(cfg)
	if err != nil {
		t.Fatalf("targets error: %v", err)
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Targets:    targets,
		Proxy:      proxy.NewForwarder(proxy.NewHandler(registration, fetcher, clients, logger), logger),
		ListenPort: cfg.Global.ListenPort,
		AdminHosts: cfg.Global.AdminHosts,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterDiagnostics(app, routes.Deps{
		Registration:  registration,
		Clients:       clients,
		Notifications: notifications,
		Logger:        logger,
	})

	return &siteEnv{
		app:           app,
		cfg:           cfg,
		storage:       storage,
		registration:  registration,
		clients:       clients,
		notifications: notifications,
		logs:          logs,
	}
}

func (e *siteEnv) register(t *testing.T) error {
	t.Helper()
	return e.registration.Register(context.Background())
}

type response struct {
	status int
	header http.Header
	body   string
}

func (e *siteEnv) request(t *testing.T, method, hostHeader, path string, headers map[string]string, body string) response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://"+hostHeader+path, reader)
	req.Host = hostHeader
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return response{status: resp.StatusCode, header: resp.Header, body: string(data)}
}

func (e *siteEnv) get(t *testing.T, path string, headers map[string]string) response {
	t.Helper()
	return e.request(t, http.MethodGet, siteDomain, path, headers, "")
}

func navigate(clientID string) map[string]string {
	headers := map[string]string{
		"Sec-Fetch-Mode": "navigate",
		"Accept":         "text/html,application/xhtml+xml",
	}
	if clientID != "" {
		headers["X-Client-ID"] = clientID
	}
	return headers
}

// admin 通过本机 Host 调用 /-/ 诊断接口。
func (e *siteEnv) admin(t *testing.T, method, path string, headers map[string]string, body string) response {
	t.Helper()
	return e.request(t, method, adminHost, path, headers, body)
}
