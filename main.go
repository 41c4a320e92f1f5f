package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/9esati/swcache/internal/cache"
	"github.com/9esati/swcache/internal/config"
	"github.com/9esati/swcache/internal/host"
	"github.com/9esati/swcache/internal/logging"
	"github.com/9esati/swcache/internal/proxy"
	"github.com/9esati/swcache/internal/server"
	"github.com/9esati/swcache/internal/server/routes"
	"github.com/9esati/swcache/internal/version"
	"github.com/9esati/swcache/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// runtimeDeps 是启动阶段组装出的全部运行时组件。
type runtimeDeps struct {
	storage       cache.Storage
	fetcher       *proxy.NetworkFetcher
	registration  *host.Registration
	clients       *host.ClientRegistry
	notifications *host.NotificationCenter
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["site"] = cfg.Site.Domain
		fields["cache"] = cfg.Worker.CacheName
		fields["precache"] = len(cfg.Worker.Precache)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循“配置 → 存储 → worker → 注册 → Fiber server”顺序，
	// 所有请求共享同一个存储与 http.Client。
	deps, err := buildRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}
	defer deps.storage.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["site"] = cfg.Site.Domain
	fields["origin"] = cfg.Site.Origin
	fields["cache"] = cfg.Worker.CacheName
	fields["backend"] = cfg.Global.StorageBackend
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	// 注册在后台进行，完成前请求直接透传到网络。
	go func() {
		if err := deps.registration.Register(context.Background()); err != nil {
			logger.WithError(err).WithField("action", "register").Warn("worker 安装失败")
		}
	}()

	if err := startHTTPServer(cfg, deps, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func buildRuntime(cfg *config.Config, logger *logrus.Logger) (*runtimeDeps, error) {
	storage, err := cache.NewStorage(cfg.Global.StorageBackend, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	opts, err := worker.OptionsFromConfig(cfg)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	fetcher := proxy.NewNetworkFetcher(server.NewUpstreamClient(cfg), opts.Origin, cfg.Global.MaxBodyBytes, logger)
	clients := host.NewClientRegistry(opts.Origin)
	notifications := host.NewNotificationCenter(0)

	opts.Storage = storage
	opts.Fetcher = fetcher
	opts.Clients = clients
	opts.Notifier = notifications
	opts.Logger = logger

	w, err := worker.New(opts)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	return &runtimeDeps{
		storage:       storage,
		fetcher:       fetcher,
		registration:  host.NewRegistration(w, cfg.Site.Scope, logger),
		clients:       clients,
		notifications: notifications,
	}, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("swcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SWCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SWCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func newHTTPApp(cfg *config.Config, deps *runtimeDeps, logger *logrus.Logger) (*fiber.App, error) {
	targets, err := server.NewTargetRegistry(cfg)
	if err != nil {
		return nil, err
	}
	handler := proxy.NewHandler(deps.registration, deps.fetcher, deps.clients, logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Targets:    targets,
		Proxy:      proxy.NewForwarder(handler, logger),
		ListenPort: cfg.Global.ListenPort,
		AdminHosts: cfg.Global.AdminHosts,
		BodyLimit:  int(cfg.Global.MaxBodyBytes),
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnostics(app, routes.Deps{
		Registration:  deps.registration,
		Clients:       deps.clients,
		Notifications: deps.notifications,
		Logger:        logger,
	})
	return app, nil
}

func startHTTPServer(cfg *config.Config, deps *runtimeDeps, logger *logrus.Logger) error {
	app, err := newHTTPApp(cfg, deps, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
