package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/any-hub/any-proxy/internal/cache"
	"github.com/any-hub/any-proxy/internal/config"
	"github.com/any-hub/any-proxy/internal/logging"
	"github.com/any-hub/any-proxy/internal/policy"
	"github.com/any-hub/any-proxy/internal/proxy"
	"github.com/any-hub/any-proxy/internal/server"
	"github.com/any-hub/any-proxy/internal/server/routes"
	"github.com/any-hub/any-proxy/internal/version"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 8888

	adminShutdownTimeout = 5 * time.Second
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	host        string
	port        int
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// errUsage 表示位置参数不合法，main 以退出码 2 结束。
var errUsage = errors.New("usage: any-proxy [--config FILE] [--check-config] [--version] [HOST PORT]")

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(stdErr, errUsage.Error())
		}
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runContext(ctx, opts)
}

// runContext 与 run 相同，但由调用方控制生命周期；ctx 取消后优雅退出。
func runContext(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	gate := policy.NewGate(cfg)
	if err := gate.WindowErr(); err != nil {
		logger.WithFields(logging.BaseFields("policy", opts.configPath)).
			WithError(err).Warn("time_restriction 无法解析，所有请求都将被拒绝")
	}
	if cfg.EnableWhitelist && len(cfg.Whitelist) == 0 {
		logger.WithFields(logging.BaseFields("policy", opts.configPath)).
			Warn("whitelisting 为空，所有请求都将被拒绝")
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["whitelist_enabled"] = cfg.EnableWhitelist
		fields["time_restriction_enabled"] = cfg.EnableTimeRestriction
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 磁盘缓存 → 监听端口 → worker pool → 诊断接口 → accept 循环。
	store, err := cache.NewStore(cfg.CacheDir, cache.Options{
		TTL:    cfg.CacheTTL.DurationValue(),
		Mirror: cfg.MemoryCache,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	ln, err := server.Listen(opts.host, opts.port)
	if err != nil {
		logger.WithFields(logging.BaseFields("listen", opts.configPath)).WithError(err).Error("监听失败")
		fmt.Fprintf(stdErr, "监听失败: %v\n", err)
		return 1
	}

	stats := server.NewStats()
	forwarder := proxy.NewForwarder(
		proxy.NewTCPDialer(cfg.UpstreamDialTimeout.DurationValue()),
		proxy.ForwarderOptions{
			BufferSize:    cfg.BufferSize,
			DialTimeout:   cfg.UpstreamDialTimeout.DurationValue(),
			IOTimeout:     cfg.UpstreamIOTimeout.DurationValue(),
			UseTargetPort: cfg.UpstreamUseTargetPort,
		},
	)
	handler := proxy.NewHandler(proxy.HandlerOptions{
		Gate:         gate,
		Store:        store,
		Writer:       cache.NewImageWriter(store, cfg.ImageExtensions),
		Forwarder:    forwarder,
		Forbidden:    proxy.ForbiddenPage{Path: cfg.ForbiddenPage},
		Logger:       logger,
		Recorder:     stats,
		BufferSize:   cfg.BufferSize,
		ReadTimeout:  cfg.ClientReadTimeout.DurationValue(),
		WriteTimeout: cfg.ClientWriteTimeout.DurationValue(),
	})
	pool := server.NewWorkerPool(context.WithoutCancel(ctx), handler, cfg.MaxConnections, cfg.EffectiveQueueSize())

	if cfg.AdminListen != "" {
		stopAdmin, err := startAdminServer(cfg, routes.Deps{
			Stats:    stats,
			Pool:     pool,
			Store:    store,
			Gate:     gate,
			CacheTTL: cfg.CacheTTL.DurationValue(),
		}, logger)
		if err != nil {
			ln.Close()
			pool.Close()
			fmt.Fprintf(stdErr, "诊断接口启动失败: %v\n", err)
			return 1
		}
		defer stopAdmin()
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen"] = ln.Addr().String()
	fields["max_connection"] = cfg.MaxConnections
	fields["queue_size"] = cfg.EffectiveQueueSize()
	fields["cache_dir"] = cfg.CacheDir
	fields["cache_ttl"] = cfg.CacheTTL.DurationValue().String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("代理服务启动")

	if err := server.NewAcceptor(pool, stats, logger).Serve(ctx, ln); err != nil {
		fmt.Fprintf(stdErr, "代理服务异常退出: %v\n", err)
		return 1
	}
	logger.WithFields(logging.BaseFields("shutdown", opts.configPath)).Info("代理服务已停止")
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
// 位置参数只能是空或 HOST PORT 两个。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("any-proxy", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVarP(&configFlag, "config", "c", "", "配置文件路径（默认 ./config.conf，可被 ANY_PROXY_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ANY_PROXY_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.conf"
	}

	opts := cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		host:        defaultHost,
		port:        defaultPort,
	}

	switch positional := fs.Args(); len(positional) {
	case 0:
	case 2:
		port, err := strconv.Atoi(positional[1])
		if err != nil || port <= 0 || port > 65535 {
			return cliOptions{}, fmt.Errorf("%w: invalid port %q", errUsage, positional[1])
		}
		opts.host, opts.port = positional[0], port
	default:
		return cliOptions{}, errUsage
	}
	return opts, nil
}

// startAdminServer 在独立端口启动 Fiber 诊断接口，返回的函数用于关闭。
func startAdminServer(cfg *config.Config, deps routes.Deps, logger *logrus.Logger) (func(), error) {
	app, err := server.NewAdminApp(server.AdminOptions{Logger: logger, Version: version.Full()})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticRoutes(app, deps)
	server.MountFallback(app)

	ln, err := net.Listen("tcp", cfg.AdminListen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.AdminListen, err)
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"admin":  ln.Addr().String(),
	}).Info("Fiber 诊断接口启动")

	go func() {
		if err := app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			logger.WithFields(logrus.Fields{"action": "admin"}).WithError(err).Warn("诊断接口退出")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
		defer cancel()
		_ = app.ShutdownWithContext(ctx)
	}, nil
}
