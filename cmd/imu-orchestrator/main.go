package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/imuops/orchestrator/internal/orchestrator"
)

const version = "1.0.0"

const defaultConfigPath = "~/.config/imu-orchestrator/config.yaml"

func printVersion() {
	fmt.Printf("imu-orchestrator v%s\n", version)
	fmt.Println("IMU sensor orchestrator daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  imu-orchestrator [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that hosts the IMU orchestrator core: the Notification Hub,")
	fmt.Println("  IMU Client, Command Handler and Pipeline, plus an HTTP adapter, an")
	fmt.Println("  IPC controller, and an optional WebSocket observer.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        Path to YAML config file (default %q)\n", defaultConfigPath)
	fmt.Println()
	fmt.Println("  -print-default-config")
	fmt.Println("        Print a default YAML config to stdout and exit")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Override logging.level from config (error, warn, info, debug)")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath         = flag.String("config", "", "Path to YAML config file")
		printDefaultConfig = flag.Bool("print-default-config", false, "Print default YAML config and exit")
		logLevelOverride   = flag.String("log-level", "", "Override logging.level from config (error, warn, info, debug)")
		showVersion        = flag.Bool("version", false, "Print version and exit")
		showHelp           = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}
	if *printDefaultConfig {
		cfg := DefaultConfig()
		b, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: marshal default config:", err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		return
	}
	if *configPath == "" {
		*configPath = defaultConfigPath
	}

	cfg, err := LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	overrides := FlagOverrides{}
	if *logLevelOverride != "" {
		overrides.LogLevel = logLevelOverride
	}
	overrides.Apply(&cfg)

	cfg.IPC.SocketPath = ExpandPath(cfg.IPC.SocketPath)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	orch := orchestrator.New(logger)

	if cfg.IMU.DefaultPort != 0 {
		orch.SetDefaultImuEndpoint(cfg.IMU.DefaultAddress, cfg.IMU.DefaultPort)
	}

	httpAdapter := orchestrator.NewHTTPAdapterController(cfg.Webhooks.Port, logger)
	ipcController := orchestrator.NewIPCController("ipc", cfg.IPC.SocketPath, logger)

	orch.RegisterController(httpAdapter)
	orch.RegisterController(ipcController)

	var wsObserver *orchestrator.WsObserver
	var wsSrv *http.Server
	if cfg.WsObserver.Enabled {
		wsObserver = orchestrator.NewWsObserver(orch.Hub, logger)
		wsObserver.Attach()

		mux := http.NewServeMux()
		wsObserver.Register(mux, cfg.WsObserver.Path)
		wsSrv = &http.Server{
			Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.WsObserver.Port),
			Handler: mux,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if !orch.Start(ctx) {
		logger.Error("orchestrator failed to start")
		os.Exit(1)
	}

	if wsSrv != nil {
		g.Go(func() error {
			if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("ws observer server: %w", err)
			}
			return nil
		})
	}

	logger.Info("imu-orchestrator started",
		"version", version,
		"webhooks_port", cfg.Webhooks.Port,
		"ipc_socket", cfg.IPC.SocketPath,
		"ws_observer_enabled", cfg.WsObserver.Enabled)

	<-ctx.Done()
	logger.Info("shutting down")

	orch.Dispose()
	if wsObserver != nil {
		wsObserver.Detach()
		wsObserver.Close()
	}
	if wsSrv != nil {
		_ = wsSrv.Close()
	}

	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
