package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/auth"
	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"
	"github.com/KumarDeepankar/mcp-gateway/internal/core"
	"github.com/KumarDeepankar/mcp-gateway/internal/discovery"
	"github.com/KumarDeepankar/mcp-gateway/internal/mcpproxy"
	"github.com/KumarDeepankar/mcp-gateway/internal/registry"
	"github.com/KumarDeepankar/mcp-gateway/internal/session"
	"github.com/KumarDeepankar/mcp-gateway/internal/stream"
	"github.com/KumarDeepankar/mcp-gateway/pkg/logger"
	"github.com/KumarDeepankar/mcp-gateway/pkg/metrics"
	"github.com/KumarDeepankar/mcp-gateway/pkg/trace"
	"github.com/KumarDeepankar/mcp-gateway/pkg/version"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "mcp-gateway",
		Short: "MCP protocol gateway aggregating backend tool servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcp-gateway %s\n", version.Get())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "configs/config.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer lg.Sync()

	lg.Info("starting mcp-gateway",
		zap.String("version", version.Get()),
		zap.Int("port", cfg.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
		if err != nil {
			lg.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				if err := shutdownTracing(sctx); err != nil {
					lg.Warn("tracing shutdown", zap.Error(err))
				}
			}()
		}
	}

	sessionStore, err := session.NewStore(ctx, lg, &cfg.Session)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}

	serverStore, err := registry.NewStore(lg, &cfg.Registry)
	if err != nil {
		return fmt.Errorf("init server registry: %w", err)
	}

	streams := stream.NewManager(lg)
	events := stream.NewEventLog(lg)
	msgRouter := stream.NewRouter(lg, streams, events)
	sessions := session.NewRegistry(lg, sessionStore, streams, msgRouter, events)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	proxy := mcpproxy.NewManager(lg, cfg.Forward)
	defer proxy.Close()

	disc := discovery.NewService(lg, serverStore, proxy, m, cfg.Discovery)

	srv := core.NewServer(lg, cfg, sessions, streams, events, msgRouter, disc, proxy, auth.AllowAll{}, m)

	go disc.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lg.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown", zap.Error(err))
	}

	if closer, ok := sessionStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			lg.Warn("closing session store", zap.Error(err))
		}
	}

	lg.Info("gateway stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
