package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/cmd/mock-server/backend"
	"github.com/KumarDeepankar/mcp-gateway/pkg/version"
)

var (
	httpAddr string
	sseAddr  string
	logger   *zap.Logger
)

func init() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "addr", "a", ":5236", "Address for the streamable HTTP backend")
	rootCmd.PersistentFlags().StringVarP(&sseAddr, "sse-addr", "s", ":5237", "Address for the SSE backend")
}

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mock-server",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mock-server version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "mock-server",
		Short: "Mock MCP backends for gateway testing",
		Long:  `Runs two mock MCP tool servers, one per backend transport the gateway supports.`,
		Run: func(cmd *cobra.Command, args []string) {
			startMockServers()
		},
	}
)

func startMockServers() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	go startHTTPServer(httpAddr, errChan)
	go startSSEServer(sseAddr, errChan)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, stopping mock servers")
	case err := <-errChan:
		logger.Error("mock server error", zap.Error(err))
		stop()
	}
}

func startHTTPServer(addr string, errChan chan<- error) {
	mcpServer := backend.NewMCPServer("mock-http-backend")
	httpServer := server.NewStreamableHTTPServer(mcpServer)
	logger.Info("starting streamable HTTP backend",
		zap.String("addr", fmt.Sprintf("http://localhost%s/mcp", addr)))
	if err := httpServer.Start(addr); err != nil {
		errChan <- fmt.Errorf("HTTP server error: %w", err)
	}
}

func startSSEServer(addr string, errChan chan<- error) {
	mcpServer := backend.NewMCPServer("mock-sse-backend")
	sseServer := server.NewSSEServer(mcpServer,
		server.WithBaseURL(fmt.Sprintf("http://localhost%s", addr)))
	logger.Info("starting SSE backend",
		zap.String("addr", fmt.Sprintf("http://localhost%s/sse", addr)))
	if err := sseServer.Start(addr); err != nil {
		errChan <- fmt.Errorf("SSE server error: %w", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
