package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/adityalohuni/dashport/internal/app"
	"github.com/adityalohuni/dashport/internal/config"
	"github.com/adityalohuni/dashport/internal/mcpserver"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

const instructions = "Use dashboards.discover to list the dashboards of a creator, then dashboards.export_all to export them. " +
	"Exports run one at a time; each result names the saved file or the failure kind."

func main() {
	var configPath, logLevel string
	cmd := &cobra.Command{
		Use:           "dashport-mcp",
		Short:         "Serve the dashboard tools over MCP stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var lvl slog.Level
			_ = lvl.UnmarshalText([]byte(logLevel))
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
			slog.SetDefault(logger)
			return run(configPath, logger)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/dashport/config.toml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	if err := cmd.Execute(); err != nil {
		slog.Error("dashport-mcp stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	settings, err := config.LoadOrCreate(configPath)
	if err != nil {
		return err
	}
	logger.Info("loaded config", "path", settings.Path, "backend", settings.Browser.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The ws backend needs the extension to reach us, so the bridge listens
	// alongside the stdio session.
	var bridge *wsbridge.Bridge
	if settings.Browser.Backend == config.BackendWS {
		bridge = wsbridge.NewBridge(wsbridge.Options{
			CheckOrigin: func(r *http.Request) bool { return true },
			Logger:      logger,
		})
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", bridge.HandleWS)
		httpServer := &http.Server{Addr: settings.Daemon.Addr, Handler: mux}
		go func() {
			logger.Info("extension bridge listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("extension bridge failed", "error", err)
				stop()
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	st, err := app.Build(settings, app.Options{Bridge: bridge, Logger: logger})
	if err != nil {
		return err
	}
	defer st.Close()

	server := mcpserver.New(st.Orchestrator, st.Automation.Store(), st.Runs, mcpserver.Options{
		Implementation: &mcp.Implementation{Name: "dashport", Version: "v0.1.0"},
		Instructions:   instructions,
		Creator:        settings.Dashboards.CreatorFilter,
		OutputDir:      settings.Export.OutputDir,
		Logger:         logger,
	})
	err = server.Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
