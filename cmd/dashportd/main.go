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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adityalohuni/dashport/internal/admin"
	"github.com/adityalohuni/dashport/internal/app"
	"github.com/adityalohuni/dashport/internal/config"
	"github.com/adityalohuni/dashport/internal/httpx"
	"github.com/adityalohuni/dashport/internal/mcpserver"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

const (
	keepRuns       = 500
	compactEvery   = time.Hour
	progressMaxAge = 30 * time.Minute
)

func main() {
	var configPath, logLevel string
	cmd := &cobra.Command{
		Use:           "dashportd",
		Short:         "Serve the extension bridge, the MCP endpoints and the admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var lvl slog.Level
			_ = lvl.UnmarshalText([]byte(logLevel))
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath, logger)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/dashport/config.toml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("dashportd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, logger *slog.Logger) error {
	settings, err := config.LoadOrCreate(configPath)
	if err != nil {
		return err
	}
	logger.Info("loaded config", "path", settings.Path, "backend", settings.Browser.Backend)

	bridge := wsbridge.NewBridge(wsbridge.Options{
		CheckOrigin: func(r *http.Request) bool { return true },
		Logger:      logger,
	})
	st, err := app.Build(settings, app.Options{Bridge: bridge, Logger: logger})
	if err != nil {
		return err
	}
	defer st.Close()

	server := mcpserver.New(st.Orchestrator, st.Automation.Store(), st.Runs, mcpserver.Options{
		Implementation: &mcp.Implementation{Name: "dashport", Version: "v0.1.0"},
		Instructions:   "Use dashboards.discover, then dashboards.export_all. The browser extension must be connected to /ws when the ws backend is used.",
		Creator:        settings.Dashboards.CreatorFilter,
		OutputDir:      settings.Export.OutputDir,
		Logger:         logger,
	})
	handlers := &admin.Handlers{
		StartedAt: time.Now(),
		Settings:  settings,
		Bridge:    bridge,
		Progress:  st.Tracker,
		Runs:      st.Runs,
		MaxIdle:   progressMaxAge,
	}

	httpServer := &http.Server{
		Addr:              settings.Daemon.Addr,
		Handler:           newRouter(settings, bridge, server.MCPServer(), handlers, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dashportd listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(compactEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := st.Runs.Compact(gctx, keepRuns)
				if err != nil {
					logger.Warn("compact run log", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("compacted run log", "removed", n)
				}
				st.Tracker.Prune(progressMaxAge)
			}
		}
	})
	return g.Wait()
}

func newRouter(settings config.Settings, bridge *wsbridge.Bridge, mcpServer *mcp.Server, handlers *admin.Handlers, logger *slog.Logger) http.Handler {
	getServer := func(_ *http.Request) *mcp.Server { return mcpServer }

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpx.RequestLogger(logger))

	r.HandleFunc("/ws", bridge.HandleWS)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireToken(settings.Daemon.MCPToken))
		r.Handle("/mcp/stream", mcp.NewStreamableHTTPHandler(getServer, nil))
		r.Handle("/mcp/sse", mcp.NewSSEHandler(getServer, nil))
	})
	r.Route("/admin", func(r chi.Router) {
		r.Use(httpx.RequireToken(settings.Daemon.AdminToken))
		handlers.Routes(r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
