package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adityalohuni/dashport/internal/app"
	"github.com/adityalohuni/dashport/internal/config"
	"github.com/adityalohuni/dashport/internal/dashboard"
)

var rootCmd = &cobra.Command{
	Use:   "dashport",
	Short: "Discover and export dashboards through a browser",
	Long: `dashport reads the dashboards list through browser accessibility snapshots,
keeps the ones created by a given user and exports each of them, one at a time,
into a directory of JSON documents.

Settings come from ~/.config/dashport/config.toml. Flags and DASHPORT_* variables
override the file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DASHPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	slog.SetDefault(newLogger(viper.GetString("log-level")))
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default ~/.config/dashport/config.toml)")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
	pf.Bool("json", false, "output JSON")
	pf.String("backend", "", "browser backend: mcp, ws, rod")
	pf.String("list-url", "", "dashboards list page")
	pf.String("creator", "", "keep dashboards created by this user")
	for _, name := range []string{"config", "log-level", "json", "backend", "list-url", "creator"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(watchCmd())
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadSettings reads the config file and applies flag and environment
// overrides.
func loadSettings() (config.Settings, error) {
	settings, err := config.LoadOrCreate(viper.GetString("config"))
	if err != nil {
		return config.Settings{}, err
	}
	if v := viper.GetString("backend"); v != "" {
		settings.Browser.Backend = v
	}
	if v := viper.GetString("list-url"); v != "" {
		settings.Dashboards.ListURL = v
	}
	if v := viper.GetString("creator"); v != "" {
		settings.Dashboards.CreatorFilter = v
	}
	if v := viper.GetString("output"); v != "" {
		settings.Export.OutputDir = v
	}
	if v := viper.GetString("strategy"); v != "" {
		settings.Export.Strategy = v
	}
	slog.Debug("loaded config", "path", settings.Path, "backend", settings.Browser.Backend)
	return settings, nil
}

func withStack(ctx context.Context, fn func(context.Context, *app.Stack) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if settings.Browser.Backend == config.BackendWS {
		return fmt.Errorf("the ws backend needs the extension bridge; run dashportd and use its MCP endpoint")
	}
	st, err := app.Build(settings, app.Options{Logger: slog.Default()})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("close stack", "error", err)
		}
	}()
	return fn(ctx, st)
}

func printJSON(v any) error {
	return dashboard.Encode(os.Stdout, "json", v)
}
