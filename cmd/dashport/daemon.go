package main

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adityalohuni/dashport/internal/adminclient"
	"github.com/adityalohuni/dashport/internal/report"
	"github.com/adityalohuni/dashport/internal/runlog"
	"github.com/adityalohuni/dashport/internal/tui"
)

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "Show past export runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := runlog.Open(settings.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				run, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				report.Run(os.Stdout, run)
				return nil
			}
			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(runs)
			}
			report.Runs(os.Stdout, runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running dashportd",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := daemonClient()
			if err != nil {
				return err
			}
			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			report.Status(os.Stdout, st)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor a running dashportd",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if refresh <= 0 {
				refresh = settings.Daemon.RefreshInterval
			}
			client := adminclient.New(settings.Daemon.AdminBaseURL, settings.Daemon.AdminToken, &http.Client{Timeout: 5 * time.Second})
			return tui.RunMonitor(cmd.Context(), client, refresh)
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 0, "poll interval (default from config)")
	return cmd
}

func daemonClient() (*adminclient.Client, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return adminclient.New(settings.Daemon.AdminBaseURL, settings.Daemon.AdminToken, &http.Client{Timeout: 5 * time.Second}), nil
}
