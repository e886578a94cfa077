package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adityalohuni/dashport/internal/app"
	"github.com/adityalohuni/dashport/internal/dashboard"
	"github.com/adityalohuni/dashport/internal/export"
	"github.com/adityalohuni/dashport/internal/reconcile"
	"github.com/adityalohuni/dashport/internal/report"
	"github.com/adityalohuni/dashport/internal/tui"
)

func discoverCmd() *cobra.Command {
	var file, format, manifest string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the dashboards created by --creator",
		Long: `Without --file, opens the dashboards list page in the browser and reads it.
With --file, reads a saved accessibility snapshot instead ("-" for stdin).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				records            []dashboard.Record
				creator, outputDir string
			)
			if file != "" {
				settings, err := loadSettings()
				if err != nil {
					return err
				}
				text, err := readInput(file)
				if err != nil {
					return err
				}
				creator, outputDir = settings.Dashboards.CreatorFilter, settings.Export.OutputDir
				ext := dashboard.NewExtractor(dashboard.Options{
					BaseURL:        settings.Dashboards.BaseURL,
					UnknownCreator: settings.Extract.UnknownCreator,
					Placeholders:   settings.Extract.Placeholders,
					Logger:         slog.Default(),
				})
				records = ext.Discover(text, creator)
			} else {
				err := withStack(cmd.Context(), func(ctx context.Context, st *app.Stack) error {
					creator, outputDir = st.Settings.Dashboards.CreatorFilter, st.Settings.Export.OutputDir
					var err error
					records, err = st.Orchestrator.DiscoverLive(ctx, "", creator)
					return err
				})
				if err != nil {
					return err
				}
			}

			if manifest != "" {
				if err := writeManifest(manifest, creator, outputDir, records); err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				format = "json"
			}
			if format == "table" {
				report.Dashboards(os.Stdout, records)
				return nil
			}
			return dashboard.Encode(os.Stdout, format, records)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read a saved snapshot instead of the live page")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json, yaml")
	cmd.Flags().StringVar(&manifest, "manifest", "", "also write an export manifest (.json or .yaml)")
	return cmd
}

func exportCmd() *cobra.Command {
	var file string
	var ids, names []string
	var useTUI bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every dashboard created by --creator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, st *app.Stack) error {
				creator := st.Settings.Dashboards.CreatorFilter
				outputDir := st.Settings.Export.OutputDir

				var records []dashboard.Record
				if file != "" {
					text, err := readInput(file)
					if err != nil {
						return err
					}
					records = st.Orchestrator.Discover(text, creator)
				} else {
					var err error
					if records, err = st.Orchestrator.DiscoverLive(ctx, "", creator); err != nil {
						return err
					}
				}
				if len(records) == 0 {
					fmt.Fprintf(os.Stderr, "no dashboards found for creator %q\n", creator)
					return nil
				}
				if len(ids) > 0 || len(names) > 0 {
					if records = selectRecords(records, ids, names); len(records) == 0 {
						return errors.New("no discovered dashboard matches --id or --name")
					}
				}

				var (
					results []export.Result
					runErr  error
				)
				if useTUI {
					names := make([]string, len(records))
					for i, r := range records {
						names[i] = r.Name
					}
					title := fmt.Sprintf("Exporting %d dashboards by %s", len(records), creator)
					results, runErr = tui.RunExport(ctx, st.Tracker, title, names, func(ctx context.Context) ([]export.Result, error) {
						return st.Orchestrator.ExportAll(ctx, records, outputDir)
					})
				} else {
					results, runErr = st.Orchestrator.ExportAll(ctx, records, outputDir)
				}

				summary := export.Summarize("", results)
				if viper.GetBool("json") {
					if err := printJSON(struct {
						Results []export.Result `json:"results"`
						Summary export.Summary  `json:"summary"`
					}{results, summary}); err != nil {
						return err
					}
				} else {
					report.Results(os.Stdout, results)
				}
				if runErr != nil {
					return runErr
				}
				if summary.Failed > 0 {
					return fmt.Errorf("%d of %d exports failed", summary.Failed, summary.Total)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "discover from a saved snapshot instead of the live page")
	cmd.Flags().StringP("output", "o", "", "output directory")
	cmd.Flags().String("strategy", "", "export strategy: download, fetch")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "export only these dashboard ids or URLs (repeatable)")
	cmd.Flags().StringSliceVar(&names, "name", nil, "export only dashboards with these names (repeatable)")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show live progress")
	_ = viper.BindPFlag("output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("strategy", cmd.Flags().Lookup("strategy"))
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the dashboard id an exported file declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := declaredID(args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"path": args[0], "dashboard_id": id})
			}
			if id == "" {
				fmt.Printf("%s: no declared id\n", args[0])
				return nil
			}
			fmt.Printf("%s: %s\n", args[0], id)
			return nil
		},
	}
}

// declaredID is reconcile.DeclaredID with a document that carries no id
// reported as an empty id rather than an error.
func declaredID(path string) (string, error) {
	id, err := reconcile.DeclaredID(path)
	if errors.Is(err, reconcile.ErrNoDeclaredID) {
		return "", nil
	}
	return id, err
}

// selectRecords keeps the records whose id (or URL) is in ids or whose name
// is in names, in discovery order. Names match case-insensitively.
func selectRecords(records []dashboard.Record, ids, names []string) []dashboard.Record {
	wantID := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if strings.Contains(id, "/") {
			id = dashboard.IDFromURL(id)
		}
		if id != "" {
			wantID[id] = true
		}
	}
	wantName := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			wantName[n] = true
		}
	}
	var out []dashboard.Record
	for _, r := range records {
		if wantID[r.ID] || wantName[strings.ToLower(r.Name)] {
			out = append(out, r)
		}
	}
	return out
}

func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("snapshot is empty")
	}
	return string(data), nil
}

func writeManifest(path, creator, outputDir string, records []dashboard.Record) error {
	if outputDir == "" {
		outputDir = "exports"
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if err := dashboard.NewManifest(creator, outputDir, records).Encode(f, format); err != nil {
		_ = f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	return f.Close()
}
