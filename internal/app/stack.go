// Package app assembles the export pipeline from loaded settings. Every
// binary builds the same stack; only the outer surface differs.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/adityalohuni/dashport/internal/browser"
	"github.com/adityalohuni/dashport/internal/browser/mcpclient"
	"github.com/adityalohuni/dashport/internal/browser/rodbrowser"
	"github.com/adityalohuni/dashport/internal/browser/wsbrowser"
	"github.com/adityalohuni/dashport/internal/config"
	"github.com/adityalohuni/dashport/internal/dashboard"
	"github.com/adityalohuni/dashport/internal/export"
	"github.com/adityalohuni/dashport/internal/progress"
	"github.com/adityalohuni/dashport/internal/reconcile"
	"github.com/adityalohuni/dashport/internal/runlog"
	"github.com/adityalohuni/dashport/internal/snapshot"
	"github.com/adityalohuni/dashport/internal/toolcall"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

const snapshotHistory = 16

type Options struct {
	// Bridge is required for the ws backend.
	Bridge *wsbridge.Bridge
	// Backend overrides the one named in settings.
	Backend browser.Backend
	// Tracker is shared with outer surfaces that watch progress. A new one
	// is created when nil.
	Tracker *progress.Tracker
	Logger  *slog.Logger
}

// Stack is the wired pipeline. Close releases the backend and the run log.
type Stack struct {
	Settings     config.Settings
	Backend      browser.Backend
	Client       *toolcall.Client
	Automation   *browser.Automation
	Orchestrator *export.Orchestrator
	Tracker      *progress.Tracker
	Runs         *runlog.Store
}

// Build wires settings into a Stack. Nothing connects yet: backends dial on
// first use.
func Build(settings config.Settings, opts Options) (*Stack, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = NewBackend(settings, opts.Bridge, logger)
		if err != nil {
			return nil, err
		}
	}

	runs, err := runlog.Open(settings.Store.Path)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = progress.NewTracker()
	}

	client := toolcall.New(backend, toolcall.Options{
		Policy:   settings.Retry,
		Observer: toolcall.LogObserver{Logger: logger},
		Logger:   logger,
	})
	automation := browser.NewAutomation(client, browser.Options{
		Store:  snapshot.NewStore(snapshotHistory),
		Logger: logger,
	})

	ex := settings.Export
	var downloads export.DownloadDirSetter
	if d, ok := backend.(export.DownloadDirSetter); ok {
		downloads = d
	}
	orch := export.New(automation, export.Options{
		ListURL:     settings.Dashboards.ListURL,
		DownloadDir: ex.DownloadDir,
		ActionLabel: settings.Dashboards.ActionLabel,
		ExportLabel: settings.Dashboards.ExportLabel,
		JobTimeout:  ex.JobTimeout,
		JobRetries:  ex.JobRetries,
		Strategy:    ex.Strategy,
		APIBase:     ex.APIBase,
		Extractor: dashboard.NewExtractor(dashboard.Options{
			BaseURL:        settings.Dashboards.BaseURL,
			UnknownCreator: settings.Extract.UnknownCreator,
			Placeholders:   settings.Extract.Placeholders,
			Logger:         logger,
		}),
		Reconciler: reconcile.New(reconcile.Options{
			PollInterval: ex.PollInterval,
			Timeout:      ex.ReconcileTimeout,
			Logger:       logger,
		}),
		Downloads: downloads,
		Progress:  tracker,
		RunLog:    runs,
		Creator:   settings.Dashboards.CreatorFilter,
		Logger:    logger,
	})

	return &Stack{
		Settings:     settings,
		Backend:      backend,
		Client:       client,
		Automation:   automation,
		Orchestrator: orch,
		Tracker:      tracker,
		Runs:         runs,
	}, nil
}

// NewBackend picks the browser transport named by settings.Browser.Backend.
func NewBackend(settings config.Settings, bridge *wsbridge.Bridge, logger *slog.Logger) (browser.Backend, error) {
	b := settings.Browser
	switch b.Backend {
	case config.BackendMCP, "":
		return mcpclient.New(mcpclient.Options{
			Command: b.Command,
			Args:    b.Args,
			Logger:  logger,
		}), nil
	case config.BackendWS:
		if bridge == nil {
			return nil, errors.New("ws backend needs a running bridge; use dashportd")
		}
		return wsbrowser.NewClient(bridge, wsbrowser.Options{Timeout: b.CallTimeout}), nil
	case config.BackendRod:
		return rodbrowser.New(rodbrowser.Options{
			ControlURL:  b.ControlURL,
			Headless:    b.Headless,
			Stealth:     b.Stealth,
			DownloadDir: settings.Export.DownloadDir,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown browser backend %q", b.Backend)
	}
}

func (s *Stack) Close() error {
	return errors.Join(s.Backend.Close(), s.Runs.Close())
}
