package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/adityalohuni/dashport/internal/toolcall"
)

const (
	defaultDaemonAddr       = ":9099"
	defaultRefreshInterval  = 2 * time.Second
	defaultConfigDirName    = "dashport"
	defaultConfigFileName   = "config.toml"
	defaultBackend          = BackendMCP
	defaultCallTimeout      = 30 * time.Second
	defaultActionLabel      = "Show options"
	defaultExportLabel      = "Export to file"
	defaultUnknownCreator   = "unknown"
	defaultJobTimeout       = 3 * time.Minute
	defaultJobRetries       = 2
	defaultPollInterval     = 500 * time.Millisecond
	defaultReconcileTimeout = 60 * time.Second
	defaultStrategy         = StrategyDownload
)

const (
	BackendMCP = "mcp"
	BackendWS  = "ws"
	BackendRod = "rod"

	StrategyDownload = "download"
	StrategyFetch    = "fetch"
)

var defaultPlaceholders = []string{"--", "-", "—", "N/A"}

type Settings struct {
	Path       string
	Browser    BrowserSettings
	Dashboards DashboardSettings
	Extract    ExtractSettings
	Retry      toolcall.RetryPolicy
	Export     ExportSettings
	Daemon     DaemonSettings
	Store      StoreSettings
}

type BrowserSettings struct {
	Backend     string
	Command     string
	Args        []string
	ControlURL  string
	Headless    bool
	Stealth     bool
	CallTimeout time.Duration
}

type DashboardSettings struct {
	ListURL       string
	BaseURL       string
	CreatorFilter string
	ActionLabel   string
	ExportLabel   string
}

type ExtractSettings struct {
	UnknownCreator string
	Placeholders   []string
}

type ExportSettings struct {
	DownloadDir      string
	OutputDir        string
	JobTimeout       time.Duration
	JobRetries       int
	PollInterval     time.Duration
	ReconcileTimeout time.Duration
	Strategy         string
	APIBase          string
}

type DaemonSettings struct {
	Addr            string
	MCPToken        string
	AdminToken      string
	AdminBaseURL    string
	RefreshInterval time.Duration
}

type StoreSettings struct {
	Path string
}

type fileConfig struct {
	Browser    browserConfig    `toml:"browser"`
	Dashboards dashboardsConfig `toml:"dashboards"`
	Extract    extractConfig    `toml:"extract"`
	Retry      retryConfig      `toml:"retry"`
	Export     exportConfig     `toml:"export"`
	Daemon     daemonConfig     `toml:"daemon"`
	Store      storeConfig      `toml:"store"`
}

type browserConfig struct {
	Backend     string   `toml:"backend"`
	Command     string   `toml:"command"`
	Args        []string `toml:"args"`
	ControlURL  string   `toml:"control_url"`
	Headless    *bool    `toml:"headless"`
	Stealth     *bool    `toml:"stealth"`
	CallTimeout string   `toml:"call_timeout"`
}

type dashboardsConfig struct {
	ListURL       string `toml:"list_url"`
	BaseURL       string `toml:"base_url"`
	CreatorFilter string `toml:"creator_filter"`
	ActionLabel   string `toml:"action_label"`
	ExportLabel   string `toml:"export_label"`
}

type extractConfig struct {
	UnknownCreator string   `toml:"unknown_creator"`
	Placeholders   []string `toml:"placeholders"`
}

type retryConfig struct {
	MaxAttempts  int     `toml:"max_attempts"`
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
}

type exportConfig struct {
	DownloadDir      string `toml:"download_dir"`
	OutputDir        string `toml:"output_dir"`
	JobTimeout       string `toml:"job_timeout"`
	JobRetries       int    `toml:"job_retries"`
	PollInterval     string `toml:"poll_interval"`
	ReconcileTimeout string `toml:"reconcile_timeout"`
	Strategy         string `toml:"strategy"`
	APIBase          string `toml:"api_base"`
}

type daemonConfig struct {
	Addr            string `toml:"addr"`
	MCPToken        string `toml:"mcp_token"`
	AdminToken      string `toml:"admin_token"`
	AdminBaseURL    string `toml:"admin_base_url"`
	RefreshInterval string `toml:"refresh_interval"`
}

type storeConfig struct {
	Path string `toml:"path"`
}

// LoadOrCreate reads the config at path (DefaultPath when empty), fills in
// missing values and writes the file back when anything was added.
func LoadOrCreate(path string) (Settings, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Settings{}, err
		}
	}

	cfg := defaultFileConfig(filepath.Dir(path))
	exists := false
	changed := false
	if _, err := os.Stat(path); err == nil {
		exists = true
		var onDisk fileConfig
		if _, err := toml.DecodeFile(path, &onDisk); err != nil {
			return Settings{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		changed = mergeFileConfig(&cfg, onDisk)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("stat config %s: %w", path, err)
	}

	if strings.TrimSpace(cfg.Daemon.MCPToken) == "" {
		cfg.Daemon.MCPToken = randomToken()
		changed = true
	}
	if strings.TrimSpace(cfg.Daemon.AdminToken) == "" {
		cfg.Daemon.AdminToken = randomToken()
		changed = true
	}
	if strings.TrimSpace(cfg.Daemon.AdminBaseURL) == "" {
		cfg.Daemon.AdminBaseURL = deriveAdminBaseURL(cfg.Daemon.Addr)
		changed = true
	}

	if !exists || changed {
		if err := writeConfig(path, cfg); err != nil {
			return Settings{}, err
		}
	}
	return toSettings(path, cfg)
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", defaultConfigDirName, defaultConfigFileName), nil
}

func defaultFileConfig(dir string) fileConfig {
	policy := toolcall.DefaultRetryPolicy()
	headless, stealth := true, true
	return fileConfig{
		Browser: browserConfig{
			Backend:     defaultBackend,
			Command:     "npx",
			Args:        []string{"@playwright/mcp@latest"},
			Headless:    &headless,
			Stealth:     &stealth,
			CallTimeout: defaultCallTimeout.String(),
		},
		Dashboards: dashboardsConfig{
			ActionLabel: defaultActionLabel,
			ExportLabel: defaultExportLabel,
		},
		Extract: extractConfig{
			UnknownCreator: defaultUnknownCreator,
			Placeholders:   append([]string(nil), defaultPlaceholders...),
		},
		Retry: retryConfig{
			MaxAttempts:  policy.MaxAttempts,
			InitialDelay: policy.InitialDelay.String(),
			Multiplier:   policy.Multiplier,
			MaxDelay:     policy.MaxDelay.String(),
		},
		Export: exportConfig{
			DownloadDir:      filepath.Join(dir, "downloads"),
			OutputDir:        "exports",
			JobTimeout:       defaultJobTimeout.String(),
			JobRetries:       defaultJobRetries,
			PollInterval:     defaultPollInterval.String(),
			ReconcileTimeout: defaultReconcileTimeout.String(),
			Strategy:         defaultStrategy,
		},
		Daemon: daemonConfig{
			Addr:            defaultDaemonAddr,
			RefreshInterval: defaultRefreshInterval.String(),
		},
		Store: storeConfig{
			Path: filepath.Join(dir, "runs.db"),
		},
	}
}

// mergeFileConfig overlays the non-empty values of src onto dst and reports
// whether src was missing a key the defaults provide.
func mergeFileConfig(dst *fileConfig, src fileConfig) bool {
	missing := false
	str := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		} else if *dst != "" {
			missing = true
		}
	}

	str(&dst.Browser.Backend, src.Browser.Backend)
	str(&dst.Browser.Command, src.Browser.Command)
	if src.Browser.Args != nil {
		dst.Browser.Args = src.Browser.Args
	}
	str(&dst.Browser.ControlURL, src.Browser.ControlURL)
	if src.Browser.Headless != nil {
		dst.Browser.Headless = src.Browser.Headless
	} else {
		missing = true
	}
	if src.Browser.Stealth != nil {
		dst.Browser.Stealth = src.Browser.Stealth
	} else {
		missing = true
	}
	str(&dst.Browser.CallTimeout, src.Browser.CallTimeout)

	str(&dst.Dashboards.ListURL, src.Dashboards.ListURL)
	str(&dst.Dashboards.BaseURL, src.Dashboards.BaseURL)
	str(&dst.Dashboards.CreatorFilter, src.Dashboards.CreatorFilter)
	str(&dst.Dashboards.ActionLabel, src.Dashboards.ActionLabel)
	str(&dst.Dashboards.ExportLabel, src.Dashboards.ExportLabel)

	str(&dst.Extract.UnknownCreator, src.Extract.UnknownCreator)
	if src.Extract.Placeholders != nil {
		dst.Extract.Placeholders = src.Extract.Placeholders
	}

	if src.Retry.MaxAttempts > 0 {
		dst.Retry.MaxAttempts = src.Retry.MaxAttempts
	}
	str(&dst.Retry.InitialDelay, src.Retry.InitialDelay)
	if src.Retry.Multiplier > 0 {
		dst.Retry.Multiplier = src.Retry.Multiplier
	}
	str(&dst.Retry.MaxDelay, src.Retry.MaxDelay)

	str(&dst.Export.DownloadDir, src.Export.DownloadDir)
	str(&dst.Export.OutputDir, src.Export.OutputDir)
	str(&dst.Export.JobTimeout, src.Export.JobTimeout)
	if src.Export.JobRetries > 0 {
		dst.Export.JobRetries = src.Export.JobRetries
	}
	str(&dst.Export.PollInterval, src.Export.PollInterval)
	str(&dst.Export.ReconcileTimeout, src.Export.ReconcileTimeout)
	str(&dst.Export.Strategy, src.Export.Strategy)
	str(&dst.Export.APIBase, src.Export.APIBase)

	str(&dst.Daemon.Addr, src.Daemon.Addr)
	str(&dst.Daemon.MCPToken, src.Daemon.MCPToken)
	str(&dst.Daemon.AdminToken, src.Daemon.AdminToken)
	str(&dst.Daemon.AdminBaseURL, src.Daemon.AdminBaseURL)
	str(&dst.Daemon.RefreshInterval, src.Daemon.RefreshInterval)

	str(&dst.Store.Path, src.Store.Path)
	return missing
}

func toSettings(path string, cfg fileConfig) (Settings, error) {
	var errs []error
	dur := func(key, v string) time.Duration {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s duration: %w", key, err))
		}
		return d
	}

	s := Settings{
		Path: path,
		Browser: BrowserSettings{
			Backend:     strings.ToLower(cfg.Browser.Backend),
			Command:     cfg.Browser.Command,
			Args:        cfg.Browser.Args,
			ControlURL:  cfg.Browser.ControlURL,
			Headless:    cfg.Browser.Headless == nil || *cfg.Browser.Headless,
			Stealth:     cfg.Browser.Stealth == nil || *cfg.Browser.Stealth,
			CallTimeout: dur("browser.call_timeout", cfg.Browser.CallTimeout),
		},
		Dashboards: DashboardSettings(cfg.Dashboards),
		Extract: ExtractSettings{
			UnknownCreator: cfg.Extract.UnknownCreator,
			Placeholders:   cfg.Extract.Placeholders,
		},
		Retry: toolcall.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: dur("retry.initial_delay", cfg.Retry.InitialDelay),
			Multiplier:   cfg.Retry.Multiplier,
			MaxDelay:     dur("retry.max_delay", cfg.Retry.MaxDelay),
		},
		Export: ExportSettings{
			DownloadDir:      expandHome(cfg.Export.DownloadDir),
			OutputDir:        expandHome(cfg.Export.OutputDir),
			JobTimeout:       dur("export.job_timeout", cfg.Export.JobTimeout),
			JobRetries:       cfg.Export.JobRetries,
			PollInterval:     dur("export.poll_interval", cfg.Export.PollInterval),
			ReconcileTimeout: dur("export.reconcile_timeout", cfg.Export.ReconcileTimeout),
			Strategy:         strings.ToLower(cfg.Export.Strategy),
			APIBase:          cfg.Export.APIBase,
		},
		Daemon: DaemonSettings{
			Addr:            cfg.Daemon.Addr,
			MCPToken:        cfg.Daemon.MCPToken,
			AdminToken:      cfg.Daemon.AdminToken,
			AdminBaseURL:    cfg.Daemon.AdminBaseURL,
			RefreshInterval: dur("daemon.refresh_interval", cfg.Daemon.RefreshInterval),
		},
		Store: StoreSettings{Path: expandHome(cfg.Store.Path)},
	}

	switch s.Browser.Backend {
	case BackendMCP, BackendWS, BackendRod:
	default:
		errs = append(errs, fmt.Errorf("invalid browser.backend %q (want mcp, ws or rod)", cfg.Browser.Backend))
	}
	switch s.Export.Strategy {
	case StrategyDownload, StrategyFetch:
	default:
		errs = append(errs, fmt.Errorf("invalid export.strategy %q (want download or fetch)", cfg.Export.Strategy))
	}
	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	s.Retry = s.Retry.Normalize()
	return s, nil
}

// Validate checks values that flags or environment may have overridden after
// loading.
func (s Settings) Validate() error {
	var errs []error
	switch s.Browser.Backend {
	case BackendMCP, BackendWS, BackendRod:
	default:
		errs = append(errs, fmt.Errorf("unknown browser backend %q", s.Browser.Backend))
	}
	switch s.Export.Strategy {
	case StrategyDownload, StrategyFetch:
	default:
		errs = append(errs, fmt.Errorf("unknown export strategy %q", s.Export.Strategy))
	}
	if s.Export.Strategy == StrategyFetch && s.Export.APIBase == "" && s.Dashboards.BaseURL == "" {
		errs = append(errs, errors.New("fetch strategy needs export.api_base or dashboards.base_url"))
	}
	if s.Export.JobTimeout <= 0 {
		errs = append(errs, errors.New("export.job_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func writeConfig(path string, cfg fileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString("# dashport config for dashport, dashport-mcp and dashportd\n\n"); err != nil {
		return fmt.Errorf("write config header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func deriveAdminBaseURL(addr string) string {
	host := strings.TrimSpace(addr)
	if host == "" {
		host = defaultDaemonAddr
	}
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	if strings.HasPrefix(host, ":") {
		return "http://127.0.0.1" + host
	}
	h, p, err := net.SplitHostPort(host)
	if err == nil {
		if h == "" || h == "0.0.0.0" || h == "::" || h == "[::]" {
			h = "127.0.0.1"
		}
		return "http://" + net.JoinHostPort(h, p)
	}
	return "http://" + net.JoinHostPort(host, "9099")
}

func expandHome(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return p
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
