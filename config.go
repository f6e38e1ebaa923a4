package webcheck

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-webcheck/browser/rodengine"
	"github.com/ethereum-optimism/infra/op-webcheck/config"
	"github.com/ethereum-optimism/infra/op-webcheck/flags"
	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
	"github.com/ethereum-optimism/infra/op-webcheck/service"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// DefaultConfigFiles are looked up in the working directory when no config
// file is named.
var DefaultConfigFiles = []string{"webcheck.yaml", "webcheck.yml", "webcheck.toml"}

// Config holds the application configuration
type Config struct {
	Run config.Config
	// ConfigFile is the file Run was read from, empty when only defaults apply.
	ConfigFile       string
	Filter           registry.Filter
	LastFailed       bool
	HistoryDB        string
	BuiltinSuites    []string
	Browser          rodengine.Options
	RunInterval      time.Duration // Interval between runs
	RunOnce          bool          // Indicates if the service should exit after one run
	ShowProgress     bool
	ProgressInterval time.Duration
	Service          service.Config
	Log              log.Logger
}

// Inputs are the raw operator choices a Config is assembled from. Nil
// pointers and empty values leave the config file or defaults in place.
type Inputs struct {
	ConfigFile string
	// WorkDir is where default config files are looked for.
	WorkDir string
	Env     config.Env

	TestDir   string
	BaseURL   string
	OutputDir string
	Workers   *int
	Retries   *int
	Reporters []string
	UXPolicy  string

	Grep          string
	GrepInvert    string
	Tags          []string
	Projects      []string
	LastFailed    bool
	HistoryDB     string
	BuiltinSuites []string

	Browser          rodengine.Options
	RunInterval      time.Duration
	ShowProgress     bool
	ProgressInterval time.Duration
	Service          service.Config
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	in := Inputs{
		ConfigFile: ctx.String(flags.ConfigFile.Name),
		WorkDir:    wd,
		Env: config.Env{
			CI:      ctx.Bool(flags.CI.Name) || ciFromEnv(os.Getenv("CI")),
			BaseURL: os.Getenv("BASE_URL"),
		},
		TestDir:       ctx.String(flags.TestDir.Name),
		BaseURL:       ctx.String(flags.BaseURL.Name),
		OutputDir:     ctx.String(flags.OutputDir.Name),
		Reporters:     ctx.StringSlice(flags.Reporters.Name),
		UXPolicy:      ctx.String(flags.UXPolicy.Name),
		Grep:          ctx.String(flags.Grep.Name),
		GrepInvert:    ctx.String(flags.GrepInvert.Name),
		Tags:          ctx.StringSlice(flags.Tags.Name),
		Projects:      ctx.StringSlice(flags.Projects.Name),
		LastFailed:    ctx.Bool(flags.LastFailed.Name),
		HistoryDB:     ctx.String(flags.HistoryDB.Name),
		BuiltinSuites: ctx.StringSlice(flags.BuiltinSuites.Name),
		Browser: rodengine.Options{
			ControlURL:    ctx.String(flags.BrowserURL.Name),
			Bin:           ctx.String(flags.BrowserBin.Name),
			Headless:      !ctx.Bool(flags.Headful.Name),
			NoSandbox:     ctx.Bool(flags.NoSandbox.Name),
			StrictEngines: ctx.Bool(flags.StrictEngines.Name),
		},
		RunInterval:      ctx.Duration(flags.RunInterval.Name),
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
	}
	if ctx.IsSet(flags.Workers.Name) {
		v := ctx.Int(flags.Workers.Name)
		in.Workers = &v
	}
	if ctx.IsSet(flags.Retries.Name) {
		v := ctx.Int(flags.Retries.Name)
		in.Retries = &v
	}
	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}
	in.Service = service.Config{
		Enabled:     metricsCfg.Enabled,
		Host:        metricsCfg.ListenAddr,
		MetricsPort: metricsCfg.ListenPort,
		HealthzPort: ctx.Int(flags.HealthzPort.Name),
	}
	return BuildConfig(in, log)
}

// ciFromEnv interprets the conventional CI variable: anything but empty,
// "0" or "false" means CI.
func ciFromEnv(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no":
		return false
	}
	return true
}

// BuildConfig layers defaults, the config file and explicit inputs, in that
// order, and validates the result.
func BuildConfig(in Inputs, log log.Logger) (*Config, error) {
	base := config.Defaults(in.Env)
	path, err := resolveConfigFile(in.ConfigFile, in.WorkDir)
	if err != nil {
		return nil, err
	}
	run := base
	if path != "" {
		f, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if run, err = f.Apply(base, in.Env); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if in.TestDir != "" {
		run.TestDir = in.TestDir
	}
	if in.BaseURL != "" {
		run.BaseURL = in.BaseURL
	}
	if in.OutputDir != "" {
		run.OutputDir = in.OutputDir
	}
	if in.Workers != nil {
		run.Workers = *in.Workers
	}
	if in.Retries != nil {
		run.Retries = *in.Retries
	}
	if len(in.Reporters) > 0 {
		run.Reporters = run.Reporters[:0:0]
		for _, s := range in.Reporters {
			kind, err := types.ParseFormatKind(s)
			if err != nil {
				return nil, err
			}
			run.Reporters = append(run.Reporters, kind)
		}
	}
	if in.UXPolicy != "" {
		if run.UXPolicy, err = harness.ParsePolicy(in.UXPolicy); err != nil {
			return nil, err
		}
	}

	if len(in.Projects) > 0 {
		var kept []types.ProjectConfig
		for _, name := range in.Projects {
			i := slices.IndexFunc(run.Projects, func(p types.ProjectConfig) bool { return p.Name == name })
			if i < 0 {
				return nil, fmt.Errorf("unknown project %q (configured: %s)", name, strings.Join(projectNames(run.Projects), ", "))
			}
			kept = append(kept, run.Projects[i])
		}
		run.Projects = kept
	}

	// relative dirs resolve against the config file
	root := in.WorkDir
	if path != "" {
		root = filepath.Dir(path)
	}
	run.TestDir = absUnder(root, run.TestDir)
	run.OutputDir = absUnder(in.WorkDir, run.OutputDir)
	if run.AxeScript != "" {
		run.AxeScript = absUnder(root, run.AxeScript)
	}

	if err := run.Validate(); err != nil {
		return nil, err
	}

	filter := registry.Filter{Tags: in.Tags}
	if filter.Grep, err = compileOptional("grep", in.Grep); err != nil {
		return nil, err
	}
	if filter.GrepInvert, err = compileOptional("grep-invert", in.GrepInvert); err != nil {
		return nil, err
	}
	if in.LastFailed && in.HistoryDB == "" {
		return nil, errors.New("--last-failed needs --history-db to know what failed")
	}

	if in.ProgressInterval <= 0 {
		in.ProgressInterval = 30 * time.Second
	}
	in.Browser.Log = log
	return &Config{
		Run:              run,
		ConfigFile:       path,
		Filter:           filter,
		LastFailed:       in.LastFailed,
		HistoryDB:        in.HistoryDB,
		BuiltinSuites:    in.BuiltinSuites,
		Browser:          in.Browser,
		RunInterval:      in.RunInterval,
		RunOnce:          in.RunInterval == 0,
		ShowProgress:     in.ShowProgress,
		ProgressInterval: in.ProgressInterval,
		Service:          in.Service,
		Log:              log,
	}, nil
}

func resolveConfigFile(explicit, wd string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path for config file '%s': %w", explicit, err)
		}
		return abs, nil
	}
	for _, name := range DefaultConfigFiles {
		p := filepath.Join(wd, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func absUnder(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func compileOptional(name, expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s pattern: %w", name, err)
	}
	return re, nil
}

func projectNames(ps []types.ProjectConfig) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}
