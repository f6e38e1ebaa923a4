// Package config loads the operator configuration file and resolves it, with
// environment dependent defaults, into the settings of a run.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

const DefaultBaseURL = "http://localhost:3000"

// Audit engines.
const (
	AuditBuiltin = "builtin"
	AuditAxe     = "axe"
)

// Screenshot modes.
const (
	ScreenshotOff           = "off"
	ScreenshotOnlyOnFailure = "only-on-failure"
)

// File is the operator config file as written. Unset fields keep their
// defaults.
type File struct {
	TestDir             string     `yaml:"testDir,omitempty" toml:"testDir"`
	FullyParallel       *bool      `yaml:"fullyParallel,omitempty" toml:"fullyParallel"`
	ForbidOnly          *bool      `yaml:"forbidOnly,omitempty" toml:"forbidOnly"`
	Retries             *int       `yaml:"retries,omitempty" toml:"retries"`
	Workers             *int       `yaml:"workers,omitempty" toml:"workers"`
	Reporters           []string   `yaml:"reporters,omitempty" toml:"reporters"`
	BaseURL             string     `yaml:"baseURL,omitempty" toml:"baseURL"`
	ActionTimeoutMs     int        `yaml:"actionTimeoutMs,omitempty" toml:"actionTimeoutMs"`
	NavigationTimeoutMs int        `yaml:"navigationTimeoutMs,omitempty" toml:"navigationTimeoutMs"`
	TestTimeoutMs       int        `yaml:"testTimeoutMs,omitempty" toml:"testTimeoutMs"`
	ExpectTimeoutMs     int        `yaml:"expectTimeoutMs,omitempty" toml:"expectTimeoutMs"`
	PollIntervalMs      int        `yaml:"pollIntervalMs,omitempty" toml:"pollIntervalMs"`
	OutputDir           string     `yaml:"outputDir,omitempty" toml:"outputDir"`
	Screenshot          string     `yaml:"screenshot,omitempty" toml:"screenshot"`
	UX                  UXFile     `yaml:"ux,omitempty" toml:"ux"`
	Audit               AuditFile  `yaml:"audit,omitempty" toml:"audit"`
	Projects            []Project  `yaml:"projects,omitempty" toml:"projects"`
	WebServer           *WebServer `yaml:"webServer,omitempty" toml:"webServer"`
}

type UXFile struct {
	Policy string `yaml:"policy,omitempty" toml:"policy"`
}

type AuditFile struct {
	Engine string `yaml:"engine,omitempty" toml:"engine"`
	// AxeScript is a path to an axe-core build injected into pages.
	AxeScript string `yaml:"axeScript,omitempty" toml:"axeScript"`
}

// Project is one entry of the test matrix. Device names a preset whose
// settings the other fields override.
type Project struct {
	Name              string              `yaml:"name" toml:"name"`
	Device            string              `yaml:"device,omitempty" toml:"device"`
	Viewport          *types.Viewport     `yaml:"viewport,omitempty" toml:"viewport"`
	BrowserEngine     types.BrowserEngine `yaml:"browserEngine,omitempty" toml:"browserEngine"`
	UserAgent         string              `yaml:"userAgent,omitempty" toml:"userAgent"`
	DeviceScaleFactor float64             `yaml:"deviceScaleFactor,omitempty" toml:"deviceScaleFactor"`
	IsMobile          *bool               `yaml:"isMobile,omitempty" toml:"isMobile"`
	HasTouch          *bool               `yaml:"hasTouch,omitempty" toml:"hasTouch"`
}

type WebServer struct {
	// StartCommand is recorded for operators; the harness never runs it.
	StartCommand   string `yaml:"startCommand,omitempty" toml:"startCommand"`
	ReadyURL       string `yaml:"readyURL" toml:"readyURL"`
	ReuseExisting  *bool  `yaml:"reuseExisting,omitempty" toml:"reuseExisting"`
	StartTimeoutMs int    `yaml:"startTimeoutMs,omitempty" toml:"startTimeoutMs"`
}

// Env carries the process environment that shapes defaults.
type Env struct {
	CI bool
	// BaseURL is $BASE_URL, if set.
	BaseURL string
}

// WebServerConfig is the resolved readiness check.
type WebServerConfig struct {
	StartCommand  string
	ReadyURL      string
	ReuseExisting bool
	StartTimeout  time.Duration
}

// Config is the resolved run configuration.
type Config struct {
	TestDir           string
	FullyParallel     bool
	ForbidOnly        bool
	Retries           int
	Workers           int
	Reporters         []types.FormatKind
	BaseURL           string
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	TestTimeout       time.Duration
	ExpectTimeout     time.Duration
	PollInterval      time.Duration
	OutputDir         string
	Screenshots       bool
	UXPolicy          harness.Policy
	AuditEngine       string
	AxeScript         string
	Projects          []types.ProjectConfig
	WebServer         *WebServerConfig
}

// Defaults returns the configuration used when the file sets nothing. CI
// runs retry twice on one worker, forbid exclusive tests and apply the strict
// UX policy.
func Defaults(env Env) Config {
	c := Config{
		TestDir:           "tests",
		FullyParallel:     true,
		Reporters:         slices.Clone(types.AllFormats),
		BaseURL:           DefaultBaseURL,
		ActionTimeout:     10 * time.Second,
		NavigationTimeout: 30 * time.Second,
		TestTimeout:       60 * time.Second,
		ExpectTimeout:     5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		OutputDir:         "test-results",
		Screenshots:       true,
		UXPolicy:          harness.PolicyLenient,
		AuditEngine:       AuditBuiltin,
		Projects:          DefaultProjects(),
	}
	if env.BaseURL != "" {
		c.BaseURL = env.BaseURL
	}
	if env.CI {
		c.Retries = 2
		c.Workers = 1
		c.ForbidOnly = true
		c.UXPolicy = harness.PolicyStrict
	}
	return c
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Apply overlays f onto base and returns the merged configuration.
func (f *File) Apply(base Config, env Env) (Config, error) {
	c := base
	c.Reporters = slices.Clone(base.Reporters)
	c.Projects = slices.Clone(base.Projects)
	if f == nil {
		return c, nil
	}
	if f.TestDir != "" {
		c.TestDir = f.TestDir
	}
	if f.FullyParallel != nil {
		c.FullyParallel = *f.FullyParallel
	}
	if f.ForbidOnly != nil {
		c.ForbidOnly = *f.ForbidOnly
	}
	if f.Retries != nil {
		c.Retries = *f.Retries
	}
	if f.Workers != nil {
		c.Workers = *f.Workers
	}
	if len(f.Reporters) > 0 {
		c.Reporters = c.Reporters[:0]
		for _, r := range f.Reporters {
			kind, err := types.ParseFormatKind(r)
			if err != nil {
				return Config{}, err
			}
			c.Reporters = append(c.Reporters, kind)
		}
	}
	if f.BaseURL != "" && env.BaseURL == "" {
		c.BaseURL = f.BaseURL
	}
	for _, d := range []struct {
		dst *time.Duration
		ms  int
	}{
		{&c.ActionTimeout, f.ActionTimeoutMs},
		{&c.NavigationTimeout, f.NavigationTimeoutMs},
		{&c.TestTimeout, f.TestTimeoutMs},
		{&c.ExpectTimeout, f.ExpectTimeoutMs},
		{&c.PollInterval, f.PollIntervalMs},
	} {
		if d.ms > 0 {
			*d.dst = ms(d.ms)
		}
	}
	if f.OutputDir != "" {
		c.OutputDir = f.OutputDir
	}
	switch f.Screenshot {
	case "":
	case ScreenshotOff:
		c.Screenshots = false
	case ScreenshotOnlyOnFailure:
		c.Screenshots = true
	default:
		return Config{}, fmt.Errorf("unknown screenshot mode %q", f.Screenshot)
	}
	if f.UX.Policy != "" {
		p, err := harness.ParsePolicy(f.UX.Policy)
		if err != nil {
			return Config{}, err
		}
		c.UXPolicy = p
	}
	if f.Audit.Engine != "" {
		c.AuditEngine = f.Audit.Engine
	}
	if f.Audit.AxeScript != "" {
		c.AxeScript = f.Audit.AxeScript
	}
	if len(f.Projects) > 0 {
		c.Projects = c.Projects[:0]
		for _, p := range f.Projects {
			pc, err := p.resolve()
			if err != nil {
				return Config{}, err
			}
			c.Projects = append(c.Projects, pc)
		}
	}
	if ws := f.WebServer; ws != nil {
		c.WebServer = &WebServerConfig{
			StartCommand:  ws.StartCommand,
			ReadyURL:      ws.ReadyURL,
			ReuseExisting: !env.CI,
			StartTimeout:  120 * time.Second,
		}
		if ws.ReuseExisting != nil {
			c.WebServer.ReuseExisting = *ws.ReuseExisting
		}
		if ws.StartTimeoutMs > 0 {
			c.WebServer.StartTimeout = ms(ws.StartTimeoutMs)
		}
	}
	return c, nil
}

func (p Project) resolve() (types.ProjectConfig, error) {
	pc := types.ProjectConfig{
		Viewport:          types.Viewport{Width: 1280, Height: 720},
		BrowserEngine:     types.EngineChromium,
		DeviceScaleFactor: 1,
	}
	if p.Device != "" {
		d, ok := Device(p.Device)
		if !ok {
			return types.ProjectConfig{}, fmt.Errorf("project %q: unknown device %q", p.Name, p.Device)
		}
		pc = d
	}
	pc.Name = p.Name
	if p.Viewport != nil {
		pc.Viewport = *p.Viewport
	}
	if p.BrowserEngine != "" {
		pc.BrowserEngine = p.BrowserEngine
	}
	if p.UserAgent != "" {
		pc.UserAgent = p.UserAgent
	}
	if p.DeviceScaleFactor > 0 {
		pc.DeviceScaleFactor = p.DeviceScaleFactor
	}
	if p.IsMobile != nil {
		pc.IsMobile = *p.IsMobile
	}
	if p.HasTouch != nil {
		pc.HasTouch = *p.HasTouch
	}
	return pc, pc.Validate()
}

// Validate checks the resolved configuration for values no run can use.
func (c Config) Validate() error {
	var errs []error
	if c.TestDir == "" {
		errs = append(errs, errors.New("testDir is required"))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Errorf("baseURL %q is not an absolute url", c.BaseURL))
	}
	if c.TestTimeout <= 0 {
		errs = append(errs, errors.New("test timeout must be positive"))
	}
	if c.ExpectTimeout <= 0 || c.PollInterval <= 0 {
		errs = append(errs, errors.New("expect timeout and poll interval must be positive"))
	}
	switch c.AuditEngine {
	case AuditBuiltin:
	case AuditAxe:
		if c.AxeScript == "" {
			errs = append(errs, errors.New("audit engine axe needs audit.axeScript"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit engine %q", c.AuditEngine))
	}
	if len(c.Projects) == 0 {
		errs = append(errs, errors.New("at least one project is required"))
	}
	seen := make(map[string]bool)
	for _, p := range c.Projects {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate project %q", p.Name))
		}
		seen[p.Name] = true
	}
	if ws := c.WebServer; ws != nil {
		if u, err := url.Parse(ws.ReadyURL); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("webServer.readyURL %q is not an absolute url", ws.ReadyURL))
		}
	}
	return errors.Join(errs...)
}
