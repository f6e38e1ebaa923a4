package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

const EnvVarPrefix = "OP_WEBCHECK"

var (
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to the config file (.yaml, .yml, .json or .toml). Defaults to webcheck.{yaml,yml,toml} in the working directory",
	}
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:   "Directory from which to discover *.webcheck.yaml scenarios. Overrides the config file",
	}
	BaseURL = &cli.StringFlag{
		Name:    "base-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BASE_URL"),
		Usage:   "Base URL relative navigations resolve against. Overrides BASE_URL and the config file",
	}
	Workers = &cli.IntFlag{
		Name:    "workers",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKERS"),
		Usage:   "Number of concurrent sessions (0 = auto-determine)",
	}
	Retries = &cli.IntFlag{
		Name:    "retries",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RETRIES"),
		Usage:   "Extra attempts for a failing test. Overrides the config file",
	}
	Reporters = &cli.StringSliceFlag{
		Name:    "reporter",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORTER"),
		Usage:   "Report format to emit: html, json, junit or list. Repeatable",
		Action: func(_ *cli.Context, v []string) error {
			for _, s := range v {
				if _, err := types.ParseFormatKind(s); err != nil {
					return err
				}
			}
			return nil
		},
	}
	OutputDir = &cli.StringFlag{
		Name:    "output-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT_DIR"),
		Usage:   "Directory reports and screenshots are written to",
	}
	Grep = &cli.StringFlag{
		Name:    "grep",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GREP"),
		Usage:   "Only run tests whose full title matches this regular expression",
	}
	GrepInvert = &cli.StringFlag{
		Name:    "grep-invert",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GREP_INVERT"),
		Usage:   "Skip tests whose full title matches this regular expression",
	}
	Tags = &cli.StringSliceFlag{
		Name:    "tag",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TAG"),
		Usage:   "Only run tests carrying one of these @tags. Repeatable",
	}
	Projects = &cli.StringSliceFlag{
		Name:    "project",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROJECT"),
		Usage:   "Only run the named projects. Repeatable",
	}
	LastFailed = &cli.BoolFlag{
		Name:    "last-failed",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LAST_FAILED"),
		Usage:   "Only run the tests that failed in the previous recorded run (requires --history-db)",
	}
	HistoryDB = &cli.StringFlag{
		Name:    "history-db",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HISTORY_DB"),
		Usage:   "Path to a sqlite database recording run outcomes",
	}
	BuiltinSuites = &cli.StringSliceFlag{
		Name:    "builtin-suites",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILTIN_SUITES"),
		Usage:   "Built-in suites to register: a11y, functional, ux or all. Repeatable",
	}
	CI = &cli.BoolFlag{
		Name:    "ci",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CI"),
		Usage:   "Use CI defaults (retries 2, one worker, forbid exclusive tests, strict UX policy). Also enabled by a non-empty CI environment variable",
	}
	UXPolicy = &cli.StringFlag{
		Name:    "ux-policy",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "UX_POLICY"),
		Usage:   "How soft UX checks are treated: strict fails the test, lenient records a warning",
		Action: func(_ *cli.Context, v string) error {
			_, err := harness.ParsePolicy(v)
			return err
		},
	}
	BrowserURL = &cli.StringFlag{
		Name:    "browser-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BROWSER_URL"),
		Usage:   "DevTools websocket URL of a running browser. A local browser is launched when empty",
	}
	BrowserBin = &cli.StringFlag{
		Name:    "browser-bin",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BROWSER_BIN"),
		Usage:   "Browser binary to launch. Downloaded automatically when empty",
	}
	Headful = &cli.BoolFlag{
		Name:    "headful",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEADFUL"),
		Usage:   "Show the launched browser window",
	}
	NoSandbox = &cli.BoolFlag{
		Name:    "no-sandbox",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NO_SANDBOX"),
		Usage:   "Launch the browser without its sandbox, needed when running as root in containers",
	}
	StrictEngines = &cli.BoolFlag{
		Name:    "strict-engines",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STRICT_ENGINES"),
		Usage:   "Fail projects that ask for an engine the browser cannot provide instead of emulating them",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '15m'). Set to 0 or omit for run-once mode.",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates while tests run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is enabled",
	}
	HealthzPort = &cli.IntFlag{
		Name:    "healthz.port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_PORT"),
		Usage:   "Port of the healthz server started together with the metrics server",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	ConfigFile,
	TestDir,
	BaseURL,
	Workers,
	Retries,
	Reporters,
	OutputDir,
	Grep,
	GrepInvert,
	Tags,
	Projects,
	LastFailed,
	HistoryDB,
	BuiltinSuites,
	CI,
	UXPolicy,
	BrowserURL,
	BrowserBin,
	Headful,
	NoSandbox,
	StrictEngines,
	RunInterval,
	ShowProgress,
	ProgressInterval,
	HealthzPort,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
