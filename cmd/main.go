package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	webcheck "github.com/ethereum-optimism/infra/op-webcheck"
	"github.com/ethereum-optimism/infra/op-webcheck/exitcodes"
	"github.com/ethereum-optimism/infra/op-webcheck/flags"
	"github.com/ethereum-optimism/infra/op-webcheck/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-webcheck"
	app.Usage = "Browser-driven UI verification harness"
	app.Description = "op-webcheck runs functional, accessibility and UX checks against a web application in a real browser"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCode(err)))
	}
	return app
}

// exitCode maps a run error onto the process exit code. The webcheck error
// types are exit coders; anything else came from flag parsing or validation.
func exitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return exitcodes.ConfigErr
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := webcheck.NewConfig(ctx, log)
	if err != nil {
		return nil, webcheck.NewConfigurationError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "file", cfg.ConfigFile, "testDir", cfg.Run.TestDir, "baseURL", cfg.Run.BaseURL)

	checker, err := webcheck.New(ctx.Context, cfg, Version, closeApp,
		webcheck.WithService(service.New(cfg.Service, log)),
		webcheck.WithConsole(ctx.App.Writer),
	)
	if err != nil {
		return nil, webcheck.NewRuntimeError(fmt.Errorf("failed to create checker: %w", err))
	}
	return checker, nil
}
