// Package root implements the command line interface for Skiff.
package root

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skiff-cd/skiff/cmd/output"
	"github.com/skiff-cd/skiff/config"
	"github.com/skiff-cd/skiff/internal/prompt"
	"github.com/skiff-cd/skiff/logging"
	"github.com/skiff-cd/skiff/pipeline"
	"github.com/skiff-cd/skiff/remote"
)

func Execute() {
	err := NewCmdRoot().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, output.PrintMessage(output.Error, "Error: %s", err))
	}
	os.Exit(pipeline.ExitCode(err))
}

func NewCmdRoot() *cobra.Command {
	var (
		cleanup bool
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "skiff",
		Short: "Push-deploy a Dockerized application to a remote host over SSH",
		Long: `Skiff deploys an application from a Git repository to a single remote Linux
host: it stages the source locally, provisions Docker and Nginx on the host,
mirrors the files, starts the containers and installs a reverse proxy route.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cleanup, debug)
		},
	}

	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Remove the deployment from the remote host instead of deploying")
	cmd.Flags().BoolVar(&debug, "debug", false, "Shorthand for --log-level debug")
	cmd.PersistentFlags().VarP(logging.LogLevel, "log-level", "l", "Set log verbosity level")
	cmd.PersistentFlags().VarP(output.NoColor, "no-color", "c", "Disable colored terminal output")

	return cmd
}

func run(ctx context.Context, cleanup, debug bool) error {
	output.InitColors(output.NoColor.IsSet())

	cfg, err := config.New()
	if err != nil {
		return pipeline.Fail(pipeline.KindInvalidInput, err)
	}

	// Prompting happens before logging goes to a file, so the interactive
	// exchange stays off the record
	if err := prompt.New().Complete(cfg, cleanup); err != nil {
		return pipeline.Fail(pipeline.KindInvalidInput, err)
	}

	cfg.Derive()

	if err := cfg.Validate(cleanup); err != nil {
		return pipeline.Fail(pipeline.KindInvalidInput, err)
	}

	logLevel := cfg.LogLevel
	if logging.LogLevel.IsSet() {
		logLevel = logging.LogLevel.String()
	}
	if debug {
		logLevel = "debug"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return pipeline.Fail(pipeline.KindInvalidInput, err)
	}
	// The log file lands next to where the operator ran the command
	logFile, err := logging.InitLoggingWithFile(logLevel, ".")
	if err != nil {
		// Degrade to stderr-only rather than refusing to run
		logging.InitLogging(logLevel)
	} else {
		fmt.Print(output.PrintMessage(output.Plain, "Logging to %s", logFile))
	}

	client, err := remote.Dial(remote.ClientConfig{
		User:           cfg.RemoteUser,
		Host:           cfg.RemoteHost,
		Port:           cfg.SSHPort,
		KeyPath:        cfg.SSHKeyPath,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		return pipeline.Fail(pipeline.KindConnectivity, err)
	}
	defer client.Close() // nolint:errcheck

	p := pipeline.New(cfg, client)

	if cleanup {
		if err := p.Teardown(ctx); err != nil {
			return err
		}
		fmt.Print(output.PrintMessage(output.Success, "Removed %s from %s", cfg.AppName, cfg.RemoteHost))
		return nil
	}

	result, err := p.Deploy(ctx)
	if err != nil {
		return err
	}

	table, err := output.PrintValidationReport(result.Report)
	if err == nil {
		fmt.Print(output.PrintMessage(output.Plain, "Deployment status:"))
		fmt.Print(table)
	}

	if result.AppLogs != "" {
		fmt.Print(output.PrintMessage(output.Plain, "Application logs:"))
		fmt.Println(result.AppLogs)
	}

	fmt.Print(output.PrintMessage(output.Success, "Deployed %s to http://%s%s",
		cfg.AppName, cfg.RemoteHost, portSuffix(cfg.PublicPort)))
	return nil
}

func portSuffix(publicPort int) string {
	if publicPort == 80 {
		return ""
	}
	return fmt.Sprintf(":%d", publicPort)
}
