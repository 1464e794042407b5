package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	cli "github.com/urfave/cli/v3"

	"github.com/mattjoyce/snapshot-exporter/internal/config"
	"github.com/mattjoyce/snapshot-exporter/internal/dispatch"
	"github.com/mattjoyce/snapshot-exporter/internal/webhook"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "snapshot-exporter:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "snapshot-exporter",
		Usage:   "Export database snapshots to object storage as they are created",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to an optional YAML configuration file",
				Sources: cli.EnvVars("SNAPEXP_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			newLambdaCommand(),
			newServeCommand(),
			newCheckCommand(),
		},
		Action: runLambda,
	}
}

func newLambdaCommand() *cli.Command {
	return &cli.Command{
		Name:   "lambda",
		Usage:  "Handle SNS-triggered Lambda invocations (default)",
		Action: runLambda,
	}
}

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Accept HMAC-signed SNS relays over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Listen address, overrides webhook.listen",
				Sources: cli.EnvVars("SNAPEXP_WEBHOOK_LISTEN"),
			},
		},
		Action: runServe,
	}
}

func newCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the configuration and exit",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := config.Resolve(cmd.String("config"), os.LookupEnv)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "configuration ok: db=%s bucket=%s ledger=%s events=%s\n",
				cfg.Target.DBName, cfg.Target.Bucket, ledgerScheme(cfg.Ledger.URL), cfg.Events.Sink)
			return nil
		},
	}
}

func runLambda(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Resolve(cmd.String("config"), os.LookupEnv)
	if err != nil {
		return err
	}
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	a.logger.Info("lambda handler starting", "db_name", cfg.Target.DBName, "version", version)
	lambda.StartWithOptions(a.dispatcher.HandleSNS, lambda.WithContext(ctx))
	return nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Resolve(cmd.String("config"), os.LookupEnv)
	if err != nil {
		return err
	}
	if listen := cmd.String("listen"); listen != "" {
		cfg.Webhook.Listen = listen
	}
	if err := config.ValidateServe(cfg); err != nil {
		return err
	}

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	runner := dispatch.NewRunner(ctx, a.dispatcher)
	srv := webhook.New(webhook.FromConfig(cfg.Webhook), runner, a.logger)
	err = srv.Start(ctx)

	a.logger.Info("waiting for running export jobs")
	runner.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
