package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/mattjoyce/snapshot-exporter/internal/cleanup"
	"github.com/mattjoyce/snapshot-exporter/internal/config"
	"github.com/mattjoyce/snapshot-exporter/internal/dispatch"
	"github.com/mattjoyce/snapshot-exporter/internal/gateway"
	"github.com/mattjoyce/snapshot-exporter/internal/ledger"
	"github.com/mattjoyce/snapshot-exporter/internal/log"
	"github.com/mattjoyce/snapshot-exporter/internal/notification"
	"github.com/mattjoyce/snapshot-exporter/internal/orchestrator"
	"github.com/mattjoyce/snapshot-exporter/internal/report"
	"github.com/mattjoyce/snapshot-exporter/internal/scheduler"
	"github.com/mattjoyce/snapshot-exporter/internal/storage"
	"github.com/mattjoyce/snapshot-exporter/internal/telemetry"
)

// app holds the wired components of one process.
type app struct {
	dispatcher *dispatch.Dispatcher
	ledger     ledger.Ledger
	logger     *slog.Logger
	closers    []func(context.Context) error
}

// Close releases everything build opened, in reverse order.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Error("shutdown step failed", "error", err)
		}
	}
}

// awsClients lets tests build an app without AWS credentials.
type awsClients struct {
	rds  gateway.RDSAPI
	glue report.GlueAPI
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	log.SetupWith(log.Options{Level: cfg.Service.LogLevel, Format: cfg.Service.LogFormat})

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Target.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Target.Region))
	}
	warnEphemeralLedger(log.Get(), cfg.Ledger.URL)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return buildWith(ctx, cfg, log.Get(), awsClients{
		rds:  rds.NewFromConfig(awsCfg),
		glue: glue.NewFromConfig(awsCfg),
	})
}

func buildWith(ctx context.Context, cfg *config.Config, base *slog.Logger, clients awsClients) (_ *app, err error) {
	a := &app{logger: base.With("service", cfg.Service.Name)}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	l, err := ledger.Open(ctx, cfg.Ledger.URL, cfg.Ledger.RedisPrefix)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.ledger = l
	a.closers = append(a.closers, func(context.Context) error { return l.Close() })

	tracer, shutdown, err := telemetry.NewTracer(ctx, cfg.Tracing.Enabled)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.closers = append(a.closers, func(ctx context.Context) error { return shutdown(ctx) })

	wf := cfg.Workflow
	gw := gateway.NewRDS(clients.rds, gateway.RestoreOptions{
		Engine:           cfg.Restore.Engine,
		EngineVersion:    cfg.Restore.EngineVersion,
		EngineMode:       cfg.Restore.EngineMode,
		SubnetGroup:      cfg.Restore.SubnetGroup,
		SecurityGroupIDs: cfg.Restore.SecurityGroupIDs,
		KMSKeyID:         cfg.Restore.KMSKeyID,
	}, wf.CallTimeout, a.logger)

	sched := scheduler.New(nil, scheduler.Policy{
		Multiplier: wf.PollMultiplier,
		Max:        wf.PollMaxInterval,
		Jitter:     wf.Jitter,
	}, a.logger)

	cleaner := cleanup.New(gw, sched, l, cleanup.Config{
		Attempts:  cfg.Cleanup.Attempts,
		RetryBase: cfg.Cleanup.RetryBase,
	}, a.logger)

	orch := orchestrator.New(gw, sched, l, cleaner, tracer, orchestrator.Config{
		Naming:        cfg.Naming(),
		Bucket:        cfg.Target.Bucket,
		IAMRoleARN:    cfg.Target.IAMRoleARN,
		KMSKeyID:      cfg.Target.KMSKeyID,
		AttemptBudget: wf.AttemptBudget,
		RetryBase:     wf.RetryBase,
		PollBase:      wf.PollBase,
		RestoreWait:   wf.RestoreWait,
		SnapshotWait:  wf.SnapshotWait,
		ExportWait:    wf.ExportWait,
		MinStepBudget: wf.MinStepBudget,
	}, a.logger)

	reporters := report.Multi{report.NewLogReporter(a.logger)}
	pub, err := report.NewPublisher(cfg.Events.Sink, cfg.Events.Brokers, watermill.NewSlogLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("event publisher: %w", err)
	}
	if pub != nil {
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		reporters = append(reporters, report.NewEventPublisher(pub, cfg.Events.Topic))
	}
	if cfg.Crawler.Enabled {
		if clients.glue == nil {
			return nil, errors.New("crawler enabled without a glue client")
		}
		reporters = append(reporters, report.NewGlueCrawler(clients.glue, cfg.Crawler.Name, a.logger))
	}

	filter := notification.NewFilter(notification.FilterConfig{
		DBName:        cfg.Target.DBName,
		WorkingPrefix: cfg.Filter.WorkingPrefix,
		Categories:    cfg.Filter.Categories,
	})

	a.dispatcher = dispatch.New(filter, l, orch, reporters, nil, dispatch.Config{
		DBName:           cfg.Target.DBName,
		StaleAfter:       wf.StaleAfter,
		InvocationBudget: wf.InvocationBudget,
		CleanupReserve:   wf.CleanupReserve,
	}, a.logger)

	a.logger.Info("snapshot exporter wired",
		"db_name", cfg.Target.DBName,
		"ledger", ledgerScheme(cfg.Ledger.URL),
		"event_sink", cfg.Events.Sink,
		"crawler", cfg.Crawler.Enabled,
		"tracing", cfg.Tracing.Enabled,
	)
	return a, nil
}

// warnEphemeralLedger flags a SQLite ledger that cannot deduplicate across
// sandboxes, such as the default path inside a Lambda function.
func warnEphemeralLedger(logger *slog.Logger, url string) {
	if ledgerScheme(url) != "sqlite" {
		return
	}
	rep, err := storage.InspectSQLitePath(strings.TrimPrefix(url, "sqlite://"), os.LookupEnv)
	if err != nil || rep.Placement != storage.PlacementEphemeral {
		return
	}
	logger.Warn("ledger is on sandbox-local storage; concurrent invocations will not share claims",
		"path", rep.Path, "filesystem", rep.FSType)
}

// ledgerScheme names the ledger backend without leaking credentials.
func ledgerScheme(url string) string {
	if i := strings.Index(url, "://"); i > 0 {
		return url[:i]
	}
	return "sqlite"
}
