// Package orchestrator drives one export job through restore, snapshot,
// export and cleanup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/snapshot-exporter/internal/cleanup"
	"github.com/mattjoyce/snapshot-exporter/internal/gateway"
	"github.com/mattjoyce/snapshot-exporter/internal/job"
	"github.com/mattjoyce/snapshot-exporter/internal/ledger"
	"github.com/mattjoyce/snapshot-exporter/internal/scheduler"
	"github.com/mattjoyce/snapshot-exporter/internal/telemetry"
)

var errInsufficientBudget = errors.New("insufficient invocation budget")

// Store persists job transitions.
type Store interface {
	Save(ctx context.Context, j *job.ExportJob, from job.State) error
}

// Cleaner disposes of a job's working resources.
type Cleaner interface {
	Cleanup(ctx context.Context, j *job.ExportJob) cleanup.Report
}

// Config holds destination settings and step limits.
type Config struct {
	Naming     job.Naming
	Bucket     string
	IAMRoleARN string
	KMSKeyID   string

	// AttemptBudget bounds the calls made for each start step.
	AttemptBudget int
	RetryBase     time.Duration
	PollBase      time.Duration

	RestoreWait  time.Duration
	SnapshotWait time.Duration
	ExportWait   time.Duration

	// MinStepBudget is the usable time a start call needs to be issued at all.
	MinStepBudget time.Duration
}

// Outcome is the result of Run.
type Outcome struct {
	Job *job.ExportJob
	// Final is the terminal state reached, or the state the job was left in
	// when Superseded.
	Final job.State
	// LastState is the state the workflow was in when it stopped progressing.
	LastState  job.State
	ErrorKind  gateway.ErrorKind
	Cause      error
	Deferred   bool
	Superseded bool
	ExportPath string
	Cleanup    cleanup.Report
}

// Succeeded reports whether the export landed.
func (o Outcome) Succeeded() bool {
	return o.Final == job.StateCrawlReady
}

// Orchestrator runs export jobs. It holds no per-job state.
type Orchestrator struct {
	gw      gateway.Gateway
	sched   *scheduler.Scheduler
	store   Store
	cleaner Cleaner
	tracer  trace.Tracer
	cfg     Config
	logger  *slog.Logger
}

// New builds an Orchestrator.
func New(gw gateway.Gateway, sched *scheduler.Scheduler, store Store, cleaner Cleaner, tracer trace.Tracer, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.AttemptBudget < 1 {
		cfg.AttemptBudget = 3
	}
	return &Orchestrator{
		gw:      gw,
		sched:   sched,
		store:   store,
		cleaner: cleaner,
		tracer:  tracer,
		cfg:     cfg,
		logger:  logger.With("component", "orchestrator"),
	}
}

// Run drives j, which must be in RECEIVED, until it reaches a terminal state
// or the lease is lost. Working resources recorded on j are always handed to
// the cleaner before a terminal state is written.
func (o *Orchestrator) Run(ctx context.Context, j *job.ExportJob, budget *scheduler.Budget) Outcome {
	logger := o.logger.With("job_id", j.JobID, "origin_snapshot_id", j.OriginSnapshotID)
	ctx, span := telemetry.StartSpan(ctx, o.tracer, "orchestrator.run",
		attribute.String(telemetry.JobIDKey, j.JobID),
		attribute.String(telemetry.OriginKey, j.OriginSnapshotID),
	)
	defer span.End()

	if j.State != job.StateReceived {
		err := fmt.Errorf("job %s is %s, expected %s", j.JobID, j.State, job.StateReceived)
		telemetry.SetError(span, err)
		return Outcome{Job: j, Final: j.State, LastState: j.State, Cause: err}
	}

	var p phase = received{}
	for {
		logger.Debug("entering phase", "phase", p.name())
		switch cur := p.(type) {
		case received:
			p = o.startRestore(ctx, j, budget, logger)
		case restoring:
			p = o.afterRestore(ctx, j, budget, cur, logger)
		case snapshotting:
			p = o.afterSnapshot(ctx, j, budget, cur, logger)
		case exporting:
			p = o.afterExport(ctx, j, budget, cur, logger)
		case cleaningUp:
			out := o.finish(ctx, j, budget, cur, logger)
			span.SetAttributes(attribute.String(telemetry.StateKey, string(out.Final)))
			if out.Cause != nil {
				telemetry.SetError(span, out.Cause, attribute.String(telemetry.ErrorKindKey, string(out.ErrorKind)))
			}
			return out
		case superseded:
			span.SetAttributes(attribute.Bool("snapexp.superseded", true))
			return Outcome{Job: j, Final: j.State, LastState: j.State, Superseded: true}
		default:
			panic(fmt.Sprintf("orchestrator: unhandled phase %T", p))
		}
	}
}

func (o *Orchestrator) startRestore(ctx context.Context, j *job.ExportJob, budget *scheduler.Budget, logger *slog.Logger) phase {
	clusterID := o.cfg.Naming.ClusterID(j.JobID)
	req := gateway.RestoreRequest{
		SnapshotID: snapshotRef(j),
		ClusterID:  clusterID,
		JobID:      j.JobID,
		OriginID:   j.OriginSnapshotID,
	}
	sr := o.start(ctx, j, budget, job.StepRestore, logger, func(ctx context.Context) gateway.StepResult {
		return o.gw.RestoreClusterFromSnapshot(ctx, req)
	})
	if sr.ambiguous || sr.next == nil {
		j.WorkingClusterID = clusterID
	}
	if sr.next != nil {
		return sr.next
	}
	if !o.advance(ctx, j, job.StateRestoring, logger) {
		return superseded{}
	}
	return restoring{clusterID: clusterID}
}

func (o *Orchestrator) afterRestore(ctx context.Context, j *job.ExportJob, budget *scheduler.Budget, cur restoring, logger *slog.Logger) phase {
	if next := o.await(ctx, j, budget, job.StepRestore, cur.clusterID, o.cfg.RestoreWait, o.gw.DescribeCluster, logger); next != nil {
		return next
	}

	snapshotID := o.cfg.Naming.SnapshotID(j.JobID)
	req := gateway.SnapshotRequest{
		ClusterID:  cur.clusterID,
		SnapshotID: snapshotID,
		JobID:      j.JobID,
		OriginID:   j.OriginSnapshotID,
	}
	sr := o.start(ctx, j, budget, job.StepSnapshot, logger, func(ctx context.Context) gateway.StepResult {
		return o.gw.CreateClusterSnapshot(ctx, req)
	})
	if sr.ambiguous || sr.next == nil {
		j.WorkingSnapshotID = snapshotID
	}
	if sr.next != nil {
		return sr.next
	}
	if !o.advance(ctx, j, job.StateSnapshotting, logger) {
		return superseded{}
	}
	return snapshotting{clusterID: cur.clusterID, snapshotID: snapshotID}
}

func (o *Orchestrator) afterSnapshot(ctx context.Context, j *job.ExportJob, budget *scheduler.Budget, cur snapshotting, logger *slog.Logger) phase {
	if next := o.await(ctx, j, budget, job.StepSnapshot, cur.snapshotID, o.cfg.SnapshotWait, o.gw.DescribeClusterSnapshot, logger); next != nil {
		return next
	}

	taskID := o.cfg.Naming.ExportTaskID(j.JobID)
	req := gateway.ExportRequest{
		TaskID:     taskID,
		SnapshotID: cur.snapshotID,
		Bucket:     o.cfg.Bucket,
		Prefix:     o.cfg.Naming.ExportPrefix(j.OriginSnapshotID),
		IAMRoleARN: o.cfg.IAMRoleARN,
		KMSKeyID:   o.cfg.KMSKeyID,
	}
	sr := o.start(ctx, j, budget, job.StepExport, logger, func(ctx context.Context) gateway.StepResult {
		return o.gw.StartExportTask(ctx, req)
	})
	if sr.ambiguous || sr.next == nil {
		j.ExportTaskID = taskID
	}
	if sr.next != nil {
		return sr.next
	}
	if !o.advance(ctx, j, job.StateExporting, logger) {
		return superseded{}
	}
	return exporting{snapshotID: cur.snapshotID, taskID: taskID}
}

func (o *Orchestrator) afterExport(ctx context.Context, j *job.ExportJob, budget *scheduler.Budget, cur exporting, logger *slog.Logger) phase {
	if next := o.await(ctx, j, budget, job.StepExport, cur.taskID, o.cfg.ExportWait, o.gw.DescribeExportStatus, logger); next != nil {
		return next
	}
	logger.Info("export task complete", "export_task_id", cur.taskID, "snapshot_id", cur.snapshotID)
	return cleaningUp{final: job.StateCrawlReady, failedIn: j.State}
}

// abort is the single entry into the failure path.
func (o *Orchestrator) abort(j *job.ExportJob, final job.State, kind gateway.ErrorKind, cause error, deferred bool) phase {
	return cleaningUp{
		final:    final,
		failedIn: j.State,
		kind:     kind,
		cause:    cause,
		deferred: deferred,
	}
}

type startResult struct {
	res      gateway.StepResult
	attempts int
	// ambiguous is set when some attempt may have created the resource even
	// though no success was observed.
	ambiguous bool
	next      phase
}

// start issues a start call within the attempt budget. next is set when the
// workflow cannot go on.
func (o *Orchestrator) start(ctx context.Context, j *job.ExportJob, budget *scheduler.Budget, step job.Step, logger *slog.Logger, call func(context.Context) gateway.StepResult) startResult {
	ctx, span := telemetry.StartSpan(ctx, o.tracer, "orchestrator.start_"+string(step),
		attribute.String(telemetry.JobIDKey, j.JobID),
		attribute.String(telemetry.StepKey, string(step)),
	)
	defer span.End()

	var sr startResult
	starved := false
	sr.res, sr.attempts = scheduler.Retry(ctx, o.sched, o.cfg.AttemptBudget, o.cfg.RetryBase,
		func(ctx context.Context, attempt int) (gateway.StepResult, bool) {
			if !budget.CanStart(o.cfg.MinStepBudget) {
				starved = true
				return gateway.Failure(gateway.KindBudgetExhausted, "", errInsufficientBudget), false
			}
			total := j.Attempt(step)
			r := call(ctx)
			switch {
			case r.Success:
				logger.Info("step started", "step", step, "resource_id", r.ResourceID, "attempt", total)
			case r.Attachable():
				logger.Info("attaching to existing resource", "step", step, "resource_id", r.ResourceID)
			default:
				if r.ErrorKind == gateway.KindTransient || r.ErrorKind == gateway.KindBudgetExhausted {
					sr.ambiguous = true
				}
				logger.Warn("step start failed", "step", step, "attempt", attempt,
					"error_kind", r.ErrorKind, "retryable", r.Retryable, "error", r.Err)
			}
			return r, !r.Success && r.Retryable
		})
	span.SetAttributes(attribute.Int(telemetry.AttemptKey, sr.attempts))

	res := sr.res
	switch {
	case res.Success || res.Attachable():
		span.SetAttributes(attribute.String(telemetry.ResourceIDKey, res.ResourceID))
		return sr
	case starved:
		sr.next = o.abort(j, job.StateAbandoned, gateway.KindBudgetExhausted,
			fmt.Errorf("%s not started: %w", step, errInsufficientBudget), true)
	case res.ErrorKind == gateway.KindBudgetExhausted || ctx.Err() != nil:
		sr.next = o.abort(j, job.StateAbandoned, gateway.KindBudgetExhausted,
			fmt.Errorf("%s interrupted: %w", step, resultErr(res)), true)
	case res.Retryable:
		sr.next = o.abort(j, job.StateFailed, gateway.KindBudgetExhausted,
			fmt.Errorf("%s failed after %d attempts: %w", step, sr.attempts, resultErr(res)), false)
	default:
		sr.next = o.abort(j, job.StateFailed, res.ErrorKind,
			fmt.Errorf("%s rejected: %w", step, resultErr(res)), false)
	}
	telemetry.SetError(span, resultErr(res), attribute.String(telemetry.ErrorKindKey, string(res.ErrorKind)))
	return sr
}

// await polls probe until the resource settles. It returns nil once the
// resource is COMPLETE.
func (o *Orchestrator) await(
	ctx context.Context,
	j *job.ExportJob,
	budget *scheduler.Budget,
	step job.Step,
	id string,
	maxWait time.Duration,
	probe func(context.Context, string) gateway.StatusResult,
	logger *slog.Logger,
) phase {
	ctx, span := telemetry.StartSpan(ctx, o.tracer, "orchestrator.wait_"+string(step),
		attribute.String(telemetry.JobIDKey, j.JobID),
		attribute.String(telemetry.ResourceIDKey, id),
	)
	defer span.End()

	wait := budget.StepWait(maxWait)
	capped := wait < maxWait
	if wait <= 0 {
		err := fmt.Errorf("no budget left to wait for %s %s", step, id)
		telemetry.SetError(span, err)
		return o.abort(j, job.StateAbandoned, gateway.KindBudgetExhausted, err, true)
	}

	var last gateway.StatusResult
	res := o.sched.WaitUntil(ctx, func(ctx context.Context) bool {
		last = probe(ctx, id)
		if !last.Success {
			logger.Debug("status probe failed", "resource_id", id, "error_kind", last.ErrorKind, "error", last.Err)
			return last.ErrorKind == gateway.KindPermanent
		}
		logger.Debug("status probed", "resource_id", id, "status", last.Status, "percent_complete", last.PercentComplete)
		return last.Status.Terminal()
	}, wait, o.cfg.PollBase)

	var next phase
	switch {
	case res.Outcome == scheduler.OutcomeTimeout:
		next = o.abort(j, job.StateAbandoned, gateway.KindBudgetExhausted,
			fmt.Errorf("%s %s not complete after %s", step, id, res.Waited.Round(time.Millisecond)), capped)
	case res.Outcome == scheduler.OutcomeCancelled:
		next = o.abort(j, job.StateAbandoned, gateway.KindBudgetExhausted,
			fmt.Errorf("waiting for %s %s: %w", step, id, context.Cause(ctx)), true)
	case !last.Success:
		next = o.abort(j, job.StateFailed, last.ErrorKind,
			fmt.Errorf("probe %s %s: %w", step, id, resultErr(last.StepResult)), false)
	case last.Status == gateway.StatusFailed:
		detail := last.Detail
		if detail == "" {
			detail = "status " + string(gateway.StatusFailed)
		}
		next = o.abort(j, job.StateFailed, gateway.KindPermanent,
			fmt.Errorf("%s %s failed: %s", step, id, detail), false)
	default:
		logger.Info("resource ready", "step", step, "resource_id", id, "checks", res.Checks, "waited", res.Waited)
		return nil
	}
	span.SetAttributes(attribute.Int("snapexp.checks", res.Checks))
	telemetry.SetError(span, next.(cleaningUp).cause)
	return next
}

// finish runs cleanup on a context detached from ctx's cancellation and
// writes the terminal state.
func (o *Orchestrator) finish(ctx context.Context, j *job.ExportJob, budget *scheduler.Budget, c cleaningUp, logger *slog.Logger) Outcome {
	cctx, cancel := budget.CleanupContext(ctx)
	defer cancel()
	cctx, span := telemetry.StartSpan(cctx, o.tracer, "orchestrator.cleanup",
		attribute.String(telemetry.JobIDKey, j.JobID),
	)
	defer span.End()

	if c.cause != nil {
		j.RecordError(string(c.kind), c.cause)
		logger.Error("export workflow stopped", "failed_in", c.failedIn, "final", c.final,
			"error_kind", c.kind, "deferred", c.deferred, "error", c.cause)
	}

	if !o.advance(cctx, j, job.StateCleaningUp, logger) {
		return Outcome{Job: j, Final: j.State, LastState: c.failedIn, Superseded: true}
	}
	rep := o.cleaner.Cleanup(cctx, j)
	if !rep.Clean() {
		span.SetAttributes(attribute.Int("snapexp.cleanup.unresolved", len(rep.Unresolved)))
	}
	o.advance(cctx, j, c.final, logger)

	out := Outcome{
		Job:       j,
		Final:     c.final,
		LastState: c.failedIn,
		ErrorKind: c.kind,
		Cause:     c.cause,
		Deferred:  c.deferred,
		Cleanup:   rep,
	}
	if c.final == job.StateCrawlReady {
		out.ExportPath = o.cfg.Naming.ExportPath(o.cfg.Bucket, j.OriginSnapshotID, j.ExportTaskID)
	}
	return out
}

// advance moves j to state to and persists it. It reports false only when
// another invocation holds the job; other persistence failures are logged
// and the workflow carries on so working resources still get cleaned up.
func (o *Orchestrator) advance(ctx context.Context, j *job.ExportJob, to job.State, logger *slog.Logger) bool {
	from := j.State
	if err := j.Transition(to, o.sched.Clock().Now()); err != nil {
		logger.Error("state transition rejected", "error", err)
		return true
	}
	logger.Info("job state changed", "from", from, "to", to)

	err := o.store.Save(ctx, j, from)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ledger.ErrLeaseLost):
		logger.Warn("job lease lost to another invocation", "state", to)
		return false
	default:
		logger.Error("failed to persist job state", "state", to, "error", err)
		return true
	}
}

func snapshotRef(j *job.ExportJob) string {
	if j.OriginSnapshotARN != "" {
		return j.OriginSnapshotARN
	}
	return j.OriginSnapshotID
}

func resultErr(r gateway.StepResult) error {
	if r.Err != nil {
		return r.Err
	}
	return errors.New(r.Error())
}
