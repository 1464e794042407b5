package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mattjoyce/snapshot-exporter/internal/job"
	"github.com/mattjoyce/snapshot-exporter/internal/ledger"
	"github.com/mattjoyce/snapshot-exporter/internal/notification"
	"github.com/mattjoyce/snapshot-exporter/internal/orchestrator"
	"github.com/mattjoyce/snapshot-exporter/internal/report"
	"github.com/mattjoyce/snapshot-exporter/internal/scheduler"
)

// defaultReportTimeout bounds report delivery after the workflow finished.
const defaultReportTimeout = 30 * time.Second

// Decision is what happened to a notification.
type Decision string

const (
	DecisionIgnored   Decision = "ignored"
	DecisionDuplicate Decision = "duplicate"
	DecisionCompleted Decision = "completed"
	DecisionStarted   Decision = "started"
)

// Ticket describes the admission of one notification.
type Ticket struct {
	JobID    string              `json:"job_id,omitempty"`
	Decision Decision            `json:"status"`
	Claim    ledger.ClaimOutcome `json:"claim,omitempty"`
	Reason   string              `json:"reason,omitempty"`
}

// Claimer is the part of the ledger the dispatcher needs.
type Claimer interface {
	Claim(ctx context.Context, candidate *job.ExportJob, staleAfter time.Duration) (ledger.Claim, error)
}

// Workflow drives a claimed job to a terminal state.
type Workflow interface {
	Run(ctx context.Context, j *job.ExportJob, budget *scheduler.Budget) orchestrator.Outcome
}

// Config bounds one invocation.
type Config struct {
	DBName           string
	StaleAfter       time.Duration
	InvocationBudget time.Duration
	CleanupReserve   time.Duration
	ReportTimeout    time.Duration
}

// Dispatcher admits notifications and executes the jobs they claim.
type Dispatcher struct {
	filter   *notification.Filter
	claimer  Claimer
	workflow Workflow
	reporter report.Reporter
	clock    clockwork.Clock
	cfg      Config
	logger   *slog.Logger
}

// New creates a Dispatcher. A nil clock means the real clock.
func New(filter *notification.Filter, claimer Claimer, workflow Workflow, reporter report.Reporter, clock clockwork.Clock, cfg Config, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = defaultReportTimeout
	}
	return &Dispatcher{
		filter:   filter,
		claimer:  claimer,
		workflow: workflow,
		reporter: reporter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With("component", "dispatch"),
	}
}

// Dispatch admits n and, when it claims a job, runs it to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, n notification.LifecycleNotification) (Ticket, error) {
	ticket, j, err := d.Admit(ctx, n)
	if err != nil || j == nil {
		return ticket, err
	}
	d.Execute(ctx, j)
	return ticket, nil
}

// Admit filters n and claims its origin snapshot. The returned job is nil
// unless this caller now owns a runnable job.
func (d *Dispatcher) Admit(ctx context.Context, n notification.LifecycleNotification) (Ticket, *job.ExportJob, error) {
	logger := d.logger.With("source_id", n.SourceID, "event_id", n.EventID, "message_id", n.MessageID)

	if ok, reason := d.filter.Evaluate(n); !ok {
		logger.Info("notification ignored", "reason", reason, "source_type", n.SourceType, "category", n.EventCategory)
		return Ticket{Decision: DecisionIgnored, Reason: reason}, nil, nil
	}

	candidate := job.New(job.DeriveID(n.SourceID, n.Timestamp), n.SourceID, d.clock.Now())
	candidate.OriginSnapshotARN = n.SourceARN
	candidate.SourceType = string(n.SourceType)
	candidate.Lease = uuid.NewString()

	claim, err := d.claimer.Claim(ctx, candidate, d.cfg.StaleAfter)
	if err != nil {
		return Ticket{}, nil, fmt.Errorf("claim %s: %w", n.SourceID, err)
	}

	ticket := Ticket{JobID: claim.Job.JobID, Claim: claim.Outcome}
	logger = logger.With("job_id", claim.Job.JobID, "claim", claim.Outcome)
	switch claim.Outcome {
	case ledger.ClaimDuplicate:
		ticket.Decision = DecisionDuplicate
		ticket.Reason = "export already in flight (" + string(claim.Job.State) + ")"
		logger.Info("notification is a replay of an in-flight export", "state", claim.Job.State)
		return ticket, nil, nil
	case ledger.ClaimCompleted:
		ticket.Decision = DecisionCompleted
		ticket.Reason = "snapshot already exported"
		logger.Info("snapshot already exported")
		return ticket, nil, nil
	}

	ticket.Decision = DecisionStarted
	logger.Info("export job claimed")
	return ticket, claim.Job, nil
}

// Execute runs a claimed job under the invocation budget and reports the
// result. It returns nil when another invocation took the job over.
func (d *Dispatcher) Execute(ctx context.Context, j *job.ExportJob) *report.Report {
	budget := scheduler.BudgetFor(ctx, d.clock, d.cfg.InvocationBudget, d.cfg.CleanupReserve)
	out := d.workflow.Run(ctx, j, budget)
	if out.Superseded {
		d.logger.Warn("export job continued by another invocation", "job_id", j.JobID, "state", out.Final)
		return nil
	}

	rep := report.Build(out, d.cfg.DBName, d.clock.Now())
	if d.reporter == nil {
		return &rep
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.ReportTimeout)
	defer cancel()
	if err := d.reporter.Report(rctx, rep); err != nil {
		d.logger.Error("failed to deliver report", "job_id", rep.JobID, "state", rep.State, "error", err)
	}
	return &rep
}
