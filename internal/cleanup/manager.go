// Package cleanup disposes of the transient resources an export job created.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/snapshot-exporter/internal/gateway"
	"github.com/mattjoyce/snapshot-exporter/internal/job"
	"github.com/mattjoyce/snapshot-exporter/internal/scheduler"
)

// MarkerSink stores unresolved-cleanup markers for out-of-band remediation.
type MarkerSink interface {
	RecordUnresolvedCleanup(ctx context.Context, m job.CleanupMarker) error
}

// Config bounds the per-resource retry loop.
type Config struct {
	Attempts  int
	RetryBase time.Duration
}

// Deletion is the outcome for one resource.
type Deletion struct {
	ResourceType string
	ResourceID   string
	Attempts     int
	Result       gateway.StepResult
}

// Report summarises a cleanup pass.
type Report struct {
	Deletions  []Deletion
	Unresolved []job.CleanupMarker
}

// Clean reports whether every attempted deletion succeeded.
func (r Report) Clean() bool {
	return len(r.Unresolved) == 0
}

// Manager deletes the working snapshot, then the working cluster.
type Manager struct {
	gw      gateway.Gateway
	sched   *scheduler.Scheduler
	markers MarkerSink
	cfg     Config
	logger  *slog.Logger
}

// New builds a Manager. markers may be nil, in which case unresolved
// resources are only logged and reported.
func New(gw gateway.Gateway, sched *scheduler.Scheduler, markers MarkerSink, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	return &Manager{
		gw:      gw,
		sched:   sched,
		markers: markers,
		cfg:     cfg,
		logger:  logger.With("component", "cleanup"),
	}
}

// Cleanup deletes whatever working resources j recorded. Failures never
// abort the pass; each resource gets its own retry budget. The snapshot is
// removed before the cluster because a cluster delete may be rejected while
// a snapshot operation on it is still running.
func (m *Manager) Cleanup(ctx context.Context, j *job.ExportJob) Report {
	var rep Report
	logger := m.logger.With("job_id", j.JobID)

	if j.WorkingSnapshotID != "" {
		m.delete(ctx, j, &rep, logger, job.ResourceSnapshot, j.WorkingSnapshotID, m.gw.DeleteSnapshot)
	}
	if j.WorkingClusterID != "" {
		m.delete(ctx, j, &rep, logger, job.ResourceCluster, j.WorkingClusterID, m.gw.DeleteCluster)
	}
	return rep
}

func (m *Manager) delete(
	ctx context.Context,
	j *job.ExportJob,
	rep *Report,
	logger *slog.Logger,
	kind, id string,
	del func(context.Context, string) gateway.StepResult,
) {
	res, attempts := scheduler.Retry(ctx, m.sched, m.cfg.Attempts, m.cfg.RetryBase,
		func(ctx context.Context, attempt int) (gateway.StepResult, bool) {
			j.Attempt(job.StepCleanup)
			r := del(ctx, id)
			if !r.Success && r.ErrorKind == gateway.KindNotFound {
				r = gateway.Ok(id)
			}
			if !r.Success {
				logger.Warn("delete attempt failed", "resource_type", kind, "resource_id", id,
					"attempt", attempt, "error_kind", r.ErrorKind, "error", r.Err)
			}
			return r, !r.Success && r.Retryable
		})

	rep.Deletions = append(rep.Deletions, Deletion{ResourceType: kind, ResourceID: id, Attempts: attempts, Result: res})
	if res.Success {
		logger.Info("working resource deleted", "resource_type", kind, "resource_id", id)
		return
	}

	marker := job.CleanupMarker{
		JobID:            j.JobID,
		OriginSnapshotID: j.OriginSnapshotID,
		ResourceType:     kind,
		ResourceID:       id,
		ErrorKind:        string(res.ErrorKind),
		Error:            res.Error(),
		RecordedAt:       m.sched.Clock().Now(),
	}
	rep.Unresolved = append(rep.Unresolved, marker)
	logger.Error("working resource left behind", "resource_type", kind, "resource_id", id,
		"attempts", attempts, "error_kind", res.ErrorKind, "error", res.Err)

	if m.markers == nil {
		return
	}
	if err := m.markers.RecordUnresolvedCleanup(ctx, marker); err != nil {
		logger.Error("failed to record unresolved cleanup marker", "resource_id", id, "error", err)
	}
}
