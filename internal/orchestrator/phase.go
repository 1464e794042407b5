package orchestrator

import (
	"github.com/mattjoyce/snapshot-exporter/internal/gateway"
	"github.com/mattjoyce/snapshot-exporter/internal/job"
)

// phase is one position of the workflow. Each variant carries only what the
// next step needs.
type phase interface {
	name() string
}

// received: nothing has been started yet.
type received struct{}

// restoring: the working cluster has been requested.
type restoring struct {
	clusterID string
}

// snapshotting: the working snapshot has been requested.
type snapshotting struct {
	clusterID  string
	snapshotID string
}

// exporting: the export task has been started.
type exporting struct {
	snapshotID string
	taskID     string
}

// cleaningUp: the workflow is over; working resources must go before the job
// reaches final.
type cleaningUp struct {
	final    job.State
	failedIn job.State
	kind     gateway.ErrorKind
	cause    error
	deferred bool
}

// superseded: another invocation took the job over; this one must stop
// without touching the working resources.
type superseded struct{}

func (received) name() string     { return "received" }
func (restoring) name() string    { return "restoring" }
func (snapshotting) name() string { return "snapshotting" }
func (exporting) name() string    { return "exporting" }
func (cleaningUp) name() string   { return "cleaning_up" }
func (superseded) name() string   { return "superseded" }
